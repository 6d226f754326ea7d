package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOptions = Options{MaxCallStackSize: 256, OutputMaxSize: 1024}

func materialize(t *testing.T, code, entryPoint string) *Sandbox {
	t.Helper()
	s, err := Materialize(context.Background(), code, entryPoint, testOptions)
	require.NoError(t, err)
	return s
}

func call(t *testing.T, s *Sandbox, input string) goja.Value {
	t.Helper()
	arg, err := s.Decode(context.Background(), input)
	require.NoError(t, err)
	result, err := s.Call(context.Background(), arg)
	require.NoError(t, err)
	return result
}

func TestMaterializeTopLevelFunction(t *testing.T) {
	s := materialize(t, `function solution(s) { return s.split(" ").join(""); }`, "solution")

	assert.Equal(t, "solution", s.EntryPoint())
	assert.Equal(t, "HelloWorld", call(t, s, `"  Hello  World  "`).String())
}

func TestMaterializeLexicalBinding(t *testing.T) {
	s := materialize(t, `const double = (n) => n * 2;`, "double")
	assert.Equal(t, int64(42), call(t, s, "21").ToInteger())
}

func TestMaterializeExportedFunction(t *testing.T) {
	s := materialize(t, `module.exports.solution = function (n) { return n + 1; };`, "solution")
	assert.Equal(t, int64(2), call(t, s, "1").ToInteger())

	s = materialize(t, `exports.solution = function (n) { return n - 1; };`, "solution")
	assert.Equal(t, int64(0), call(t, s, "1").ToInteger())
}

func TestMaterializeFailures(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		entryPoint string
		contains   string
	}{
		{
			name:       "missing entry point",
			code:       `function other() {}`,
			entryPoint: "solution",
			contains:   `entry point "solution" is not defined`,
		},
		{
			name:       "entry point is not a function",
			code:       `var solution = 42;`,
			entryPoint: "solution",
			contains:   "is not a function",
		},
		{
			name:       "top-level throw",
			code:       `throw new Error("boom"); function solution() {}`,
			entryPoint: "solution",
			contains:   "boom",
		},
		{
			name:       "top-level reference error",
			code:       `undefinedThing.call(); function solution() {}`,
			entryPoint: "solution",
			contains:   "ReferenceError",
		},
		{
			name:       "invalid entry point name",
			code:       `function solution() {}`,
			entryPoint: "solution()",
			contains:   "invalid entry point name",
		},
		{
			name:       "unparsable code",
			code:       `function solution( {`,
			entryPoint: "solution",
			contains:   "failed to load compiled code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Materialize(context.Background(), tt.code, tt.entryPoint, testOptions)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConstruction))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestMaterializeTopLevelTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Materialize(ctx, `while (true) {} function solution() {}`, "solution", testOptions)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConstruction))
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestSandboxesAreIsolated(t *testing.T) {
	code := `var counter = 0; function solution() { counter++; globalThis.leaked = counter; return counter; }`

	first := materialize(t, code, "solution")
	assert.Equal(t, int64(1), call(t, first, "null").ToInteger())
	assert.Equal(t, int64(2), call(t, first, "null").ToInteger())

	second := materialize(t, code, "solution")
	assert.Equal(t, int64(1), call(t, second, "null").ToInteger())
}

func TestNoHostGlobals(t *testing.T) {
	s := materialize(t, `function solution() {
  return [typeof require, typeof process, typeof setTimeout, typeof fetch, typeof XMLHttpRequest].join(",");
}`, "solution")

	assert.Equal(t, "undefined,undefined,undefined,undefined,undefined", call(t, s, "null").String())
}

func TestCallTimeoutLeavesSandboxUsable(t *testing.T) {
	s := materialize(t, `function solution(spin) { if (spin) { for (;;) {} } return "done"; }`, "solution")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	arg, err := s.Decode(context.Background(), "true")
	require.NoError(t, err)
	_, err = s.Call(ctx, arg)
	assert.ErrorIs(t, err, ErrTimeout)

	assert.Equal(t, "done", call(t, s, "false").String())
}

func TestCallCanceled(t *testing.T) {
	s := materialize(t, `function solution() { return 1; }`, "solution")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Call(ctx, goja.Undefined())
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestCallThrown(t *testing.T) {
	s := materialize(t, `function solution(o) { if (o.fail) { throw new TypeError("bad input"); } return o.missing.length; }`, "solution")

	arg, err := s.Decode(context.Background(), `{"fail": true}`)
	require.NoError(t, err)
	_, err = s.Call(context.Background(), arg)
	var thrown *ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, "TypeError: bad input", thrown.Message)

	arg, err = s.Decode(context.Background(), `{}`)
	require.NoError(t, err)
	_, err = s.Call(context.Background(), arg)
	require.ErrorAs(t, err, &thrown)
	assert.Contains(t, thrown.Message, "TypeError")
}

func TestCallThrownPrimitive(t *testing.T) {
	s := materialize(t, `function solution() { throw "plain"; }`, "solution")

	_, err := s.Call(context.Background(), goja.Undefined())
	var thrown *ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, "plain", thrown.Message)
}

func TestRunawayRecursion(t *testing.T) {
	s := materialize(t, `function solution(n) { return solution(n + 1); }`, "solution")

	_, err := s.Call(context.Background(), s.vm.ToValue(0))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestInterrupt(t *testing.T) {
	s := materialize(t, `function solution() { for (;;) {} }`, "solution")

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Interrupt("stopped by test")
	}()

	_, err := s.Call(context.Background(), goja.Undefined())
	var thrown *ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Contains(t, thrown.Message, "stopped by test")
}

func TestDecodeUsesPristineJSON(t *testing.T) {
	s := materialize(t, `JSON.parse = function () { return 42; }; JSON.stringify = function () { return "x"; };
function solution(v) { return v; }`, "solution")

	v, err := s.Decode(context.Background(), `"a"`)
	require.NoError(t, err)
	assert.Equal(t, "a", v.String())
	_, reason, err := s.Compare(context.Background(), call(t, s, `{"a":[1,2]}`), goja.Null())
	require.NoError(t, err)
	assert.Equal(t, `expected null, got {"a":[1,2]}`, reason)
}

func TestDecodeError(t *testing.T) {
	s := materialize(t, `function solution(v) { return v; }`, "solution")

	_, err := s.Decode(context.Background(), `{not json`)
	var thrown *ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Contains(t, thrown.Message, "SyntaxError")
}

func TestEqual(t *testing.T) {
	s := materialize(t, `function solution(v) { return v; }
function fn() { return function () {}; }`, "solution")

	decode := func(text string) goja.Value {
		v, err := s.Decode(context.Background(), text)
		require.NoError(t, err)
		return v
	}

	tests := []struct {
		name     string
		actual   goja.Value
		expected goja.Value
		equal    bool
	}{
		{"same string", decode(`"HelloWorld"`), decode(`"HelloWorld"`), true},
		{"trailing whitespace", decode(`"HelloWorld "`), decode(`"HelloWorld"`), false},
		{"number vs string", decode(`1`), decode(`"1"`), false},
		{"integers and floats", decode(`1`), decode(`1.0`), true},
		{"null", decode(`null`), decode(`null`), true},
		{"undefined vs null", goja.Undefined(), decode(`null`), false},
		{"nil is undefined", nil, goja.Undefined(), true},
		{"arrays", decode(`[1,"a",{"b":true}]`), decode(`[1,"a",{"b":true}]`), true},
		{"array order", decode(`[1,2]`), decode(`[2,1]`), false},
		{"object vs primitive", decode(`[1]`), decode(`1`), false},
		{"nan", s.vm.ToValue(s.vm.Get("NaN")), s.vm.ToValue(s.vm.Get("NaN")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			equal, _, err := s.Compare(context.Background(), tt.actual, tt.expected)
			require.NoError(t, err)
			assert.Equal(t, tt.equal, equal)
		})
	}

	fn, err := s.vm.RunString("fn()")
	require.NoError(t, err)
	equal, _, err := s.Compare(context.Background(), fn, fn)
	require.NoError(t, err)
	assert.False(t, equal)
}

func TestCompareReason(t *testing.T) {
	s := materialize(t, `function solution(v) { return v; }`, "solution")

	tests := []struct {
		name     string
		actual   goja.Value
		expected goja.Value
		reason   string
	}{
		{"undefined", goja.Undefined(), s.vm.ToValue(1), "expected 1, got undefined"},
		{"nil", nil, s.vm.ToValue("a"), `expected "a", got undefined`},
		{"null", goja.Null(), s.vm.ToValue("a"), `expected "a", got null`},
		{"string", s.vm.ToValue("b"), s.vm.ToValue("a"), `expected "a", got "b"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			equal, reason, err := s.Compare(context.Background(), tt.actual, tt.expected)
			require.NoError(t, err)
			assert.False(t, equal)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestCompareFallsBackToStringForm(t *testing.T) {
	s := materialize(t, `function solution() { return function named() {}; }`, "solution")

	fn, err := s.Call(context.Background(), goja.Undefined())
	require.NoError(t, err)

	equal, reason, err := s.Compare(context.Background(), fn, s.vm.ToValue(1))
	require.NoError(t, err)
	assert.False(t, equal)
	assert.Contains(t, reason, "function named()")
}

func TestConsoleCapture(t *testing.T) {
	s := materialize(t, `console.log("loaded");
function solution(x) { console.log("hi", x, { a: 1 }); console.error(undefined, null); return x; }`, "solution")

	assert.Equal(t, "loaded\n", s.TakeOutput())

	call(t, s, "5")
	assert.Equal(t, "hi 5 {\"a\":1}\nundefined null\n", s.TakeOutput())
	assert.Empty(t, s.TakeOutput())
}

func TestConsoleCaptureTruncates(t *testing.T) {
	s, err := Materialize(context.Background(), `function solution() { for (let i = 0; i < 100; i++) { console.log("0123456789"); } }`,
		"solution", Options{MaxCallStackSize: 256, OutputMaxSize: 32})
	require.NoError(t, err)

	_, err = s.Call(context.Background(), goja.Undefined())
	require.NoError(t, err)

	out := s.TakeOutput()
	assert.LessOrEqual(t, len(out), 32+len(truncatedMarker))
	assert.Contains(t, out, truncatedMarker)
}

func TestCompareRunsUnderDeadline(t *testing.T) {
	s := materialize(t, `function solution(kind) {
  if (kind === "toJSON") { return { toJSON() { while (true) {} } }; }
  if (kind === "getter") { return { get x() { while (true) {} } }; }
  if (kind === "toString") { return { toString() { while (true) {} }, toJSON() { return undefined; } }; }
  return { x: kind };
}`, "solution")

	expected, err := s.Decode(context.Background(), `{"x":1}`)
	require.NoError(t, err)

	for _, kind := range []string{"toJSON", "getter", "toString"} {
		t.Run(kind, func(t *testing.T) {
			actual := call(t, s, `"`+kind+`"`)

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			start := time.Now()
			_, _, err := s.Compare(ctx, actual, expected)
			assert.ErrorIs(t, err, ErrTimeout)
			assert.Less(t, time.Since(start), 5*time.Second)
		})
	}

	// still usable afterwards
	other, err := s.Decode(context.Background(), `{"x":"other"}`)
	require.NoError(t, err)
	equal, _, err := s.Compare(context.Background(), call(t, s, `"other"`), other)
	require.NoError(t, err)
	assert.True(t, equal)
}

func TestThrownValueRenderingRunsUnderDeadline(t *testing.T) {
	s := materialize(t, `function solution() { throw { toString() { while (true) {} } }; }`, "solution")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Call(ctx, goja.Undefined())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestThrownValueWithThrowingToString(t *testing.T) {
	s := materialize(t, `function solution() { throw { toString() { throw new Error("nested"); } }; }`, "solution")

	_, err := s.Call(context.Background(), goja.Undefined())
	var thrown *ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, "uncaught exception "+unprintable, thrown.Message)
}

func TestMaterializeRunsUserCodeUnderDeadline(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{
			name: "thrown value with looping toString",
			code: `throw { toString() { while (true) {} } }; function solution() {}`,
		},
		{
			name: "looping global getter",
			code: `Object.defineProperty(globalThis, "solution", { get() { while (true) {} } });`,
		},
		{
			name: "looping export getter",
			code: `Object.defineProperty(module.exports, "solution", { get() { while (true) {} } });`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			_, err := Materialize(ctx, tt.code, "solution", testOptions)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConstruction))
			assert.True(t, errors.Is(err, ErrTimeout))
		})
	}
}

func TestMaterializeReplacedExports(t *testing.T) {
	s := materialize(t, `module.exports = { solution: (n) => n * 3 };`, "solution")
	assert.Equal(t, int64(9), call(t, s, "3").ToInteger())

	_, err := Materialize(context.Background(), `module.exports = null;`, "solution", testOptions)
	assert.ErrorContains(t, err, `entry point "solution" is not defined`)
}

func TestConsoleUnprintableArgument(t *testing.T) {
	s := materialize(t, `function solution() {
  const bad = { toJSON() { throw new Error("no json"); }, toString() { throw new Error("no text"); } };
  console.log("value", bad);
  return 1;
}`, "solution")

	call(t, s, "null")
	assert.Equal(t, "value "+unprintable+"\n", s.TakeOutput())
}

func TestConsoleTruncationKeepsRunesWhole(t *testing.T) {
	for limit := 1; limit <= 12; limit++ {
		b := newOutputBuffer(limit)
		b.writeLine("ééééé")
		b.writeLine("more")

		out := b.take()
		assert.True(t, utf8.ValidString(out), "limit %d: %q", limit, out)
		assert.True(t, strings.HasSuffix(out, truncatedMarker), "limit %d: %q", limit, out)
		assert.LessOrEqual(t, len(out), limit+len(truncatedMarker))
	}
}

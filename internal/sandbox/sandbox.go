package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"
)

// UnitName is the script name reported in stack traces
const UnitName = "submission.js"

// InjectedGlobals are the bindings every sandbox adds to the ECMAScript builtins
var InjectedGlobals = []string{"module", "exports", "console"}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Options bounds a sandbox
type Options struct {
	// MaxCallStackSize limits call depth; runaway recursion throws a RangeError.
	MaxCallStackSize int

	// OutputMaxSize caps captured console output in bytes. Zero disables capture.
	OutputMaxSize int
}

// Sandbox is a fresh interpreter holding one evaluated submission.
// It must be used from one goroutine at a time.
type Sandbox struct {
	vm         *goja.Runtime
	entry      goja.Callable
	entryName  string
	jsonParse  goja.Callable
	jsonEncode goja.Callable
	toText     goja.Callable
	exportOf   goja.Callable
	console    *outputBuffer
	logger     *logrus.Entry
}

// exportLookup reads module.exports[name] without tripping over a replaced
// or nulled exports object.
const exportLookup = `(function (module, name) {
  var exports = module.exports;
  return exports == null ? undefined : exports[name];
})`

// Materialize evaluates compiled code in a new interpreter and extracts the
// function bound to entryPoint. Failures are *ConstructionError.
func Materialize(ctx context.Context, code, entryPoint string, opts Options) (*Sandbox, error) {
	if !identifierPattern.MatchString(entryPoint) {
		return nil, &ConstructionError{Message: fmt.Sprintf("invalid entry point name %q", entryPoint)}
	}

	vm := goja.New()
	if opts.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(opts.MaxCallStackSize)
	}

	s := &Sandbox{
		vm:        vm,
		entryName: entryPoint,
		console:   newOutputBuffer(opts.OutputMaxSize),
		logger:    logrus.WithField("component", "sandbox"),
	}

	// Capture builtins before submitted code can replace them
	if err := s.captureBuiltins(); err != nil {
		return nil, &ConstructionError{Message: "failed to prepare sandbox", Err: err}
	}

	module, err := s.inject()
	if err != nil {
		return nil, &ConstructionError{Message: "failed to prepare sandbox", Err: err}
	}

	program, err := goja.Compile(UnitName, code, true)
	if err != nil {
		return nil, &ConstructionError{Message: "failed to load compiled code", Err: err}
	}

	if err := s.guard(ctx, func() error {
		_, err := vm.RunProgram(program)
		return err
	}); err != nil {
		return nil, &ConstructionError{Message: "top-level evaluation failed", Err: err}
	}

	entry, err := s.lookup(ctx, module)
	if err != nil {
		return nil, err
	}
	s.entry = entry

	return s, nil
}

// captureBuiltins keeps references to the pristine JSON.parse, JSON.stringify
// and String, plus the export reader used by lookup.
func (s *Sandbox) captureBuiltins() error {
	jsonObj := s.vm.Get("JSON")
	if jsonObj == nil {
		return fmt.Errorf("JSON builtin missing")
	}
	obj := jsonObj.ToObject(s.vm)

	parse, ok := goja.AssertFunction(obj.Get("parse"))
	if !ok {
		return fmt.Errorf("JSON.parse is not callable")
	}
	stringify, ok := goja.AssertFunction(obj.Get("stringify"))
	if !ok {
		return fmt.Errorf("JSON.stringify is not callable")
	}
	toText, ok := goja.AssertFunction(s.vm.Get("String"))
	if !ok {
		return fmt.Errorf("String is not callable")
	}

	reader, err := s.vm.RunString(exportLookup)
	if err != nil {
		return fmt.Errorf("failed to build export reader: %w", err)
	}
	exportOf, ok := goja.AssertFunction(reader)
	if !ok {
		return fmt.Errorf("export reader is not callable")
	}

	s.jsonParse = parse
	s.jsonEncode = stringify
	s.toText = toText
	s.exportOf = exportOf
	return nil
}

// inject installs the CommonJS shim and the capturing console
func (s *Sandbox) inject() (*goja.Object, error) {
	exports := s.vm.NewObject()
	module := s.vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	if err := s.vm.Set("module", module); err != nil {
		return nil, err
	}
	if err := s.vm.Set("exports", exports); err != nil {
		return nil, err
	}

	console := s.vm.NewObject()
	for _, method := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(method, s.consoleWrite); err != nil {
			return nil, err
		}
	}
	if err := s.vm.Set("console", console); err != nil {
		return nil, err
	}

	return module, nil
}

// lookup resolves the entry point as a top-level binding, then as an export.
// Both reads may run getters or proxy traps, so they run under ctx.
func (s *Sandbox) lookup(ctx context.Context, module *goja.Object) (goja.Callable, error) {
	var value goja.Value
	err := s.guard(ctx, func() error {
		var err error
		value, err = s.vm.RunString(fmt.Sprintf("typeof %[1]s === 'undefined' ? undefined : %[1]s", s.entryName))
		if err != nil {
			return err
		}
		if value == nil || goja.IsUndefined(value) {
			value, err = s.exportOf(goja.Undefined(), module, s.vm.ToValue(s.entryName))
		}
		return err
	})
	if err != nil {
		return nil, &ConstructionError{Message: fmt.Sprintf("failed to resolve entry point %q", s.entryName), Err: err}
	}

	if value == nil || goja.IsUndefined(value) {
		return nil, &ConstructionError{Message: fmt.Sprintf("entry point %q is not defined", s.entryName)}
	}

	fn, ok := goja.AssertFunction(value)
	if !ok {
		return nil, &ConstructionError{Message: fmt.Sprintf("entry point %q is not a function", s.entryName)}
	}
	return fn, nil
}

// Call invokes the entry point with one argument under ctx
func (s *Sandbox) Call(ctx context.Context, arg goja.Value) (goja.Value, error) {
	var result goja.Value
	err := s.guard(ctx, func() error {
		var err error
		result, err = s.entry(goja.Undefined(), arg)
		return err
	})
	return result, err
}

// Interrupt stops whatever the sandbox is running. The pending call returns
// a ThrownError carrying reason.
func (s *Sandbox) Interrupt(reason string) {
	s.vm.Interrupt(reason)
}

// guard runs fn and interrupts the interpreter when ctx ends. The error is
// classified while the watcher is still armed, since rendering a thrown
// value can run submitted code too.
func (s *Sandbox) guard(ctx context.Context, fn func() error) error {
	if ctx.Err() != nil {
		return contextError(ctx)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			s.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	err := s.classify(ctx, fn())

	close(done)
	wg.Wait()
	// The watcher may have fired after fn returned
	s.vm.ClearInterrupt()

	if err != nil {
		s.logger.WithError(err).Debug("Sandbox call failed")
	}
	return err
}

// Decode parses JSON text into a sandbox value
func (s *Sandbox) Decode(ctx context.Context, text string) (goja.Value, error) {
	var value goja.Value
	err := s.guard(ctx, func() error {
		var err error
		value, err = s.jsonParse(goja.Undefined(), s.vm.ToValue(text))
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Compare reports whether actual matches expected. Primitives use strict
// equality; objects and arrays compare by their JSON encoding. On mismatch
// the second result describes both values. Serialization may run getters,
// toJSON or toString defined by submitted code, so it runs under ctx.
func (s *Sandbox) Compare(ctx context.Context, actual, expected goja.Value) (bool, string, error) {
	var (
		equal  bool
		reason string
	)
	err := s.guard(ctx, func() error {
		var err error
		equal, err = s.equal(actual, expected)
		if err != nil || equal {
			return err
		}

		want, err := s.encode(expected)
		if err != nil {
			return err
		}
		got, err := s.encode(actual)
		if err != nil {
			return err
		}
		reason = fmt.Sprintf("expected %s, got %s", want, got)
		return nil
	})
	if err != nil {
		return false, "", err
	}
	return equal, reason, nil
}

// TakeOutput returns and clears the console output captured so far
func (s *Sandbox) TakeOutput() string {
	return s.console.take()
}

// EntryPoint returns the name of the extracted function
func (s *Sandbox) EntryPoint() string {
	return s.entryName
}

// equal must run under guard
func (s *Sandbox) equal(actual, expected goja.Value) (bool, error) {
	if actual == nil {
		actual = goja.Undefined()
	}
	if expected == nil {
		expected = goja.Undefined()
	}

	actualObj, actualIsObj := actual.(*goja.Object)
	expectedObj, expectedIsObj := expected.(*goja.Object)
	if !actualIsObj && !expectedIsObj {
		return actual.StrictEquals(expected), nil
	}
	if !actualIsObj || !expectedIsObj {
		return false, nil
	}
	if _, fn := goja.AssertFunction(actualObj); fn {
		return false, nil
	}
	if isArray(actualObj) != isArray(expectedObj) {
		return false, nil
	}

	want, err := s.encode(expected)
	if err != nil {
		return false, err
	}
	got, err := s.encode(actual)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

// encode must run under guard. Values JSON cannot represent fall back to
// their string form.
func (s *Sandbox) encode(v goja.Value) (string, error) {
	if v == nil || goja.IsUndefined(v) {
		return "undefined", nil
	}
	encoded, err := s.jsonEncode(goja.Undefined(), v)
	if err != nil {
		return "", err
	}
	if encoded == nil || goja.IsUndefined(encoded) {
		return s.render(v)
	}
	return encoded.String(), nil
}

// render converts a value to text the way String(v) does. Objects go through
// the captured String builtin so user toString runs as interpreted code.
func (s *Sandbox) render(v goja.Value) (string, error) {
	if v == nil || goja.IsUndefined(v) {
		return "undefined", nil
	}
	if goja.IsNull(v) {
		return "null", nil
	}
	if _, ok := v.(*goja.Object); !ok {
		return v.String(), nil
	}
	text, err := s.toText(goja.Undefined(), v)
	if err != nil {
		return "", err
	}
	return text.String(), nil
}

func isArray(o *goja.Object) bool {
	return o.ClassName() == "Array"
}

// consoleWrite appends the space-joined arguments as one line. It runs
// inside a guarded call, so an interrupt stays pending across the nested
// encode and fires when control returns to submitted code.
func (s *Sandbox) consoleWrite(call goja.FunctionCall) goja.Value {
	parts := make([]string, 0, len(call.Arguments))
	for _, arg := range call.Arguments {
		var (
			text string
			err  error
		)
		if _, ok := arg.(*goja.Object); ok {
			text, err = s.encode(arg)
			if err != nil {
				text, err = s.render(arg)
			}
		} else {
			text, err = s.render(arg)
		}
		if err != nil {
			text = unprintable
		}
		parts = append(parts, text)
	}
	s.console.writeLine(strings.Join(parts, " "))
	return goja.Undefined()
}

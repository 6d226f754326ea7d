package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/go-sourcemap/sourcemap"
	"github.com/sirupsen/logrus"
)

const (
	// SourceFile is the virtual file name of a submission
	SourceFile = "submission.ts"

	// tsconfigRaw mirrors the project build settings. forceConsistentCasingInFileNames
	// has no effect on a single in-memory unit.
	tsconfigRaw = `{
  "compilerOptions": {
    "strict": true,
    "alwaysStrict": true,
    "skipLibCheck": true,
    "forceConsistentCasingInFileNames": true
  }
}`
)

// ErrCompilation classifies static syntax and type errors in a submission
var ErrCompilation = errors.New("compilation error")

// Diagnostic is a single compiler message. Line and Column are 1-based;
// zero means unknown.
type Diagnostic struct {
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Text   string `json:"text"`
}

// String renders the diagnostic as line:col: text
func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%d:%d: %s", d.Line, d.Column, d.Text)
	}
	return d.Text
}

// CompileError reports every diagnostic raised for a submission
type CompileError struct {
	Diagnostics []Diagnostic
}

// Error joins the diagnostics into one human-readable message
func (e *CompileError) Error() string {
	if len(e.Diagnostics) == 0 {
		return ErrCompilation.Error()
	}
	parts := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		parts[i] = d.String()
	}
	return strings.Join(parts, "; ")
}

// Is matches ErrCompilation
func (e *CompileError) Is(target error) bool {
	return target == ErrCompilation
}

// Compiler lowers TypeScript source into ES2015 CommonJS
type Compiler struct {
	options api.TransformOptions
	globals map[string]struct{}
	logger  *logrus.Entry
}

// New creates a compiler with the fixed project options. Extra names are
// treated as declared globals in addition to the ECMAScript builtins.
func New(extraGlobals ...string) *Compiler {
	globals := make(map[string]struct{}, len(builtinGlobals)+len(extraGlobals))
	for _, name := range builtinGlobals {
		globals[name] = struct{}{}
	}
	for _, name := range extraGlobals {
		globals[name] = struct{}{}
	}

	return &Compiler{
		options: api.TransformOptions{
			Loader:      api.LoaderTS,
			Target:      api.ES2015,
			Format:      api.FormatCommonJS,
			Sourcefile:  SourceFile,
			TsconfigRaw: tsconfigRaw,
			LogLevel:    api.LogLevelSilent,
			Sourcemap:   api.SourceMapExternal,
		},
		globals: globals,
		logger:  logrus.WithField("component", "compiler"),
	}
}

// Compile returns executable JavaScript for source or a *CompileError.
//
// Checking covers syntax and unresolved names only. Type annotations are
// erased without checking assignability.
// TODO: run the TypeScript checker (typescript.js with lib.es5.d.ts) inside
// goja to report type errors once those assets are vendored.
func (c *Compiler) Compile(source string) (string, error) {
	result := api.Transform(source, c.options)
	if len(result.Errors) > 0 {
		err := &CompileError{Diagnostics: fromMessages(result.Errors)}
		c.logger.WithField("diagnostics", len(err.Diagnostics)).Debug("Transform failed")
		return "", err
	}

	code := string(result.Code)

	program, err := parser.ParseFile(nil, "submission.js", code, 0, parser.WithDisableSourceMaps)
	if err != nil {
		return "", &CompileError{Diagnostics: []Diagnostic{{Text: err.Error()}}}
	}

	unresolved := c.unresolved(program)
	if len(unresolved) > 0 {
		positions := c.mapper(program, result.Map)
		diagnostics := make([]Diagnostic, len(unresolved))
		names := make([]string, len(unresolved))
		for i, ref := range unresolved {
			line, column := positions(ref)
			if line == 0 {
				line, column = locate(source, ref.name)
			}
			diagnostics[i] = Diagnostic{
				Line:   line,
				Column: column,
				Text:   fmt.Sprintf("Cannot find name '%s'.", ref.name),
			}
			names[i] = ref.name
		}
		c.logger.WithField("names", names).Debug("Unresolved references")
		return "", &CompileError{Diagnostics: diagnostics}
	}

	return code, nil
}

// mapper returns a function translating a reference in the lowered unit back
// to a 1-based line and column of the TypeScript source. It yields 0, 0 when
// the source map has no entry for the reference.
func (c *Compiler) mapper(program *ast.Program, sourceMap []byte) func(reference) (int, int) {
	consumer, err := sourcemap.Parse(SourceFile+".map", sourceMap)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read source map")
		return func(reference) (int, int) { return 0, 0 }
	}

	return func(ref reference) (int, int) {
		generated := program.File.Position(int(ref.idx) - program.File.Base())
		_, _, line, column, ok := consumer.Source(generated.Line, generated.Column-1)
		if !ok {
			return 0, 0
		}
		return line, column + 1
	}
}

// fromMessages converts esbuild messages into diagnostics
func fromMessages(messages []api.Message) []Diagnostic {
	diagnostics := make([]Diagnostic, 0, len(messages))
	for _, msg := range messages {
		d := Diagnostic{Text: msg.Text}
		if msg.Location != nil {
			d.Line = msg.Location.Line
			d.Column = msg.Location.Column + 1
		}
		diagnostics = append(diagnostics, d)
	}
	return diagnostics
}

// locate finds the first whole-word occurrence of name in source. It is the
// fallback when the source map cannot place a reference.
func locate(source, name string) (int, int) {
	for lineNo, line := range strings.Split(source, "\n") {
		offset := 0
		for {
			i := strings.Index(line[offset:], name)
			if i < 0 {
				break
			}
			start := offset + i
			end := start + len(name)
			if !isIdentPart(line, start-1) && !isIdentPart(line, end) {
				return lineNo + 1, start + 1
			}
			offset = end
		}
	}
	return 0, 0
}

func isIdentPart(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	ch := s[i]
	return ch == '_' || ch == '$' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

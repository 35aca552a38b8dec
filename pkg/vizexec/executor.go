// Package vizexec runs model-generated visualization code in a Go
// interpreter with a restricted symbol table.
//
// The program must be package main and define
//
//	func Visualize(df *frame.Frame) (viz.Bindings, error)
//
// Only an allowlisted subset of the standard library plus the sqlviz/frame
// and sqlviz/viz packages can be imported. Nothing that touches files, the
// network, processes or unsafe memory is loaded into the interpreter.
package vizexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/malbeclabs/sqlviz/pkg/frame"
	"github.com/malbeclabs/sqlviz/pkg/logger"
	"github.com/malbeclabs/sqlviz/pkg/viz"
)

const (
	EntryPoint     = "Visualize"
	defaultTimeout = 10 * time.Second
)

var (
	ErrForbiddenImport = errors.New("forbidden import")
	ErrEntrypoint      = errors.New("invalid entry point")
	ErrInvalidArtifact = viz.ErrInvalidArtifact
)

// DefaultAllowedStdlib is the stdlib subset generated code may import.
var DefaultAllowedStdlib = []string{
	"errors",
	"fmt",
	"math",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
}

type Config struct {
	Logger  *slog.Logger
	Timeout time.Duration

	// AllowedStdlib replaces DefaultAllowedStdlib when non-empty.
	AllowedStdlib []string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if len(cfg.AllowedStdlib) == 0 {
		cfg.AllowedStdlib = DefaultAllowedStdlib
	}
	for _, pkg := range cfg.AllowedStdlib {
		if _, ok := stdlib.Symbols[pkg+"/"+path.Base(pkg)]; !ok {
			return fmt.Errorf("allowed stdlib package %q is not available to the interpreter", pkg)
		}
	}
	return nil
}

// Executor runs visualization programs. It is safe for concurrent use; every
// execution gets a fresh interpreter.
type Executor struct {
	log     *slog.Logger
	cfg     Config
	allowed map[string]bool
	symbols interp.Exports
}

func New(cfg Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate executor config: %w", err)
	}

	allowed := map[string]bool{
		FrameImportPath: true,
		VizImportPath:   true,
	}
	symbols := interp.Exports{}
	for _, pkg := range cfg.AllowedStdlib {
		key := pkg + "/" + path.Base(pkg)
		symbols[key] = stdlib.Symbols[key]
		allowed[pkg] = true
	}
	for key, syms := range bindingSymbols {
		symbols[key] = syms
	}

	return &Executor{
		log:     cfg.Logger,
		cfg:     cfg,
		allowed: allowed,
		symbols: symbols,
	}, nil
}

// Execute interprets code and calls its entry point with df. The returned
// bindings are validated against the closed set of artifact kinds.
func (e *Executor) Execute(ctx context.Context, code string, df *frame.Frame) (viz.Bindings, error) {
	if df == nil {
		df = frame.Empty()
	}
	src := wrapCode(code)

	if err := e.validateImports(src); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var stdout bytes.Buffer
	i := interp.New(interp.Options{
		Stdout: &stdout,
		Stderr: &stdout,
	})
	if err := i.Use(e.symbols); err != nil {
		return nil, fmt.Errorf("failed to load interpreter symbols: %w", err)
	}

	if _, err := i.EvalWithContext(ctx, src); err != nil {
		return nil, fmt.Errorf("code evaluation failed: %w", err)
	}

	fnValue, err := i.EvalWithContext(ctx, "main."+EntryPoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s function not found: %v", ErrEntrypoint, EntryPoint, err)
	}
	visualize, ok := fnValue.Interface().(func(*frame.Frame) (viz.Bindings, error))
	if !ok {
		return nil, fmt.Errorf("%w: %s has signature %s, expected func(*frame.Frame) (viz.Bindings, error)", ErrEntrypoint, EntryPoint, fnValue.Type())
	}

	type result struct {
		bindings viz.Bindings
		err      error
	}
	// Each run gets its own copy of the frame. A program that edits its
	// input, or keeps running after a timeout, never touches the caller's.
	input := df.Clone()
	// Buffered so an abandoned run does not block forever on send.
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%s panicked: %v", EntryPoint, r)}
			}
		}()
		b, err := visualize(input)
		done <- result{bindings: b, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("visualization timed out after %s: %w", e.cfg.Timeout, ctx.Err())
	}

	if out := strings.TrimSpace(stdout.String()); out != "" {
		e.log.Debug("vizexec: program output", "output", out)
	}
	if res.err != nil {
		return nil, fmt.Errorf("%s returned error: %w", EntryPoint, res.err)
	}
	if len(res.bindings) == 0 {
		return nil, fmt.Errorf("%w: %s returned no artifacts; bind at least one of %s, %s or %s",
			ErrInvalidArtifact, EntryPoint, viz.TextBinding, viz.TableBinding, viz.ChartBinding)
	}
	if err := res.bindings.Validate(); err != nil {
		return nil, err
	}
	return res.bindings.Clone(), nil
}

// validateImports parses the import block and rejects anything outside the
// allowlist.
func (e *Executor) validateImports(src string) error {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "visualize.go", src, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("code parse failed: %w", err)
	}
	if f.Name.Name != "main" {
		return fmt.Errorf("code must be package main, got package %s", f.Name.Name)
	}

	var forbidden []string
	for _, imp := range f.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("bad import path %s: %w", imp.Path.Value, err)
		}
		if imp.Name != nil && (imp.Name.Name == "." || imp.Name.Name == "_") {
			forbidden = append(forbidden, imp.Name.Name+" "+p)
			continue
		}
		if !e.allowed[p] {
			forbidden = append(forbidden, p)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("%w: %s (allowed: %s)", ErrForbiddenImport, strings.Join(forbidden, ", "), strings.Join(e.allowedList(), ", "))
	}
	return nil
}

// AllowedImports lists the import paths generated code may use, sorted.
func (e *Executor) AllowedImports() []string {
	return e.allowedList()
}

func (e *Executor) allowedList() []string {
	out := make([]string, 0, len(e.allowed))
	for p := range e.allowed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// wrapCode adds a package clause when the model left it out.
func wrapCode(code string) string {
	trimmed := strings.TrimSpace(code)
	if strings.HasPrefix(trimmed, "package ") || strings.Contains(trimmed, "\npackage ") {
		return trimmed
	}
	return "package main\n\n" + trimmed + "\n"
}

// Package runtime executes parsed sheets.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/lemonberrylabs/miniexpr/pkg/expr"
	"github.com/lemonberrylabs/miniexpr/pkg/sheet"
	"github.com/lemonberrylabs/miniexpr/pkg/types"
)

// MaxStepsPerRun is the maximum number of steps that can execute in a single
// run. Every binding, print, set and repeat iteration counts as one step.
const MaxStepsPerRun = 100_000

var (
	// ErrCancelled is returned when Cancel was called during a run.
	ErrCancelled = errors.New("run cancelled")

	// ErrStepLimit is returned when a run exceeds MaxStepsPerRun.
	ErrStepLimit = errors.New("step limit exceeded")

	// ErrRepeatCount is returned when a repeat count is not a finite number.
	ErrRepeatCount = errors.New("invalid repeat count")
)

// Result is the outcome of a successful run.
type Result struct {
	// Vars holds the final value of every variable the sheet defines.
	Vars expr.Environment

	// Lines is the printed output, one entry per line.
	Lines []string
}

// Engine executes one sheet. An Engine may run its sheet any number of
// times, but only one run at a time. Once cancelled, every later run fails
// with ErrCancelled.
type Engine struct {
	sheet *sheet.Sheet
	sink  types.Sink

	mu        sync.Mutex
	stepCount int
	cancelled bool
}

// NewEngine creates an engine for sh. Diagnostics raised while evaluating go
// to sink, or to the process-wide default sink if sink is nil.
func NewEngine(sh *sheet.Sheet, sink types.Sink) *Engine {
	return &Engine{sheet: sh, sink: sink.OrDefault()}
}

// run is the state of one execution.
type run struct {
	env     expr.Environment
	defined map[string]bool
	lines   []string
}

// Execute evaluates the sheet's bindings in order and then runs its steps.
// env is read but never modified. A "PI" entry in env is reported once and
// dropped.
func (e *Engine) Execute(ctx context.Context, env expr.Environment) (*Result, error) {
	e.mu.Lock()
	e.stepCount = 0
	e.mu.Unlock()

	r := &run{
		env:     make(expr.Environment, len(env)+len(e.sheet.Vars)),
		defined: make(map[string]bool),
	}
	for k, v := range env {
		r.env[k] = v
	}
	if _, ok := r.env["PI"]; ok {
		e.sink(types.Newf(types.TagShadowedPI,
			"Warning: PI is a built-in constant; the value passed in the environment will be ignored."))
		delete(r.env, "PI")
	}

	if err := e.executeBindings(ctx, e.sheet.Vars, r); err != nil {
		return nil, err
	}
	if err := e.executeSteps(ctx, e.sheet.Steps, r); err != nil {
		return nil, err
	}

	vars := make(expr.Environment, len(r.defined))
	for name := range r.defined {
		vars[name] = r.env[name]
	}
	return &Result{Vars: vars, Lines: r.lines}, nil
}

// tick accounts for one step, failing if the run should stop.
func (e *Engine) tick(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelled {
		return ErrCancelled
	}
	e.stepCount++
	if e.stepCount > MaxStepsPerRun {
		return fmt.Errorf("run exceeded maximum of %d steps: %w", MaxStepsPerRun, ErrStepLimit)
	}
	return nil
}

func (e *Engine) executeBindings(ctx context.Context, bindings []sheet.Binding, r *run) error {
	for _, b := range bindings {
		if err := e.tick(ctx); err != nil {
			return err
		}
		v := b.Expr.Evaluate(r.env, e.sink)
		r.env[b.Name] = b.As.Apply(v)
		r.defined[b.Name] = true
	}
	return nil
}

func (e *Engine) executeSteps(ctx context.Context, steps []sheet.Step, r *run) error {
	for i := range steps {
		step := &steps[i]
		if err := e.tick(ctx); err != nil {
			return err
		}

		switch step.Kind {
		case sheet.StepPrint:
			v := step.Expr.Evaluate(r.env, e.sink)
			r.lines = append(r.lines, step.As.Render(v))
		case sheet.StepText:
			r.lines = append(r.lines, step.Text)
		case sheet.StepSet:
			if err := e.executeBindings(ctx, step.Set, r); err != nil {
				return err
			}
		case sheet.StepRepeat:
			if err := e.executeRepeat(ctx, step, r); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown step kind %d", step.Kind)
		}
	}
	return nil
}

func (e *Engine) executeRepeat(ctx context.Context, step *sheet.Step, r *run) error {
	count := step.Expr.Evaluate(r.env, e.sink)
	if math.IsNaN(count) || math.IsInf(count, 0) {
		return fmt.Errorf("repeat %q evaluated to %s: %w", step.Source, sheet.FormatReal.Render(count), ErrRepeatCount)
	}
	if count > MaxStepsPerRun {
		return fmt.Errorf("repeat %q evaluated to %g: %w", step.Source, count, ErrStepLimit)
	}

	for n := int(count); n > 0; n-- {
		if err := e.tick(ctx); err != nil {
			return err
		}
		if err := e.executeSteps(ctx, step.Body, r); err != nil {
			return err
		}
	}
	return nil
}

// Cancel stops the current run before its next step. A run that has not
// started yet fails on its first step.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
}

// StepCount returns the number of steps the current or last run executed.
func (e *Engine) StepCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stepCount
}

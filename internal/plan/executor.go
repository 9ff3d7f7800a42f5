package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// RecoveryFileName is the fixed, well-known dump file written in the
// working directory when a run fails.
const RecoveryFileName = "plan-recovery.json"

// ErrUnknownOp is returned when a step names an operation the registry does
// not expose.
var ErrUnknownOp = errors.New("plan: unknown operation")

// StepError reports the step a run halted on. The plan state as of the
// failure has been dumped to DumpPath (empty if the dump itself failed).
type StepError struct {
	Index    int
	Section  string
	Op       string
	DumpPath string
	Err      error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("plan: step %d (%s) %s failed: %v", e.Index, e.Section, e.Op, e.Err)
	if e.DumpPath != "" {
		msg += fmt.Sprintf("; plan state saved to %s", e.DumpPath)
	}

	return msg
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Executor runs plans sequentially against a registry. Steps never overlap;
// each blocks until its operation returns. There is no automatic retry of a
// failed step — a step may have partially mutated remote state, and a blind
// retry could violate idempotence. Resumption is a fresh Run after
// reloading the dumped plan.
type Executor struct {
	registry     *Registry
	recoveryPath string
	logger       *slog.Logger
}

// NewExecutor creates an executor that dumps failed plans to recoveryPath.
func NewExecutor(registry *Registry, recoveryPath string, logger *slog.Logger) *Executor {
	return &Executor{registry: registry, recoveryPath: recoveryPath, logger: logger}
}

// Run executes steps in index order from the plan's cursor until the end of
// the plan, collecting each operation's return value. When section is
// non-empty, the cursor is advanced forward (never backward) to the next
// not-yet-executed step of that section before each step, skipping
// interleaved steps belonging to other sections, and the run stops when the
// section is exhausted.
//
// On the first failure — the operation returning an error, an unknown
// operation identifier, or a canceled context — the full plan is serialized
// to the recovery file and a *StepError is returned.
func (e *Executor) Run(ctx context.Context, p *Plan, section string) ([]any, error) {
	var results []any

	for {
		if section != "" && !e.seekSection(p, section) {
			e.logger.Debug("section exhausted", slog.String("section", section))
			break
		}

		if p.Cursor >= len(p.Steps) {
			e.logger.Info("reached end of plan")
			break
		}

		step := &p.Steps[p.Cursor]

		if err := ctx.Err(); err != nil {
			return results, e.halt(p, err)
		}

		fn, ok := e.registry.Lookup(step.Op)
		if !ok {
			return results, e.halt(p, fmt.Errorf("%w: %s", ErrUnknownOp, step.Op))
		}

		e.logger.Debug("running step",
			slog.Int("index", p.Cursor),
			slog.String("section", step.Section),
			slog.String("op", step.Op),
		)

		rtn, err := fn(ctx, step.Args)
		if err != nil {
			return results, e.halt(p, err)
		}

		step.Done = true
		p.Cursor++
		results = append(results, rtn)
	}

	return results, nil
}

// seekSection moves the cursor forward to the first not-yet-executed step
// tagged with section, starting at the current cursor. Reports whether one
// was found.
func (e *Executor) seekSection(p *Plan, section string) bool {
	for i := p.Cursor; i < len(p.Steps); i++ {
		if p.Steps[i].Section == section && !p.Steps[i].Done {
			p.Cursor = i
			return true
		}
	}

	return false
}

// halt dumps the plan to the recovery file and wraps the failure in a
// StepError pointing at the dump.
func (e *Executor) halt(p *Plan, cause error) error {
	stepErr := &StepError{
		Index: p.Cursor,
		Err:   cause,
	}

	if p.Cursor < len(p.Steps) {
		stepErr.Section = p.Steps[p.Cursor].Section
		stepErr.Op = p.Steps[p.Cursor].Op
	}

	if err := p.Save(e.recoveryPath); err != nil {
		e.logger.Error("failed to dump plan state", slog.String("error", err.Error()))
	} else {
		stepErr.DumpPath = e.recoveryPath

		e.logger.Error("plan halted, state dumped",
			slog.Int("step", p.Cursor),
			slog.String("path", e.recoveryPath),
		)
	}

	return stepErr
}

package domain

import (
	"context"
	"fmt"
)

// Activity is one named step of a workflow. Engines may invoke an
// activity more than once for the same input, so it must be idempotent.
type Activity[I, O any] interface {
	Name() string
	Run(ctx context.Context, in I) (O, error)
}

// NewActivity names fn as an activity.
func NewActivity[I, O any](name string, fn func(context.Context, I) (O, error)) Activity[I, O] {
	return namedActivity[I, O]{name: name, fn: fn}
}

type namedActivity[I, O any] struct {
	name string
	fn   func(context.Context, I) (O, error)
}

func (a namedActivity[I, O]) Name() string                             { return a.name }
func (a namedActivity[I, O]) Run(ctx context.Context, in I) (O, error) { return a.fn(ctx, in) }

// StepRunner executes the steps of one workflow instance. Durable engines
// record each step's output and hand it back on replay instead of invoking
// the activity again, so a workflow body must reach every side effect
// through [Call].
type StepRunner interface {
	InstanceID() string
	Step(name string, in any) (any, error)
}

// Call runs activity a as a step of runner and asserts its output type.
func Call[I, O any](runner StepRunner, a Activity[I, O], in I) (O, error) {
	var zero O
	raw, err := runner.Step(a.Name(), in)
	if err != nil {
		return zero, err
	}
	out, ok := raw.(O)
	if !ok {
		return zero, fmt.Errorf("step %q of %s returned %T", a.Name(), runner.InstanceID(), raw)
	}
	return out, nil
}

// StepTable dispatches step names to activities. Engines without their
// own activity registry run steps through it.
type StepTable map[string]func(context.Context, any) (any, error)

// AddStep registers a in t under its name.
func AddStep[I, O any](t StepTable, a Activity[I, O]) {
	t[a.Name()] = func(ctx context.Context, in any) (any, error) {
		typed, ok := in.(I)
		if !ok {
			return nil, fmt.Errorf("%w: step %q takes %T, got %T", ErrInvalidArgument, a.Name(), typed, in)
		}
		return a.Run(ctx, typed)
	}
}

// Outcome is a result whose error is held as a [Failure]. Engines that
// serialize step and workflow results pass outcomes across the boundary
// so the error class survives it.
type Outcome[O any] struct {
	Value   O        `json:"value"`
	Failure *Failure `json:"failure,omitempty"`
}

// Settle records v and err as an outcome.
func Settle[O any](v O, err error) Outcome[O] {
	return Outcome[O]{Value: v, Failure: NewFailure(err)}
}

// Result returns the recorded value and the restored error.
func (o Outcome[O]) Result() (O, error) {
	return o.Value, o.Failure.Err()
}

// Execution is a started workflow instance.
type Execution[O any] interface {
	ID() string
	// Wait blocks until the instance completes and returns its result.
	Wait(ctx context.Context) (O, error)
}

// UpgradeRunner starts template upgrade workflows.
type UpgradeRunner interface {
	Start(ctx context.Context, in UpgradeInput) (Execution[UpgradeOutput], error)
}

// WorkflowEngine binds workflow definitions to an execution backend.
type WorkflowEngine interface {
	UpgradeRunner(wf *UpgradeWorkflow) (UpgradeRunner, error)
}

// Package syncworkflow runs workflows inline in the calling goroutine.
// Steps are not recorded, so an interrupted run is not resumed.
package syncworkflow

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/zqdou/kraken-ent/internal/domain"
)

var instances atomic.Int64

// Engine implements [domain.WorkflowEngine] without persistence.
type Engine struct{}

func (e *Engine) UpgradeRunner(wf *domain.UpgradeWorkflow) (domain.UpgradeRunner, error) {
	if wf == nil {
		return nil, fmt.Errorf("%w: nil upgrade workflow", domain.ErrInvalidArgument)
	}
	steps := domain.StepTable{}
	wf.Steps(steps)
	return &upgradeRunner{wf: wf, steps: steps}, nil
}

type upgradeRunner struct {
	wf    *domain.UpgradeWorkflow
	steps domain.StepTable
}

// Start runs the workflow to completion. The execution only carries the
// recorded outcome.
func (r *upgradeRunner) Start(ctx context.Context, in domain.UpgradeInput) (domain.Execution[domain.UpgradeOutput], error) {
	inst := &instance{
		id:    fmt.Sprintf("sync-%d", instances.Add(1)),
		ctx:   ctx,
		steps: r.steps,
	}
	out, err := r.wf.Run(inst, in)
	return &execution{id: inst.id, out: out, err: err}, nil
}

type instance struct {
	id    string
	ctx   context.Context
	steps domain.StepTable
}

func (i *instance) InstanceID() string { return i.id }

func (i *instance) Step(name string, in any) (any, error) {
	fn, ok := i.steps[name]
	if !ok {
		return nil, fmt.Errorf("%w: step %q is not registered", domain.ErrInvalidArgument, name)
	}
	zerolog.Ctx(i.ctx).Debug().Str("workflow", i.id).Str("step", name).Msg("running step")
	return fn(i.ctx, in)
}

type execution struct {
	id  string
	out domain.UpgradeOutput
	err error
}

func (e *execution) ID() string { return e.id }

func (e *execution) Wait(context.Context) (domain.UpgradeOutput, error) {
	return e.out, e.err
}

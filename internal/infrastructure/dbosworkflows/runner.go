// Package dbosworkflows runs workflows on DBOS Transact. Steps are
// checkpointed in the DBOS system database and skipped on recovery. Step
// and workflow results are checkpointed as [domain.Outcome] values so that
// domain errors stay matchable after recovery.
package dbosworkflows

import (
	"context"
	"fmt"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// stepFunc checkpoints one activity under the workflow context. The
// output type is fixed at registration so recovery decodes it correctly.
type stepFunc func(ctx dbos.DBOSContext, in any) (any, error)

// Engine implements [domain.WorkflowEngine]. Runners must be created
// before [dbos.Launch] and used after it.
type Engine struct {
	DBOSCtx dbos.DBOSContext
}

func (e *Engine) UpgradeRunner(wf *domain.UpgradeWorkflow) (domain.UpgradeRunner, error) {
	if wf == nil {
		return nil, fmt.Errorf("%w: nil upgrade workflow", domain.ErrInvalidArgument)
	}
	steps := make(map[string]stepFunc)
	register(steps, wf.ApplyControlPlane())
	register(steps, wf.RolloutStage())
	register(steps, wf.LoadDeploymentStatus())

	body := func(ctx dbos.DBOSContext, in domain.UpgradeInput) (domain.Outcome[domain.UpgradeOutput], error) {
		out, err := wf.Run(&instance{ctx: ctx, steps: steps}, in)
		return domain.Settle(out, err), nil
	}
	dbos.RegisterWorkflow(e.DBOSCtx, body, dbos.WithWorkflowName(wf.Name()))

	return &upgradeRunner{dbosCtx: e.DBOSCtx, body: body}, nil
}

func register[I, O any](steps map[string]stepFunc, a domain.Activity[I, O]) {
	steps[a.Name()] = func(ctx dbos.DBOSContext, in any) (any, error) {
		typed, ok := in.(I)
		if !ok {
			return nil, fmt.Errorf("%w: step %q takes %T, got %T", domain.ErrInvalidArgument, a.Name(), typed, in)
		}
		out, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) (domain.Outcome[O], error) {
			v, err := a.Run(stepCtx, typed)
			return domain.Settle(v, err), nil
		}, dbos.WithStepName(a.Name()))
		if err != nil {
			return nil, err
		}
		return out.Result()
	}
}

type instance struct {
	ctx   dbos.DBOSContext
	steps map[string]stepFunc
}

func (i *instance) InstanceID() string {
	id, err := dbos.GetWorkflowID(i.ctx)
	if err != nil {
		return ""
	}
	return id
}

func (i *instance) Step(name string, in any) (any, error) {
	step, ok := i.steps[name]
	if !ok {
		return nil, fmt.Errorf("%w: step %q is not registered", domain.ErrInvalidArgument, name)
	}
	return step(i.ctx, in)
}

type upgradeRunner struct {
	dbosCtx dbos.DBOSContext
	body    dbos.Workflow[domain.UpgradeInput, domain.Outcome[domain.UpgradeOutput]]
}

func (r *upgradeRunner) Start(_ context.Context, in domain.UpgradeInput) (domain.Execution[domain.UpgradeOutput], error) {
	h, err := dbos.RunWorkflow(r.dbosCtx, r.body, in)
	if err != nil {
		return nil, fmt.Errorf("start DBOS workflow: %w", err)
	}
	return &execution{h: h}, nil
}

type execution struct {
	h dbos.WorkflowHandle[domain.Outcome[domain.UpgradeOutput]]
}

func (e *execution) ID() string { return e.h.GetWorkflowID() }

func (e *execution) Wait(context.Context) (domain.UpgradeOutput, error) {
	out, err := e.h.GetResult()
	if err != nil {
		return domain.UpgradeOutput{}, err
	}
	return out.Result()
}

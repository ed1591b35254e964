// Package goworkflows runs workflows on cschleiden/go-workflows. Every
// step is a registered activity, so a replayed instance reuses the
// recorded step results. Activities and workflows return
// [domain.Outcome] values, which keeps domain errors matchable after
// they have been serialized.
package goworkflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/registry"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/cschleiden/go-workflows/workflow"
	"github.com/google/uuid"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// DefaultTimeout bounds [domain.Execution.Wait] when Engine.Timeout is
// unset.
const DefaultTimeout = 2 * time.Minute

// activityOptions runs each activity once. A failed step is reported to
// the caller, never retried.
var activityOptions = workflow.ActivityOptions{
	RetryOptions: workflow.RetryOptions{MaxAttempts: 1},
}

// stepFunc schedules one activity from a workflow context and waits for
// its typed result.
type stepFunc func(ctx workflow.Context, in any) (any, error)

// Engine implements [domain.WorkflowEngine]. The worker must be started
// before runners are used.
type Engine struct {
	Worker  *worker.Worker
	Client  *client.Client
	Timeout time.Duration
}

func (e *Engine) UpgradeRunner(wf *domain.UpgradeWorkflow) (domain.UpgradeRunner, error) {
	if wf == nil {
		return nil, fmt.Errorf("%w: nil upgrade workflow", domain.ErrInvalidArgument)
	}
	steps := make(map[string]stepFunc)
	if err := errors.Join(
		register(e.Worker, steps, wf.ApplyControlPlane()),
		register(e.Worker, steps, wf.RolloutStage()),
		register(e.Worker, steps, wf.LoadDeploymentStatus()),
	); err != nil {
		return nil, err
	}

	body := func(ctx workflow.Context, in domain.UpgradeInput) (domain.Outcome[domain.UpgradeOutput], error) {
		out, err := wf.Run(&instance{ctx: ctx, steps: steps}, in)
		return domain.Settle(out, err), nil
	}
	if err := e.Worker.RegisterWorkflow(body, registry.WithName(wf.Name())); err != nil {
		return nil, fmt.Errorf("register workflow %q: %w", wf.Name(), err)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &upgradeRunner{client: e.Client, workflow: wf.Name(), timeout: timeout}, nil
}

// register adds a to the worker's activity registry and binds a typed
// step for it.
func register[I, O any](w *worker.Worker, steps map[string]stepFunc, a domain.Activity[I, O]) error {
	run := func(ctx context.Context, in I) (domain.Outcome[O], error) {
		out, err := a.Run(ctx, in)
		return domain.Settle(out, err), nil
	}
	if err := w.RegisterActivity(run, registry.WithName(a.Name())); err != nil {
		return fmt.Errorf("register activity %q: %w", a.Name(), err)
	}
	steps[a.Name()] = func(ctx workflow.Context, in any) (any, error) {
		out, err := workflow.ExecuteActivity[domain.Outcome[O]](ctx, activityOptions, a.Name(), in).Get(ctx)
		if err != nil {
			return nil, err
		}
		return out.Result()
	}
	return nil
}

type instance struct {
	ctx   workflow.Context
	steps map[string]stepFunc
}

func (i *instance) InstanceID() string {
	return workflow.WorkflowInstance(i.ctx).InstanceID
}

func (i *instance) Step(name string, in any) (any, error) {
	step, ok := i.steps[name]
	if !ok {
		return nil, fmt.Errorf("%w: step %q is not registered", domain.ErrInvalidArgument, name)
	}
	return step(i.ctx, in)
}

type upgradeRunner struct {
	client   *client.Client
	workflow string
	timeout  time.Duration
}

func (r *upgradeRunner) Start(ctx context.Context, in domain.UpgradeInput) (domain.Execution[domain.UpgradeOutput], error) {
	inst, err := r.client.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: "upgrade-" + uuid.NewString(),
	}, r.workflow, in)
	if err != nil {
		return nil, fmt.Errorf("create %s instance: %w", r.workflow, err)
	}
	return &execution{client: r.client, inst: inst, timeout: r.timeout}, nil
}

type execution struct {
	client  *client.Client
	inst    *workflow.Instance
	timeout time.Duration
}

func (e *execution) ID() string { return e.inst.InstanceID }

func (e *execution) Wait(ctx context.Context) (domain.UpgradeOutput, error) {
	out, err := client.GetWorkflowResult[domain.Outcome[domain.UpgradeOutput]](ctx, e.client, e.inst, e.timeout)
	if err != nil {
		return domain.UpgradeOutput{}, err
	}
	return out.Result()
}

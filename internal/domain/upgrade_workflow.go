package domain

import (
	"context"
	"fmt"
)

// UpgradeInput starts an end-to-end template upgrade into one stage
// environment.
type UpgradeInput struct {
	TemplateUpgradeID AssetID
	EnvID             EnvironmentID
	UserID            string
}

// UpgradeOutput is the result of [UpgradeWorkflow.Run].
type UpgradeOutput struct {
	ControlDeploymentID AssetID
	DeploymentID        AssetID
	Status              DeployStatus
}

// StageRequest asks for a stage rollout of an applied upgrade package.
type StageRequest struct {
	TemplateUpgradeID AssetID
	EnvID             EnvironmentID
	UserID            string
}

// ControlPlaneApplier applies an upgrade package to the control plane.
type ControlPlaneApplier interface {
	ApplyControlPlaneUpgrade(ctx context.Context, upgradeID AssetID, userID string) (AssetID, error)
}

// StageRoller rolls an applied package out to a stage environment.
type StageRoller interface {
	StageUpgrade(ctx context.Context, req StageRequest) (AssetID, error)
}

// UpgradeWorkflow applies a package to the control plane and rolls it out
// to a stage environment. Each step is an activity so durable engines
// record its result and do not repeat it on replay.
type UpgradeWorkflow struct {
	ControlPlane ControlPlaneApplier
	Stage        StageRoller
	Assets       AssetStore
}

func (w *UpgradeWorkflow) Name() string { return "template-upgrade" }

// ApplyControlPlane returns the activity applying the package.
func (w *UpgradeWorkflow) ApplyControlPlane() Activity[UpgradeInput, AssetID] {
	return NewActivity("apply-control-plane", func(ctx context.Context, in UpgradeInput) (AssetID, error) {
		return w.ControlPlane.ApplyControlPlaneUpgrade(ctx, in.TemplateUpgradeID, in.UserID)
	})
}

// RolloutStage returns the activity rolling the package out to the stage
// environment.
func (w *UpgradeWorkflow) RolloutStage() Activity[StageRequest, AssetID] {
	return NewActivity("rollout-stage", func(ctx context.Context, req StageRequest) (AssetID, error) {
		return w.Stage.StageUpgrade(ctx, req)
	})
}

// LoadDeploymentStatus returns the activity reading a deployment's status.
func (w *UpgradeWorkflow) LoadDeploymentStatus() Activity[AssetID, DeployStatus] {
	return NewActivity("load-deployment-status", func(ctx context.Context, id AssetID) (DeployStatus, error) {
		a, err := w.Assets.Get(ctx, id)
		if err != nil {
			return "", fmt.Errorf("load deployment %s: %w", id, err)
		}
		return DeployStatus(a.Status), nil
	})
}

// Steps registers the workflow's activities in t.
func (w *UpgradeWorkflow) Steps(t StepTable) {
	AddStep(t, w.ApplyControlPlane())
	AddStep(t, w.RolloutStage())
	AddStep(t, w.LoadDeploymentStatus())
}

// Run executes the workflow body.
func (w *UpgradeWorkflow) Run(runner StepRunner, in UpgradeInput) (UpgradeOutput, error) {
	var out UpgradeOutput

	controlID, err := Call(runner, w.ApplyControlPlane(), in)
	if err != nil {
		return out, fmt.Errorf("apply control plane: %w", err)
	}
	out.ControlDeploymentID = controlID

	depID, err := Call(runner, w.RolloutStage(), StageRequest{
		TemplateUpgradeID: in.TemplateUpgradeID,
		EnvID:             in.EnvID,
		UserID:            in.UserID,
	})
	if err != nil {
		return out, fmt.Errorf("rollout stage: %w", err)
	}
	out.DeploymentID = depID

	status, err := Call(runner, w.LoadDeploymentStatus(), depID)
	if err != nil {
		return out, err
	}
	out.Status = status
	return out, nil
}

package domain

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// SystemState is the global upgrade status shared by every environment.
type SystemState string

const (
	SystemIdle                    SystemState = "IDLE"
	SystemControlPlaneUpgrading   SystemState = "CONTROL_PLANE_UPGRADING"
	SystemControlPlaneUpgradeDone SystemState = "CONTROL_PLANE_UPGRADE_DONE"
	SystemStageUpgrading          SystemState = "STAGE_UPGRADING"
	SystemStageUpgradeDone        SystemState = "STAGE_UPGRADE_DONE"
	SystemProductionUpgrading     SystemState = "PRODUCTION_UPGRADING"
	SystemProductionUpgradeDone   SystemState = "PRODUCTION_UPGRADE_DONE"
)

// Admission allow-lists. A state missing from a list is rejected, so an
// unknown persisted state fails closed.
var (
	// CanUpgradeStates are the states from which a new control plane
	// upgrade cycle may begin.
	CanUpgradeStates = []SystemState{SystemIdle, SystemStageUpgradeDone, SystemProductionUpgradeDone}
	// StageUpgradeStates admit a stage rollout.
	StageUpgradeStates = []SystemState{SystemControlPlaneUpgradeDone, SystemStageUpgradeDone}
	// ProductionUpgradeStates admit a production promotion. A finished
	// promotion admits the next production environment; one in flight
	// does not.
	ProductionUpgradeStates = []SystemState{SystemStageUpgradeDone, SystemProductionUpgradeDone}
)

// SystemInfo is the process-wide upgrade record.
type SystemInfo struct {
	Status         SystemState
	ProductVersion string
	UpdatedAt      time.Time
}

// StateMachine guards upgrade entry points. Every transition is a
// compare-and-swap on the persisted [SystemInfo], so concurrent callers
// cannot both observe an allowed state and proceed.
type StateMachine struct {
	Repo SystemInfoRepository
}

// Current returns the persisted system record.
func (m *StateMachine) Current(ctx context.Context) (SystemInfo, error) {
	return m.Repo.Get(ctx)
}

// Begin moves the system to next if its status is in allowed. It returns
// an [*AdmissionError] otherwise.
func (m *StateMachine) Begin(ctx context.Context, allowed []SystemState, next SystemState) error {
	ok, err := m.Repo.CompareAndSwap(ctx, allowed, next, "")
	if err != nil {
		return fmt.Errorf("transition to %s: %w", next, err)
	}
	if ok {
		return nil
	}
	cur, err := m.Repo.Get(ctx)
	if err != nil {
		return fmt.Errorf("read system status: %w", err)
	}
	return Deny(fmt.Sprintf("current system status is %s, cannot move to %s", cur.Status, next))
}

// Check returns an [*AdmissionError] if the current status is not in
// allowed. It performs no write.
func (m *StateMachine) Check(ctx context.Context, allowed []SystemState) error {
	cur, err := m.Repo.Get(ctx)
	if err != nil {
		return fmt.Errorf("read system status: %w", err)
	}
	if !slices.Contains(allowed, cur.Status) {
		return Deny(fmt.Sprintf("current system status is %s", cur.Status))
	}
	return nil
}

// Finish moves the system from one state to another, recording version
// when it is non-empty. It reports false when the system was no longer in
// from.
func (m *StateMachine) Finish(ctx context.Context, from, to SystemState, version string) (bool, error) {
	ok, err := m.Repo.CompareAndSwap(ctx, []SystemState{from}, to, version)
	if err != nil {
		return false, fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	return ok, nil
}

// Reset unconditionally sets the status, keeping the recorded version.
func (m *StateMachine) Reset(ctx context.Context, to SystemState) error {
	cur, err := m.Repo.Get(ctx)
	if err != nil {
		return fmt.Errorf("read system status: %w", err)
	}
	cur.Status = to
	if err := m.Repo.Put(ctx, cur); err != nil {
		return fmt.Errorf("reset system status to %s: %w", to, err)
	}
	return nil
}

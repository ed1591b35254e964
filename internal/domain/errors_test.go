package domain_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// roundTrip stores o the way durable engines do and reads it back.
func roundTrip[O any](t *testing.T, o domain.Outcome[O]) domain.Outcome[O] {
	t.Helper()
	raw, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back domain.Outcome[O]
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return back
}

func TestOutcome_KeepsAdmissionDenial(t *testing.T) {
	cause := fmt.Errorf("apply control plane: %w", domain.Deny("current system status is STAGE_UPGRADING"))
	out := roundTrip(t, domain.Settle(domain.UpgradeOutput{ControlDeploymentID: "c-1"}, cause))

	v, err := out.Result()
	if v.ControlDeploymentID != "c-1" {
		t.Errorf("ControlDeploymentID = %q, want c-1", v.ControlDeploymentID)
	}
	if err.Error() != cause.Error() {
		t.Errorf("message = %q, want %q", err, cause)
	}
	if !errors.Is(err, domain.ErrAdmissionDenied) {
		t.Errorf("expected ErrAdmissionDenied, got %v", err)
	}
	var denied *domain.AdmissionError
	if !errors.As(err, &denied) {
		t.Fatalf("expected *AdmissionError, got %T", err)
	}
	if denied.Reason != "current system status is STAGE_UPGRADING" {
		t.Errorf("Reason = %q", denied.Reason)
	}
}

func TestOutcome_KeepsSentinelClass(t *testing.T) {
	for _, sentinel := range []error{
		domain.ErrNotFound,
		domain.ErrAlreadyExists,
		domain.ErrInvalidArgument,
		domain.ErrIngestionFailed,
		domain.ErrConflict,
	} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			out := roundTrip(t, domain.Settle(domain.AssetID(""), fmt.Errorf("step: %w", sentinel)))
			_, err := out.Result()
			if !errors.Is(err, sentinel) {
				t.Errorf("expected %v, got %v", sentinel, err)
			}
			if errors.Is(err, domain.ErrAdmissionDenied) {
				t.Errorf("%v matches ErrAdmissionDenied", err)
			}
		})
	}
}

func TestOutcome_Success(t *testing.T) {
	out := roundTrip(t, domain.Settle(domain.AssetID("dep-1"), nil))
	if out.Failure != nil {
		t.Fatalf("Failure = %+v, want nil", out.Failure)
	}
	v, err := out.Result()
	if err != nil || v != "dep-1" {
		t.Errorf("Result = (%q, %v), want (dep-1, nil)", v, err)
	}
}

func TestFailure_UnclassifiedError(t *testing.T) {
	err := domain.NewFailure(errors.New("disk full")).Err()
	if err.Error() != "disk full" {
		t.Errorf("message = %q", err)
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAdmissionDenied) {
		t.Errorf("unclassified error matches a sentinel: %v", err)
	}
}

package application

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/zqdou/kraken-ent/internal/domain"
	"github.com/zqdou/kraken-ent/internal/observability"
)

var knownStates = []string{
	string(domain.SystemIdle),
	string(domain.SystemControlPlaneUpgrading),
	string(domain.SystemControlPlaneUpgradeDone),
	string(domain.SystemStageUpgrading),
	string(domain.SystemStageUpgradeDone),
	string(domain.SystemProductionUpgrading),
	string(domain.SystemProductionUpgradeDone),
}

// observe logs and records the outcome of an operation. Admission
// denials are client faults and log at warn.
func observe(ctx context.Context, op string, start time.Time, err error) {
	logger := zerolog.Ctx(ctx)
	result := observability.ResultOK
	switch {
	case err == nil:
		logger.Info().Str("operation", op).Dur("took", time.Since(start)).Msg("operation completed")
	case errors.Is(err, domain.ErrAdmissionDenied):
		result = observability.ResultDenied
		logger.Warn().Err(err).Str("operation", op).Msg("operation denied")
	default:
		result = observability.ResultError
		logger.Error().Err(err).Str("operation", op).Msg("operation failed")
	}
	observability.RecordOperation(op, result, time.Since(start))
}

func recordState(state domain.SystemState) {
	observability.RecordSystemState(string(state), knownStates)
}

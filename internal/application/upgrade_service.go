package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// UpgradeService runs the end-to-end template upgrade as a durable
// workflow.
type UpgradeService struct {
	Workflow domain.UpgradeRunner
}

// Upgrade starts the upgrade workflow and waits for it to complete.
func (s *UpgradeService) Upgrade(ctx context.Context, in domain.UpgradeInput) (out domain.UpgradeOutput, err error) {
	defer func(start time.Time) { observe(ctx, "upgrade", start, err) }(time.Now())

	exec, err := s.Workflow.Start(ctx, in)
	if err != nil {
		return out, fmt.Errorf("start upgrade workflow: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("workflow", exec.ID()).Str("templateUpgradeId", string(in.TemplateUpgradeID)).Msg("upgrade workflow started")
	return exec.Wait(ctx)
}

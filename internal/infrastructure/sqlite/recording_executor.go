package sqlite

import (
	"context"
	"time"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// RecordingExecutor implements [domain.DeploymentExecutor] by recording a
// pending run per submitted deployment. An external worker picks up
// IN_PROCESS runs and reports completion through the deployment status
// service.
type RecordingExecutor struct {
	Runs domain.DeploymentRunRepository
	Now  func() time.Time
}

func (e *RecordingExecutor) Submit(ctx context.Context, deploymentID domain.AssetID, envID domain.EnvironmentID) error {
	return e.Runs.Put(ctx, domain.DeploymentRun{
		DeploymentID: deploymentID,
		EnvID:        envID,
		State:        domain.DeployStatusInProcess,
		UpdatedAt:    nowFunc(e.Now),
	})
}

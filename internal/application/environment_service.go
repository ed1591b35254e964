package application

import (
	"context"
	"fmt"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// EnvironmentService manages environment registration and queries.
type EnvironmentService struct {
	Environments domain.EnvironmentRepository
}

func (s *EnvironmentService) Register(ctx context.Context, env domain.Environment) error {
	if env.ID == "" {
		return fmt.Errorf("%w: environment ID is required", domain.ErrInvalidArgument)
	}
	if env.Name == "" {
		return fmt.Errorf("%w: environment name is required", domain.ErrInvalidArgument)
	}
	return s.Environments.Create(ctx, env)
}

func (s *EnvironmentService) Get(ctx context.Context, id domain.EnvironmentID) (domain.Environment, error) {
	return s.Environments.Get(ctx, id)
}

func (s *EnvironmentService) List(ctx context.Context) ([]domain.Environment, error) {
	return s.Environments.List(ctx)
}

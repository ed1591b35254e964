package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// Store implements [domain.Store]. The zero transaction state uses DB
// directly; inside [Store.WithTx] every repository shares the
// transaction.
type Store struct {
	DB  *sql.DB
	Now func() time.Time

	tx *sql.Tx
}

func (s *Store) q() Queryer {
	if s.tx != nil {
		return s.tx
	}
	return s.DB
}

func (s *Store) Assets() domain.AssetStore {
	return &AssetRepo{DB: s.q(), Now: s.Now}
}

func (s *Store) Environments() domain.EnvironmentRepository {
	return &EnvironmentRepo{DB: s.q(), Now: s.Now}
}

func (s *Store) System() domain.SystemInfoRepository {
	return &SystemInfoRepo{DB: s.q(), Now: s.Now}
}

func (s *Store) Events() domain.EventRepository {
	return &EventRepo{DB: s.q()}
}

func (s *Store) Runs() domain.DeploymentRunRepository {
	return &RunRepo{DB: s.q()}
}

func (s *Store) WithTx(ctx context.Context, fn func(domain.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Store{DB: s.DB, Now: s.Now, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

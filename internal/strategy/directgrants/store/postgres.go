package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"grantflow/internal/strategy"
	"grantflow/internal/strategy/directgrants/models"
	"grantflow/pkg/domain"
	"grantflow/pkg/platform/sentinel"
)

// Postgres persists instances durably. The aggregate is stored as one row
// with the config and recipient set as JSONB; Execute serializes per-pool
// writes with FOR UPDATE, matching the in-memory store's locking.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the strategy tables.
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS direct_grants_instances (
			pool_id     BIGINT PRIMARY KEY,
			strategy_id TEXT NOT NULL UNIQUE,
			config      JSONB NOT NULL,
			counter     BIGINT NOT NULL DEFAULT 0,
			recipients  JSONB NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("migrate direct_grants_instances: %w", err)
	}
	return nil
}

func (s *Postgres) Create(ctx context.Context, inst *models.Instance) error {
	cfg, err := json.Marshal(inst.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	recipients, err := json.Marshal(inst.Recipients)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO direct_grants_instances (pool_id, strategy_id, config, counter, recipients, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uint64(inst.PoolID), inst.ID.String(), cfg, inst.Counter, recipients, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

func (s *Postgres) FindByPool(ctx context.Context, poolID domain.PoolID) (*models.Instance, error) {
	row := s.db.QueryRowContext(ctx, selectInstance+` WHERE pool_id = $1`, uint64(poolID))
	return scanInstance(row)
}

func (s *Postgres) Execute(ctx context.Context, poolID domain.PoolID,
	validate func(*models.Instance) error,
	mutate func(*models.Instance) error) (*models.Instance, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, selectInstance+` WHERE pool_id = $1 FOR UPDATE`, uint64(poolID))
	inst, err := scanInstance(row)
	if err != nil {
		return nil, err
	}

	if validate != nil {
		if err := validate(inst); err != nil {
			return nil, err
		}
	}
	if err := mutate(inst); err != nil {
		return nil, err
	}

	recipients, err := json.Marshal(inst.Recipients)
	if err != nil {
		return nil, fmt.Errorf("encode recipients: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE direct_grants_instances SET counter = $2, recipients = $3, updated_at = $4
		WHERE pool_id = $1`,
		uint64(inst.PoolID), inst.Counter, recipients, inst.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update instance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return inst, nil
}

const selectInstance = `
	SELECT pool_id, strategy_id, config, counter, recipients, created_at, updated_at
	FROM direct_grants_instances`

func scanInstance(row *sql.Row) (*models.Instance, error) {
	var (
		inst       models.Instance
		poolID     uint64
		id         string
		cfg        []byte
		recipients []byte
		created    time.Time
		updated    time.Time
	)
	err := row.Scan(&poolID, &id, &cfg, &inst.Counter, &recipients, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}

	if err := json.Unmarshal(cfg, &inst.Config); err != nil {
		return nil, fmt.Errorf("stored config invalid: %w", err)
	}
	inst.Recipients = make(map[domain.Address]*strategy.Recipient)
	if err := json.Unmarshal(recipients, &inst.Recipients); err != nil {
		return nil, fmt.Errorf("stored recipients invalid: %w", err)
	}
	inst.PoolID = domain.PoolID(poolID)
	inst.ID = domain.StrategyID(id)
	inst.CreatedAt = created
	inst.UpdatedAt = updated
	return &inst, nil
}

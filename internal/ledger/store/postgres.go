package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"grantflow/internal/ledger/models"
	"grantflow/pkg/domain"
	"grantflow/pkg/platform/addrs"
	"grantflow/pkg/platform/sentinel"
)

// Postgres persists pools durably. Pool ids come from a sequence; Execute
// serializes per-pool writes with FOR UPDATE.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the ledger tables.
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE SEQUENCE IF NOT EXISTS pool_ids;
		CREATE TABLE IF NOT EXISTS pools (
			id          BIGINT PRIMARY KEY,
			profile_id  TEXT NOT NULL,
			strategy_id TEXT NOT NULL UNIQUE,
			token       TEXT NOT NULL,
			metadata_protocol BIGINT NOT NULL DEFAULT 0,
			metadata_pointer  TEXT NOT NULL DEFAULT '',
			balance     BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			admin_addr  TEXT NOT NULL,
			managers    TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("migrate pools: %w", err)
	}
	return nil
}

func (s *Postgres) Reserve(ctx context.Context) (domain.PoolID, error) {
	var id uint64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval('pool_ids')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("reserve pool id: %w", err)
	}
	return domain.PoolID(id), nil
}

func (s *Postgres) Create(ctx context.Context, pool *models.Pool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pools (id, profile_id, strategy_id, token, metadata_protocol, metadata_pointer, balance, admin_addr, managers, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uint64(pool.ID), pool.ProfileID.String(), pool.StrategyID.String(), pool.Token.String(),
		pool.Metadata.Protocol, pool.Metadata.Pointer, pool.Balance,
		pool.Admin.String(), joinAddresses(pool.Managers), pool.CreatedAt, pool.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, id domain.PoolID) (*models.Pool, error) {
	row := s.db.QueryRowContext(ctx, selectPool+` WHERE id = $1`, uint64(id))
	return scanPool(row)
}

func (s *Postgres) Execute(ctx context.Context, id domain.PoolID,
	validate func(*models.Pool) error,
	mutate func(*models.Pool) error) (*models.Pool, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, selectPool+` WHERE id = $1 FOR UPDATE`, uint64(id))
	pool, err := scanPool(row)
	if err != nil {
		return nil, err
	}

	if validate != nil {
		if err := validate(pool); err != nil {
			return nil, err
		}
	}
	if err := mutate(pool); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE pools SET balance = $2, managers = $3, metadata_protocol = $4, metadata_pointer = $5, updated_at = $6
		WHERE id = $1`,
		uint64(pool.ID), pool.Balance, joinAddresses(pool.Managers),
		pool.Metadata.Protocol, pool.Metadata.Pointer, pool.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update pool: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return pool, nil
}

const selectPool = `
	SELECT id, profile_id, strategy_id, token, metadata_protocol, metadata_pointer, balance, admin_addr, managers, created_at, updated_at
	FROM pools`

func scanPool(row *sql.Row) (*models.Pool, error) {
	var (
		p        models.Pool
		id       uint64
		profile  string
		strategy string
		tokenA   string
		admin    string
		managers string
		created  time.Time
		updated  time.Time
	)
	err := row.Scan(&id, &profile, &strategy, &tokenA, &p.Metadata.Protocol, &p.Metadata.Pointer,
		&p.Balance, &admin, &managers, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pool: %w", err)
	}

	profileID, err := domain.ParseProfileID(profile)
	if err != nil {
		return nil, fmt.Errorf("stored profile id invalid: %w", err)
	}
	p.ID = domain.PoolID(id)
	p.ProfileID = profileID
	p.StrategyID = domain.StrategyID(strategy)
	p.Token = domain.Address(tokenA)
	p.Admin = domain.Address(admin)
	p.Managers = splitAddresses(managers)
	p.CreatedAt = created
	p.UpdatedAt = updated
	return &p, nil
}

func joinAddresses(in []domain.Address) string {
	parts := make([]string, len(in))
	for i, a := range in {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

func splitAddresses(in string) []domain.Address {
	if in == "" {
		return nil
	}
	parts := strings.Split(in, ",")
	out := make([]domain.Address, 0, len(parts))
	for _, s := range parts {
		out = append(out, domain.Address(s))
	}
	return addrs.Dedupe(out)
}

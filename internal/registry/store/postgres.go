package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"grantflow/internal/registry/models"
	"grantflow/pkg/domain"
	"grantflow/pkg/platform/addrs"
	"grantflow/pkg/platform/sentinel"
)

// Postgres persists profiles durably. Nonce counters live in their own table
// and are advanced in the same transaction as the profile insert, so the
// compare-and-set guard and the write commit or roll back together.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the registry tables.
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS profiles (
			id         TEXT PRIMARY KEY,
			nonce      BIGINT NOT NULL,
			name       TEXT NOT NULL,
			metadata_protocol BIGINT NOT NULL DEFAULT 0,
			metadata_pointer  TEXT NOT NULL DEFAULT '',
			owner_addr TEXT NOT NULL,
			anchor     TEXT NOT NULL UNIQUE,
			members    TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS profile_nonces (
			owner_addr TEXT PRIMARY KEY,
			next_nonce BIGINT NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("migrate profiles: %w", err)
	}
	return nil
}

func (s *Postgres) CreateWithNonce(ctx context.Context, profile *models.Profile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var expected uint64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO profile_nonces (owner_addr, next_nonce) VALUES ($1, 0)
		ON CONFLICT (owner_addr) DO UPDATE SET next_nonce = profile_nonces.next_nonce
		RETURNING next_nonce`, profile.Owner.String()).Scan(&expected)
	if err != nil {
		return fmt.Errorf("lock nonce row: %w", err)
	}
	if expected != profile.Nonce {
		return sentinel.ErrInvalidState
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (id, nonce, name, metadata_protocol, metadata_pointer, owner_addr, anchor, members, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		profile.ID.String(), profile.Nonce, profile.Name,
		profile.Metadata.Protocol, profile.Metadata.Pointer,
		profile.Owner.String(), profile.Anchor.String(),
		addressesToText(profile.Members), profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert profile: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE profile_nonces SET next_nonce = next_nonce + 1 WHERE owner_addr = $1`,
		profile.Owner.String()); err != nil {
		return fmt.Errorf("advance nonce: %w", err)
	}

	return tx.Commit()
}

func (s *Postgres) FindByID(ctx context.Context, id domain.ProfileID) (*models.Profile, error) {
	return s.findBy(ctx, s.db, "id", id.String())
}

func (s *Postgres) FindByAnchor(ctx context.Context, anchor domain.Address) (*models.Profile, error) {
	return s.findBy(ctx, s.db, "anchor", anchor.String())
}

func (s *Postgres) ExpectedNonce(ctx context.Context, owner domain.Address) (uint64, error) {
	var nonce uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT next_nonce FROM profile_nonces WHERE owner_addr = $1`, owner.String()).Scan(&nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read nonce: %w", err)
	}
	return nonce, nil
}

func (s *Postgres) Execute(ctx context.Context, id domain.ProfileID,
	validate func(*models.Profile) error,
	mutate func(*models.Profile) error) (*models.Profile, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	profile, err := s.findByForUpdate(ctx, tx, id.String())
	if err != nil {
		return nil, err
	}

	if validate != nil {
		if err := validate(profile); err != nil {
			return nil, err
		}
	}
	if err := mutate(profile); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE profiles SET metadata_protocol = $2, metadata_pointer = $3, members = $4, updated_at = $5
		WHERE id = $1`,
		profile.ID.String(), profile.Metadata.Protocol, profile.Metadata.Pointer,
		addressesToText(profile.Members), profile.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return profile, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) findBy(ctx context.Context, q querier, column, value string) (*models.Profile, error) {
	row := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, nonce, name, metadata_protocol, metadata_pointer, owner_addr, anchor, members, created_at, updated_at
		FROM profiles WHERE %s = $1`, column), value)
	return scanProfile(row)
}

func (s *Postgres) findByForUpdate(ctx context.Context, tx *sql.Tx, id string) (*models.Profile, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, nonce, name, metadata_protocol, metadata_pointer, owner_addr, anchor, members, created_at, updated_at
		FROM profiles WHERE id = $1 FOR UPDATE`, id)
	return scanProfile(row)
}

func scanProfile(row *sql.Row) (*models.Profile, error) {
	var (
		p       models.Profile
		rawID   string
		owner   string
		anchor  string
		members string
		created time.Time
		updated time.Time
	)
	err := row.Scan(&rawID, &p.Nonce, &p.Name, &p.Metadata.Protocol, &p.Metadata.Pointer,
		&owner, &anchor, &members, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}

	id, err := domain.ParseProfileID(rawID)
	if err != nil {
		return nil, fmt.Errorf("stored profile id invalid: %w", err)
	}
	p.ID = id
	p.Owner = domain.Address(owner)
	p.Anchor = domain.Address(anchor)
	p.Members = textToAddresses(members)
	p.CreatedAt = created
	p.UpdatedAt = updated
	return &p, nil
}

// Member sets are small; a comma-joined column keeps scanning dependency-free.
func addressesToText(in []domain.Address) string {
	parts := make([]string, len(in))
	for i, a := range in {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

func textToAddresses(in string) []domain.Address {
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// identityCols is the standard SELECT column list for scanIdentity.
const identityCols = `id, email, credential_hash, status, created_at, updated_at`

// uniqueViolation is the PostgreSQL error code for unique constraint hits.
const uniqueViolation = "23505"

// Store persists identities in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates an identity Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Create inserts a new active identity. Returns ErrEmailTaken when the
// email is already registered.
func (s *Store) Create(ctx context.Context, email string, credentialHash []byte) (*Identity, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO identities (email, credential_hash, status)
		VALUES ($1, $2, $3)
		RETURNING `+identityCols,
		email, credentialHash, StatusActive)

	id, err := scanIdentity(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating identity: %w", err)
	}

	s.logger.Info("identity created", "identity_id", id.ID)
	return id, nil
}

// GetByEmail fetches an identity by email. Returns ErrNotFound when no
// account exists.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+identityCols+` FROM identities WHERE email = $1`, email)

	id, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching identity by email: %w", err)
	}
	return id, nil
}

// GetByID fetches an identity by primary key. Returns ErrNotFound when no
// account exists.
func (s *Store) GetByID(ctx context.Context, identityID string) (*Identity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+identityCols+` FROM identities WHERE id = $1`, identityID)

	id, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching identity by id: %w", err)
	}
	return id, nil
}

// SetStatus updates an account's status. Returns ErrNotFound when no
// account exists.
func (s *Store) SetStatus(ctx context.Context, identityID, status string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities SET status = $2, updated_at = now()
		WHERE id = $1`,
		identityID, status)
	if err != nil {
		return fmt.Errorf("updating identity status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanIdentity reads one identity row.
func scanIdentity(row pgx.Row) (*Identity, error) {
	var id Identity
	err := row.Scan(&id.ID, &id.Email, &id.CredentialHash, &id.Status,
		&id.CreatedAt, &id.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

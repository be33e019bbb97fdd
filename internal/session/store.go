// Package session persists chat sessions and their messages. Assistant
// messages keep their citations and grounded flag so history replays
// carry the same provenance as the live response did.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/askgate/askgate/internal/answer"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotFound indicates no session exists for the given ID and owner.
// Another identity's session is indistinguishable from a missing one.
var ErrNotFound = errors.New("session not found")

// Session is one conversation owned by an identity.
type Session struct {
	ID         string
	IdentityID string
	Title      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Message is one turn in a session.
type Message struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	Citations []answer.Citation
	Grounded  bool
	CreatedAt time.Time
}

// maxTitleLen truncates stored session titles.
const maxTitleLen = 120

// Store persists sessions in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a session Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Create starts a new session for identityID.
func (s *Store) Create(ctx context.Context, identityID, title string) (*Session, error) {
	if runes := []rune(title); len(runes) > maxTitleLen {
		title = string(runes[:maxTitleLen])
	}

	var sess Session
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (identity_id, title)
		VALUES ($1, $2)
		RETURNING id, identity_id, title, created_at, updated_at`,
		identityID, title,
	).Scan(&sess.ID, &sess.IdentityID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("session created", "session_id", sess.ID, "identity_id", identityID)
	return &sess, nil
}

// List returns identityID's sessions, most recently updated first.
func (s *Store) List(ctx context.Context, identityID string) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, identity_id, title, created_at, updated_at
		FROM sessions
		WHERE identity_id = $1
		ORDER BY updated_at DESC`,
		identityID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		err := rows.Scan(&sess.ID, &sess.IdentityID, &sess.Title,
			&sess.CreatedAt, &sess.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading session rows: %w", err)
	}
	return sessions, nil
}

// Get fetches one of identityID's sessions. Returns ErrNotFound for
// missing sessions and sessions owned by someone else alike.
func (s *Store) Get(ctx context.Context, sessionID, identityID string) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, identity_id, title, created_at, updated_at
		FROM sessions
		WHERE id = $1 AND identity_id = $2`,
		sessionID, identityID,
	).Scan(&sess.ID, &sess.IdentityID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching session: %w", err)
	}
	return &sess, nil
}

// Delete removes one of identityID's sessions and its messages.
func (s *Store) Delete(ctx context.Context, sessionID, identityID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM sessions WHERE id = $1 AND identity_id = $2`,
		sessionID, identityID)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Debug("session deleted", "session_id", sessionID)
	return nil
}

// AppendMessage records one turn in a session the identity owns and
// bumps the session's updated_at. Citations may be nil for user turns.
func (s *Store) AppendMessage(ctx context.Context, sessionID, identityID string, msg Message) (*Message, error) {
	citationsJSON, err := json.Marshal(msg.Citations)
	if err != nil {
		return nil, fmt.Errorf("encoding citations: %w", err)
	}
	if msg.Citations == nil {
		citationsJSON = []byte(`[]`)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rolling back message transaction", "error", rbErr)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE sessions SET updated_at = now()
		WHERE id = $1 AND identity_id = $2`,
		sessionID, identityID)
	if err != nil {
		return nil, fmt.Errorf("touching session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	stored := msg
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (session_id, role, content, citations, grounded)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		sessionID, msg.Role, msg.Content, citationsJSON, msg.Grounded,
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	stored.SessionID = sessionID

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}
	return &stored, nil
}

// Messages returns a session's turns in chronological order, verifying
// the identity owns the session.
func (s *Store) Messages(ctx context.Context, sessionID, identityID string) ([]Message, error) {
	if _, err := s.Get(ctx, sessionID, identityID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, citations, grounded, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		var citationsJSON []byte
		err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content,
			&citationsJSON, &msg.Grounded, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if err := json.Unmarshal(citationsJSON, &msg.Citations); err != nil {
			return nil, fmt.Errorf("decoding citations: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading message rows: %w", err)
	}
	return messages, nil
}

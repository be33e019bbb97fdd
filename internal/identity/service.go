package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Password bounds. The upper bound is bcrypt's input limit.
const (
	minPasswordLength = 8
	maxPasswordLength = 72
)

var (
	// ErrInvalidEmail indicates a signup with an unparseable email.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrWeakPassword indicates a password outside the accepted bounds.
	ErrWeakPassword = fmt.Errorf("password must be %d-%d characters", minPasswordLength, maxPasswordLength)
)

// Repository is the persistence surface the service needs.
type Repository interface {
	Create(ctx context.Context, email string, credentialHash []byte) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
}

// Service implements the signup/login flow backing token issuance.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates an identity Service.
func NewService(repo Repository, logger *slog.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}, nil
}

// SignUp registers a new account. The password is stored only as a
// bcrypt hash.
func (s *Service) SignUp(ctx context.Context, email, password string) (*Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing credential: %w", err)
	}

	id, err := s.repo.Create(ctx, email, hash)
	if err != nil {
		return nil, err
	}

	s.logger.Info("account registered", "identity_id", id.ID)
	return id, nil
}

// Login checks credentials and returns the matching active identity.
// Unknown email and wrong password collapse into ErrInvalidCredentials
// so responses cannot be used to enumerate accounts.
func (s *Service) Login(ctx context.Context, email, password string) (*Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	id, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Burn a comparison anyway to keep timing uniform.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(id.CredentialHash, []byte(password)); err != nil {
		s.logger.Info("login rejected", "identity_id", id.ID, "reason", "bad_credential")
		return nil, ErrInvalidCredentials
	}

	if id.Status != StatusActive {
		s.logger.Info("login rejected", "identity_id", id.ID, "reason", "suspended")
		return nil, ErrSuspended
	}

	return id, nil
}

// dummyHash is a bcrypt hash of an unguessable value, compared against
// when the email is unknown.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("askgate-timing-pad"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}()

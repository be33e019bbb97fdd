// Package identity manages user accounts: the signup/login flow that
// backs token issuance, and the account records tokens are bound to.
package identity

import (
	"errors"
	"time"
)

// Account status values. Suspended accounts keep their row but can no
// longer log in; outstanding tokens expire on their own.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

var (
	// ErrNotFound indicates no account exists for the given key.
	ErrNotFound = errors.New("identity not found")

	// ErrEmailTaken indicates a signup collision on email.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials indicates a login with a wrong password or
	// unknown email. The same error covers both cases.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSuspended indicates the account exists but may not log in.
	ErrSuspended = errors.New("account suspended")
)

// Identity is a user account. CredentialHash is a bcrypt hash and never
// leaves the process.
type Identity struct {
	ID             string
	Email          string
	CredentialHash []byte
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

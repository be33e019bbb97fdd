//go:build integration

package identity

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"

	"golang.org/x/crypto/bcrypt"

	applog "github.com/askgate/askgate/internal/log"
	"github.com/askgate/askgate/internal/testutil"
)

var sharedDB *testutil.TestDBContainer

func TestMain(m *testing.M) {
	var cleanup func()
	var err error
	sharedDB, cleanup, err = testutil.SetupTestDBForMain()
	if err != nil {
		log.Fatalf("starting test database: %v", err)
	}
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func setupStore(t *testing.T) *Store {
	t.Helper()

	testutil.CleanTables(t, sharedDB.Pool)

	store, err := NewStore(sharedDB.Pool, applog.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func testHash(t *testing.T) []byte {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	return hash
}

func TestStore_CreateAndGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "ada@example.com", testHash(t))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID == "" {
		t.Error("Create() returned empty ID")
	}
	if created.Status != StatusActive {
		t.Errorf("status = %q, want %q", created.Status, StatusActive)
	}

	byEmail, err := store.GetByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if byEmail.ID != created.ID {
		t.Errorf("GetByEmail() ID = %q, want %q", byEmail.ID, created.ID)
	}

	byID, err := store.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if byID.Email != "ada@example.com" {
		t.Errorf("GetByID() email = %q, want ada@example.com", byID.Email)
	}
}

func TestStore_DuplicateEmail(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "ada@example.com", testHash(t)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err := store.Create(ctx, "ada@example.com", testHash(t))
	if !errors.Is(err, ErrEmailTaken) {
		t.Errorf("Create() duplicate error = %v, want %v", err, ErrEmailTaken)
	}
}

func TestStore_GetUnknown(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if _, err := store.GetByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByEmail() error = %v, want %v", err, ErrNotFound)
	}
	if _, err := store.GetByID(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want %v", err, ErrNotFound)
	}
}

func TestStore_SetStatus(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "ada@example.com", testHash(t))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.SetStatus(ctx, created.ID, StatusSuspended); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	got, err := store.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusSuspended {
		t.Errorf("status = %q, want %q", got.Status, StatusSuspended)
	}

	if err := store.SetStatus(ctx, "00000000-0000-0000-0000-000000000000", StatusActive); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetStatus() unknown ID error = %v, want %v", err, ErrNotFound)
	}
}

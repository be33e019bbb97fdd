package session

import (
	"strings"
	"testing"
)

func TestNewStore_NilPool(t *testing.T) {
	_, err := NewStore(nil, nil)
	if err == nil {
		t.Fatal("NewStore(nil, nil) expected error, got nil")
	}
	if !strings.Contains(err.Error(), "pool is required") {
		t.Errorf("NewStore(nil pool) error = %q, want contains %q", err, "pool is required")
	}
}

package filestore

import (
	"context"
	"testing"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{"plain key", "docs/refund-policy.md", "docs/refund-policy.md", false},
		{"stray whitespace", "  docs/a.md ", "docs/a.md", false},
		{"empty", "", "", true},
		{"whitespace only", "   ", "", true},
		{"absolute path", "/etc/passwd", "", true},
		{"traversal", "docs/../../secrets", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeKey(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeKey(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("normalizeKey(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, Options{Region: "us-east-1"}, nil); err == nil {
		t.Error("New() with empty bucket: error = nil, want error")
	}
	if _, err := New(ctx, Options{Bucket: "docs", Region: "us-east-1"}, nil); err == nil {
		t.Error("New() with zero TTL: error = nil, want error")
	}
}

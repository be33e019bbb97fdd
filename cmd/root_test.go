package cmd

import "testing"

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{
		"serve":   false,
		"migrate": false,
		"ingest":  false,
		"version": false,
	}

	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}

	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestRootCommandMetadata(t *testing.T) {
	if rootCmd.Use != "askgate" {
		t.Errorf("Use = %q, want askgate", rootCmd.Use)
	}
	if rootCmd.Short == "" {
		t.Error("Short description is empty")
	}
}

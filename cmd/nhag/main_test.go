package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestCollectEvidence(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"rotation.pdf", "inventory.csv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	extra := filepath.Join(t.TempDir(), "policy.txt")
	if err := os.WriteFile(extra, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	descriptors, err := collectEvidence([]string{extra}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(descriptors) != 3 {
		t.Fatalf("descriptors %d, want 3 (subdirectory must be skipped)", len(descriptors))
	}
	if descriptors[0].FileName != "policy.txt" || descriptors[0].Path != extra {
		t.Fatalf("explicit file first: %+v", descriptors[0])
	}
	for _, d := range descriptors {
		if d.FileName == "" || d.Path == "" {
			t.Fatalf("incomplete descriptor %+v", d)
		}
	}
}

func TestConfigTargetPathHonorsExplicitConfig(t *testing.T) {
	viper.Set("workspace", "/tmp/ws")
	viper.Set("config", "")
	t.Cleanup(func() {
		viper.Set("workspace", "")
		viper.Set("config", "")
	})

	if got := configTargetPath(); got != filepath.Join("/tmp/ws", "nhaguard.yml") {
		t.Fatalf("workspace default path %s", got)
	}

	viper.Set("config", "/etc/nhag/custom.yml")
	if got := configTargetPath(); got != "/etc/nhag/custom.yml" {
		t.Fatalf("explicit --config ignored: %s", got)
	}
}

func TestCollectEvidenceMissingDir(t *testing.T) {
	if _, err := collectEvidence(nil, filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

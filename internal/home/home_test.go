package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	d := New("/tmp/exportstudio-test")
	if d.Root() != "/tmp/exportstudio-test" {
		t.Errorf("expected root /tmp/exportstudio-test, got %s", d.Root())
	}
}

func TestDefault(t *testing.T) {
	t.Setenv(EnvHome, "")
	d, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if d.Root() == "" {
		t.Fatal("expected non-empty root")
	}
	// Should end with "exportstudio".
	if filepath.Base(d.Root()) != "exportstudio" {
		t.Errorf("expected root to end with 'exportstudio', got %s", d.Root())
	}
}

func TestDefaultHonorsEnvOverride(t *testing.T) {
	t.Setenv(EnvHome, "/srv/exports")
	d, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if d.Root() != "/srv/exports" {
		t.Errorf("got %s", d.Root())
	}
}

func TestPaths(t *testing.T) {
	d := New("/data")
	if got := d.DatabasePath(); got != "/data/exportstudio.db" {
		t.Errorf("DatabasePath = %s", got)
	}
	if got := d.GeneratedDir(); got != "/data/generated" {
		t.Errorf("GeneratedDir = %s", got)
	}
	if got := d.DropDir(); got != "/data/drop" {
		t.Errorf("DropDir = %s", got)
	}
}

func TestArtifactDir(t *testing.T) {
	d := New("/data")
	if got := d.ArtifactDir("conversation", "c1"); got != "/data/generated/conversations/c1" {
		t.Errorf("got %s", got)
	}
	if got := d.ArtifactDir("project", "g-abc"); got != "/data/generated/projects/g-abc" {
		t.Errorf("got %s", got)
	}
}

func TestEnsureExists(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "exportstudio")
	d := New(root)
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory")
	}

	// Calling again should be idempotent.
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists (idempotent): %v", err)
	}
}

func TestInstallIDStable(t *testing.T) {
	d := New(t.TempDir())
	first, err := d.InstallID()
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.InstallID()
	if err != nil {
		t.Fatal(err)
	}
	if first == "" || first != second {
		t.Errorf("install id not stable: %q vs %q", first, second)
	}
}

package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/pidgin/compiler"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "test-app"
version = "0.1.0"
prelude = ["lib/core.pdg"]
entry = "main.pdg"

[compiler]
max-registers = 64
peephole = false
sink-returns = true

[vm]
max-frames = 500
trace = true

[log]
verbosity = 2
file = "pidgin.log"

[cache]
enabled = false
path = "/tmp/programs.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "test-app" {
		t.Errorf("project name = %q, want test-app", m.Project.Name)
	}
	if m.Project.Version != "0.1.0" {
		t.Errorf("project version = %q, want 0.1.0", m.Project.Version)
	}
	if m.Project.Entry != "main.pdg" {
		t.Errorf("project entry = %q, want main.pdg", m.Project.Entry)
	}
	if m.VM.MaxFrames != 500 || !m.VM.Trace {
		t.Errorf("vm = %+v, want max-frames 500 and trace", m.VM)
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("log verbosity = %d, want 2", m.Log.Verbosity)
	}
	if got := m.LogFile(); got == nil || *got != filepath.Join(m.Dir, "pidgin.log") {
		t.Errorf("log file = %v, want %s", got, filepath.Join(m.Dir, "pidgin.log"))
	}
	if m.CacheEnabled() {
		t.Error("cache enabled = true, want false")
	}
	if got := m.CachePath(); got != "/tmp/programs.db" {
		t.Errorf("cache path = %q, want /tmp/programs.db", got)
	}

	opts := m.Options()
	want := compiler.Options{
		MaxRegisters:         64,
		InlineBuiltins:       true,
		MaterializeConstants: true,
		SinkReturns:          true,
		Peephole:             false,
		ElideScalarClears:    true,
	}
	if opts != want {
		t.Errorf("options = %+v, want %+v", opts, want)
	}

	paths := m.PreludePaths()
	if len(paths) != 1 || paths[0] != filepath.Join(m.Dir, "lib", "core.pdg") {
		t.Errorf("prelude paths = %v, want [%s]", paths, filepath.Join(m.Dir, "lib", "core.pdg"))
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if opts := m.Options(); opts != compiler.DefaultOptions() {
		t.Errorf("options = %+v, want defaults %+v", opts, compiler.DefaultOptions())
	}
	if !m.CacheEnabled() {
		t.Error("cache enabled = false, want true")
	}
	if got, want := m.CachePath(), filepath.Join(m.Dir, ".pidgin", "cache.db"); got != want {
		t.Errorf("cache path = %q, want %q", got, want)
	}
	if m.LogFile() != nil {
		t.Errorf("log file = %v, want nil", *m.LogFile())
	}
}

func TestLoadManifestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[project\nname = 1"},
		{"registers too high", "[compiler]\nmax-registers = 300"},
		{"negative registers", "[compiler]\nmax-registers = -1"},
		{"negative frames", "[vm]\nmax-frames = -5"},
		{"wrong type", "[vm]\ntrace = \"yes\""},
	}
	for _, tt := range tests {
		dir := t.TempDir()
		writeManifest(t, dir, tt.content)
		if _, err := Load(dir); err == nil {
			t.Errorf("%s: Load succeeded, want error", tt.name)
		}
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load of a directory without pidgin.toml succeeded")
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `[project]
name = "found-project"
`)

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no pidgin.toml exists")
	}
}

func TestDefault(t *testing.T) {
	m := Default("/app")
	if m.Compiler.MaxRegisters != compiler.DefaultMaxRegisters {
		t.Errorf("max registers = %d, want %d", m.Compiler.MaxRegisters, compiler.DefaultMaxRegisters)
	}
	if got := m.CachePath(); got != "/app/.pidgin/cache.db" {
		t.Errorf("cache path = %q, want /app/.pidgin/cache.db", got)
	}
	if m.Options() != compiler.DefaultOptions() {
		t.Errorf("options = %+v, want defaults", m.Options())
	}
}

// Package manifest handles pidgin.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/pidgin/compiler"
)

// FileName is the name of the configuration file.
const FileName = "pidgin.toml"

// Manifest represents a pidgin.toml project configuration.
type Manifest struct {
	Project  Project        `toml:"project"`
	Compiler CompilerConfig `toml:"compiler"`
	VM       VMConfig       `toml:"vm"`
	Log      LogConfig      `toml:"log"`
	Cache    CacheConfig    `toml:"cache"`

	// Dir is the directory containing the pidgin.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string   `toml:"name"`
	Version string   `toml:"version"`
	Prelude []string `toml:"prelude"` // files evaluated before the entry file
	Entry   string   `toml:"entry"`
}

// CompilerConfig selects optimizations. Unset switches stay enabled.
type CompilerConfig struct {
	MaxRegisters         int   `toml:"max-registers"`
	InlineBuiltins       *bool `toml:"inline-builtins"`
	MaterializeConstants *bool `toml:"materialize-constants"`
	SinkReturns          *bool `toml:"sink-returns"`
	Peephole             *bool `toml:"peephole"`
	ElideScalarClears    *bool `toml:"elide-scalar-clears"`
}

// VMConfig configures evaluation.
type VMConfig struct {
	MaxFrames int  `toml:"max-frames"`
	Trace     bool `toml:"trace"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// CacheConfig configures the compiled program cache.
type CacheConfig struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
}

// Default returns the configuration used when no pidgin.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Compiler.MaxRegisters == 0 {
		m.Compiler.MaxRegisters = compiler.DefaultMaxRegisters
	}
	if m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(".pidgin", "cache.db")
	}
}

// Load parses a pidgin.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if m.Compiler.MaxRegisters < 0 || m.Compiler.MaxRegisters > compiler.DefaultMaxRegisters {
		return nil, fmt.Errorf("%s: max-registers must be between 1 and %d, got %d",
			path, compiler.DefaultMaxRegisters, m.Compiler.MaxRegisters)
	}
	if m.VM.MaxFrames < 0 {
		return nil, fmt.Errorf("%s: max-frames must not be negative, got %d", path, m.VM.MaxFrames)
	}

	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a pidgin.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func enabled(b *bool) bool {
	return b == nil || *b
}

// Options returns the compiler options the manifest selects.
func (m *Manifest) Options() compiler.Options {
	c := m.Compiler
	return compiler.Options{
		MaxRegisters:         c.MaxRegisters,
		InlineBuiltins:       enabled(c.InlineBuiltins),
		MaterializeConstants: enabled(c.MaterializeConstants),
		SinkReturns:          enabled(c.SinkReturns),
		Peephole:             enabled(c.Peephole),
		ElideScalarClears:    enabled(c.ElideScalarClears),
	}
}

// CacheEnabled reports whether compiled programs are cached.
func (m *Manifest) CacheEnabled() bool {
	return enabled(m.Cache.Enabled)
}

// CachePath returns the absolute path of the cache database.
func (m *Manifest) CachePath() string {
	if filepath.IsAbs(m.Cache.Path) {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}

// PreludePaths returns absolute paths for the configured prelude files.
func (m *Manifest) PreludePaths() []string {
	var paths []string
	for _, p := range m.Project.Prelude {
		paths = append(paths, filepath.Join(m.Dir, p))
	}
	return paths
}

// LogFile returns the log file path, or nil for stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.Log.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.Dir, path)
	}
	return &path
}

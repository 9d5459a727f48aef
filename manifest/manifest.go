// Package manifest handles microjs.toml sandbox configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("microjs.manifest")

// Manifest represents a microjs.toml configuration.
type Manifest struct {
	Limits Limits `toml:"limits"`
	Run    Run    `toml:"run"`
	Log    Log    `toml:"log"`

	// Dir is the directory containing the microjs.toml file (set at load
	// time).
	Dir string `toml:"-"`
}

// Limits configures the sandbox budget.
type Limits struct {
	MemoryBytes  int `toml:"memory-bytes"`
	TimeMS       int `toml:"time-ms"`
	RegexStack   int `toml:"regex-stack"`
	PollInterval int `toml:"poll-interval"`
}

// Run configures the default entry script.
type Run struct {
	Entry string `toml:"entry"`
}

// Log configures CLI logging.
type Log struct {
	Verbosity int `toml:"verbosity"`
}

// TimeLimit returns the wall-clock budget as a duration (0 = unbounded).
func (l Limits) TimeLimit() time.Duration {
	return time.Duration(l.TimeMS) * time.Millisecond
}

// Load parses a microjs.toml file from the given directory. A missing file
// is not an error: the zero manifest means unbounded execution.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "microjs.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Manifest{Dir: dir}, nil
		}
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	m.Dir = dir
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	log.Debugf("loaded %s", path)
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Limits.MemoryBytes < 0 {
		return fmt.Errorf("limits.memory-bytes must not be negative")
	}
	if m.Limits.TimeMS < 0 {
		return fmt.Errorf("limits.time-ms must not be negative")
	}
	if m.Limits.RegexStack < 0 {
		return fmt.Errorf("limits.regex-stack must not be negative")
	}
	if m.Limits.PollInterval < 0 {
		return fmt.Errorf("limits.poll-interval must not be negative")
	}
	return nil
}

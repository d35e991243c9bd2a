// Package settings loads and saves user preferences. Load and Save are pure
// functions at the process boundary: everything in between works on a plain
// Settings value threaded through constructors.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Settings holds the user-tunable knobs. None of them affect correctness;
// a missing or broken settings file degrades to defaults.
type Settings struct {
	// PollIntervalMS is the snapshot polling cadence in milliseconds.
	PollIntervalMS int `yaml:"poll_interval_ms" default:"3000"`
	// ConnectionCap limits how many records each poll pulls.
	ConnectionCap int `yaml:"connection_cap" default:"500"`
	// NotifyNewCountries toggles the per-country alert gate.
	NotifyNewCountries bool `yaml:"notify_new_countries" default:"true"`
	// Theme is the dashboard theme name, opaque to the engine.
	Theme string `yaml:"theme" default:"dark"`
	// DefaultCountry preselects a country filter on startup, empty for none.
	DefaultCountry string `yaml:"default_country"`
}

// Default returns the built-in settings.
func Default() Settings {
	var s Settings
	// Tags are static; this cannot fail.
	_ = defaults.Set(&s)
	return s
}

// PollInterval returns the polling cadence as a duration.
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMS) * time.Millisecond
}

// Load reads the settings file at path and merges it over the defaults.
// A missing file yields the defaults with no error; a malformed file yields
// the defaults and the parse error so the caller can log it.
func Load(path string) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Default(), fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// Save writes the settings to path, creating parent directories as needed.
// Persistence is best-effort; callers log the error and move on.
func Save(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

package watch

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v2"
)

type (
	Target struct {
		URI      string
		Path     string
		Interval time.Duration
	}

	targetConfig struct {
		URI      string `yaml:"uri"`
		Path     string `yaml:"path"`
		Interval string `yaml:"interval"`
	}
)

var ErrNoTargets = errors.New("no targets configured")

// ParseTargets decodes a list of targets. Fields a target leaves empty are
// taken from defaults.
func ParseTargets(configDataSource io.Reader, defaults Target) ([]Target, error) {
	var c struct {
		Targets []targetConfig `yaml:"targets,flow"`
	}

	if err := yaml.NewDecoder(configDataSource).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode targets: %w", err)
	}

	if len(c.Targets) == 0 {
		return nil, ErrNoTargets
	}

	targets := make([]Target, 0, len(c.Targets))

	for i, tc := range c.Targets {
		t := Target{
			URI:      tc.URI,
			Path:     tc.Path,
			Interval: defaults.Interval,
		}

		if t.URI == "" {
			t.URI = defaults.URI
		}

		if t.Path == "" {
			t.Path = defaults.Path
		}

		if tc.Interval != "" {
			d, err := time.ParseDuration(tc.Interval)
			if err != nil {
				return nil, fmt.Errorf("failed to parse interval of target %d: %w", i, err)
			}

			t.Interval = d
		}

		targets = append(targets, t)
	}

	return targets, nil
}

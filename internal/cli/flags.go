package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rileyhilliard/fleetrun/internal/config"
	"github.com/rileyhilliard/fleetrun/internal/errors"
)

// OutputTimeFormat names the per-run folder created under --base-path.
const OutputTimeFormat = "20060102_150405"

// parseStateFlags turns repeated -S key=value flags into a map. Later
// flags win. Values may contain '='.
func parseStateFlags(flags []string) (map[string]string, error) {
	out := make(map[string]string, len(flags))
	for _, f := range flags {
		key, value, ok := strings.Cut(f, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("'-S %s' isn't a key=value pair", f),
				"Try something like -S ITERATIONS=10")
		}
		out[key] = value
	}
	return out, nil
}

// outputPath picks the run's output directory. --full-path is used as is;
// --base-path gets a timestamped subfolder.
func outputPath(s config.Settings, now time.Time) (string, error) {
	switch {
	case s.FullPath != "":
		return filepath.Clean(s.FullPath), nil
	case s.BasePath != "":
		return filepath.Join(s.BasePath, now.Format(OutputTimeFormat)), nil
	default:
		return "", errors.New(errors.ErrConfig,
			"No output location",
			"Pass --base-path (-b) or --full-path (-B), or set base-path in ~/.config/fleetrun/config.yaml")
	}
}

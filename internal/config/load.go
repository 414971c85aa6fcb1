package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves and parses the config file. A missing file yields defaults
// with a warning. Filesystem paths in the result have a leading ~ expanded.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{Path: resolvedPath, Config: Default()}
	content, err := os.ReadFile(resolvedPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		loaded.Warnings = []Warning{{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		}}
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	default:
		loaded.Exists = true
		loaded.Config, loaded.Warnings, err = Parse(string(content), loaded.Config)
		if err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
		}
	}

	if err := expandPaths(&loaded.Config); err != nil {
		return Loaded{}, err
	}
	return loaded, nil
}

func expandPaths(cfg *Config) error {
	for _, field := range []*string{
		&cfg.Journal.Path,
		&cfg.Capture.Dir,
		&cfg.Indicator.SoundStartFile,
		&cfg.Indicator.SoundStopFile,
		&cfg.Indicator.SoundSavedFile,
	} {
		expanded, err := expandHome(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	return nil
}

// expandHome rewrites "~" and "~/..." against the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Dir returns the vaani home directory, ~/.vaani by default. VAANI_DIR
// overrides it for tests and sandboxed runs.
func Dir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("VAANI_DIR")); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".vaani"), nil
}

// File returns the config file path under the vaani home directory.
func File() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// PendingRecordingPath is the well-known location of the most recent raw
// capture, kept until the pipeline fully succeeds.
func PendingRecordingPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "pending", "last_recording.wav"), nil
}

// EnsureDirs creates the vaani home directory tree.
func EnsureDirs() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	for _, sub := range []string{"", "pending", filepath.Join("prompts", "modes")} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return fmt.Errorf("create vaani directory %q: %w", sub, err)
		}
	}
	return nil
}

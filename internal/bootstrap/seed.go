// Package bootstrap seeds a gateway home directory on first run.
package bootstrap

import (
	"embed"
	"log/slog"
	"os"
	"path/filepath"
)

//go:embed templates/config.json5
var templateFS embed.FS

// homeDirs are created under the gateway home on every start.
var homeDirs = []string{"sessions", "cron", "cron/output", "logs"}

// EnsureHome creates the home layout and seeds a commented config file
// if none exists at cfgPath. Existing files are never overwritten.
// Returns the paths that were created.
func EnsureHome(home, cfgPath string) ([]string, error) {
	var created []string

	for _, name := range homeDirs {
		dir := filepath.Join(home, name)
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return created, err
		}
		created = append(created, dir)
	}

	if cfgPath != "" {
		ok, err := seedConfig(cfgPath)
		if err != nil {
			slog.Warn("bootstrap: failed to seed config", "path", cfgPath, "error", err)
		} else if ok {
			created = append(created, cfgPath)
		}
	}

	if len(created) > 0 {
		slog.Info("bootstrap: seeded gateway home", "home", home, "created", len(created))
	}
	return created, nil
}

// seedConfig writes the embedded config template if the file doesn't
// exist. Returns true if the file was created.
func seedConfig(cfgPath string) (bool, error) {
	if _, err := os.Stat(cfgPath); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	content, err := templateFS.ReadFile("templates/config.json5")
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(cfgPath, content, 0o600); err != nil {
		return false, err
	}
	return true, nil
}

package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDataDir picks a per-user data directory following the platform
// convention. The commands run unprivileged, so system-wide locations such
// as /var/lib are never chosen by default.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "evtap")
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "evtap")
	case "windows":
		if local := os.Getenv("LocalAppData"); local != "" {
			return filepath.Join(local, "evtap")
		}
		return filepath.Join(home, "AppData", "Local", "evtap")
	default:
		return filepath.Join(home, ".local", "share", "evtap")
	}
}

package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// SessionType identifies the display-server family of the current desktop
// session. It decides which clipboard and key-simulation tooling applies.
type SessionType string

const (
	SessionX11     SessionType = "x11"
	SessionWayland SessionType = "wayland"
	SessionNone    SessionType = "none"
)

func CurrentSessionType() SessionType {
	return DetectSessionType(runtime.GOOS, os.Getenv)
}

// DetectSessionType inspects the session environment. On macOS there is only
// one windowing system, reported as SessionNone since the X11/Wayland split
// does not apply there.
func DetectSessionType(goos string, getenv func(string) string) SessionType {
	if goos != "linux" {
		return SessionNone
	}

	switch getenv("XDG_SESSION_TYPE") {
	case "wayland":
		return SessionWayland
	case "x11":
		return SessionX11
	}

	if getenv("WAYLAND_DISPLAY") != "" {
		return SessionWayland
	}
	if getenv("DISPLAY") != "" {
		return SessionX11
	}

	return SessionNone
}

func NormalizeArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	default:
		return arch
	}
}

func DefaultModelDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	dataDir, err := defaultDataDirFor(goos, homeDir, xdgDataHome)
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "models"), nil
}

func DefaultRecordingDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	dataDir, err := defaultDataDirFor(goos, homeDir, xdgDataHome)
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "recordings"), nil
}

func ResolveModelDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	return DefaultModelDirFor(runtime.GOOS, homeDir, os.Getenv("XDG_DATA_HOME"))
}

func ResolveRecordingDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	return DefaultRecordingDirFor(runtime.GOOS, homeDir, os.Getenv("XDG_DATA_HOME"))
}

func defaultDataDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux":
		if xdgDataHome != "" {
			return filepath.Join(xdgDataHome, "open-wispr"), nil
		}
		return filepath.Join(homeDir, ".local", "share", "open-wispr"), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", "open-wispr"), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
}

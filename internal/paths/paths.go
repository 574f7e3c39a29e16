// Package paths resolves where speech keeps its config file and its
// database. Each location is chosen by flag, then environment, then the
// platform default.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user directories.
const AppName = "speech"

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "SPEECH_CONFIG_DIR"
	EnvDataDir   = "SPEECH_DATA_DIR"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// xdgDir returns $env/speech, or ~/fallback/speech when env is unset. Off
// Linux it returns os.UserConfigDir()/speech.
func xdgDir(env string, fallback ...string) (string, error) {
	if runtime.GOOS != "linux" {
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, AppName), nil
	}
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, fallback...), AppName)...), nil
}

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/speech (fallback ~/.config/speech)
// macOS:   ~/Library/Application Support/speech
// Windows: %APPDATA%/speech
func DefaultConfigDir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform-specific default directory for the
// SQLite database.
//
// Linux:   $XDG_DATA_HOME/speech (fallback ~/.local/share/speech)
// macOS:   ~/Library/Application Support/speech
// Windows: %APPDATA%/speech
func DefaultDataDir() (string, error) {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// ResolveConfigDir returns flag, else $SPEECH_CONFIG_DIR, else
// DefaultConfigDir(). Overrides are made absolute.
func ResolveConfigDir(flag string) (string, error) {
	return resolve(flag, "", EnvConfigDir, DefaultConfigDir)
}

// ResolveDataDir returns flag, else the data_dir value from config.yaml,
// else $SPEECH_DATA_DIR, else DefaultDataDir(). Overrides are made absolute.
func ResolveDataDir(flag, configValue string) (string, error) {
	return resolve(flag, configValue, EnvDataDir, DefaultDataDir)
}

func resolve(flag, configValue, env string, platform func() (string, error)) (string, error) {
	for _, v := range []string{flag, configValue, os.Getenv(env)} {
		if v != "" {
			return filepath.Abs(v)
		}
	}
	return platform()
}

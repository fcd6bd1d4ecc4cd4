//go:build !windows

package log

import (
	"os"
	"path/filepath"
	"runtime"
)

func defaultDir() (string, error) {
	if runtime.GOOS == "darwin" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Logs", "murmur"), nil
	}
	// $XDG_CONFIG_HOME, else ~/.config
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "murmur", "logs"), nil
}

package conf

import (
	"os"
	"path/filepath"
	"runtime"
)

const appDirName = "patchwork"

// GetDefaultConfigPaths returns where config.yaml is looked for, in order:
// the working directory, then the per-user and system-wide directories.
// When one of them already holds a config.yaml only that one is returned.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "windows" {
			paths = append(paths, filepath.Join(home, "AppData", "Roaming", appDirName))
		} else {
			paths = append(paths, filepath.Join(home, ".config", appDirName))
		}
	}
	if runtime.GOOS != "windows" {
		paths = append(paths, filepath.Join("/etc", appDirName))
	}

	for _, p := range paths {
		if _, err := os.Stat(filepath.Join(p, "config.yaml")); err == nil {
			return []string{p}
		}
	}
	return paths
}

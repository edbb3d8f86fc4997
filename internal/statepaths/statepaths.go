// Package statepaths resolves the on-disk state layout from viper config.
package statepaths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const RegistryFilename = "subgroups.json"

// StateDir is the root of all persistent state, ~-expanded.
func StateDir() string {
	dir := strings.TrimSpace(viper.GetString("state_dir"))
	if dir == "" {
		dir = "~/.herald"
	}
	return filepath.Clean(expandHome(dir))
}

// AuthDir holds the device store, the credential summary and the alias map.
// Purging it resets the pairing.
func AuthDir() string {
	return childDir(viper.GetString("auth.dir_name"), "auth")
}

// DataDir holds durable bot data that survives a credential purge.
func DataDir() string {
	return childDir(viper.GetString("data.dir_name"), "data")
}

func RegistryFile() string {
	return filepath.Join(DataDir(), RegistryFilename)
}

func childDir(name, fallback string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fallback
	}
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(StateDir(), name)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}

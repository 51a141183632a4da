// Package config loads relay configuration from defaults, a yaml file and
// the environment.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	// HomeEnv relocates the configuration directory.
	HomeEnv = EnvPrefix + "_HOME"
	// ConfigFileEnv names the config file when no flag is given.
	ConfigFileEnv = EnvPrefix + "_CONFIG"

	configDirName  = ".dmsrelay"
	configFileName = "config.yaml"
)

// DefaultConfigDir is $DMSRELAY_HOME, or ~/.dmsrelay.
func DefaultConfigDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(HomeEnv)); dir != "" {
		return ExpandPath(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Join(errors.New("config: locate home directory"), err)
	}
	return filepath.Join(home, configDirName), nil
}

// DefaultConfigPath is config.yaml inside DefaultConfigDir.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// ResolveConfigPath picks the config file: the explicit path, then
// $DMSRELAY_CONFIG, then DefaultConfigPath. The result is ~-expanded.
func ResolveConfigPath(explicit string) (string, error) {
	for _, p := range []string{explicit, os.Getenv(ConfigFileEnv)} {
		if p = strings.TrimSpace(p); p != "" {
			return ExpandPath(p)
		}
	}
	return DefaultConfigPath()
}

// ExpandPath replaces a leading "~" or "~/" with the home directory. Other
// paths are returned unchanged.
func ExpandPath(path string) (string, error) {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok || (rest != "" && rest[0] != '/' && rest[0] != filepath.Separator) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Join(errors.New("config: locate home directory"), err)
	}
	return filepath.Join(home, rest), nil
}

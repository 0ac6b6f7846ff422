package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var flagConfig string

// cliConfig holds settings loadable from a config file. Flags passed on
// the command line win over file values.
type cliConfig struct {
	Format  string `mapstructure:"format"`
	Workers int    `mapstructure:"workers"`
}

// loadConfig reads .taproot.yaml from dir (or the --config path when
// given). A missing config file is not an error; defaults apply.
func loadConfig(dir string) (*cliConfig, error) {
	v := viper.New()
	v.SetDefault("format", "json")
	v.SetDefault("workers", 0)

	if flagConfig != "" {
		v.SetConfigFile(flagConfig)
	} else {
		v.SetConfigName(".taproot")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// An explicit --config that does not exist is an error; the
			// implicit search path is allowed to come up empty.
			if flagConfig != "" || !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg cliConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// applyConfig fills unset flags from the config file. Errors reading the
// config degrade to defaults; commands should not fail before they run.
func applyConfig() {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", err)
		cfg = &cliConfig{Format: "json"}
	}
	if flagFormat == "" {
		flagFormat = cfg.Format
	}
	if flagWorkers == 0 {
		flagWorkers = cfg.Workers
	}
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

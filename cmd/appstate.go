package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// appState is the modifiable state of the application.
type appState struct {
	// Log is the root logger of the application.
	// Consumers are expected to store and use local copies of the logger
	// after modifying with the .With method.
	Log *zap.Logger

	Viper *viper.Viper

	HomePath  string
	Debug     bool
	LogFormat string
	Config    *Config
}

func (a *appState) configPath() string {
	return filepath.Join(a.HomePath, "config", "config.yaml")
}

// loadConfigFile reads config handled by a viper instance, parses it, and
// sets it on the app state. A missing config file is not an error here;
// commands that need one check a.Config themselves.
func (a *appState) loadConfigFile(_ context.Context) error {
	cfgPath := a.configPath()
	if _, err := os.Stat(cfgPath); err != nil {
		return nil
	}

	a.Viper.SetConfigFile(cfgPath)
	if err := a.Viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read in config: %w", err)
	}

	byt, err := os.ReadFile(a.Viper.ConfigFileUsed())
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(byt, cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	a.Config = cfg
	return nil
}

// requireConfig is used by commands that cannot run without a config file.
func (a *appState) requireConfig() (*Config, error) {
	if a.Config == nil {
		return nil, fmt.Errorf("%w: %s (run '%s config init')", errConfigNotFound, a.configPath(), appName)
	}
	return a.Config, nil
}

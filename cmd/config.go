package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration of one keeper instance.
type Config struct {
	Redis  RedisConfig  `yaml:"redis" json:"redis"`
	Chain  ChainConfig  `yaml:"chain" json:"chain"`
	Wallet WalletConfig `yaml:"wallet" json:"wallet"`
	Relay  RelayConfig  `yaml:"relay" json:"relay"`
}

// RedisConfig locates the redis instance holding the command queues and the
// distributed locks.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// ChainConfig locates the wallet gateway and the core contract behind it.
type ChainConfig struct {
	RPCAddr    string        `yaml:"rpc-addr" json:"rpc-addr"`
	ContractID string        `yaml:"contract-id" json:"contract-id"`
	Decimals   int           `yaml:"decimals" json:"decimals"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// WalletConfig names the signing credentials. Operator keys are indexed by
// instance id; the admin key is shared by the account-draining instances.
type WalletConfig struct {
	AdminKey     string   `yaml:"admin-key" json:"admin-key"`
	OperatorKeys []string `yaml:"operator-keys" json:"operator-keys"`
}

// RelayConfig tunes the two polling loops.
type RelayConfig struct {
	AccountQueueKey  string        `yaml:"account-queue-key" json:"account-queue-key"`
	TokenQueueKey    string        `yaml:"token-queue-key" json:"token-queue-key"`
	Interval         time.Duration `yaml:"interval" json:"interval"`
	BatchSize        int           `yaml:"batch-size" json:"batch-size"`
	OnMissingAccount string        `yaml:"on-missing-account" json:"on-missing-account"`
	RequeueLimit     int           `yaml:"requeue-limit" json:"requeue-limit"`
}

// Validate refuses configurations the keeper cannot start with. Range checks
// on decimals, instance ids, and the missing-account policy happen where the
// values are consumed.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Chain.RPCAddr == "" {
		return fmt.Errorf("chain.rpc-addr is required")
	}
	if c.Chain.ContractID == "" {
		return fmt.Errorf("chain.contract-id is required")
	}
	if c.Wallet.AdminKey == "" {
		return fmt.Errorf("wallet.admin-key is required")
	}
	if len(c.Wallet.OperatorKeys) == 0 {
		return fmt.Errorf("wallet.operator-keys must name at least one key")
	}
	if c.Relay.AccountQueueKey == "" || c.Relay.TokenQueueKey == "" {
		return fmt.Errorf("relay queue keys are required")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Chain: ChainConfig{
			RPCAddr:  "http://127.0.0.1:8080",
			Decimals: 8,
			Timeout:  30 * time.Second,
		},
		Wallet: WalletConfig{
			AdminKey:     "keeper-admin",
			OperatorKeys: []string{"keeper-operator-0", "keeper-operator-1"},
		},
		Relay: RelayConfig{
			AccountQueueKey:  "commands:account",
			TokenQueueKey:    "commands:token",
			Interval:         time.Second,
			BatchSize:        10,
			OnMissingAccount: "drop",
			RequeueLimit:     5,
		},
	}
}

func configCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Aliases: []string{"cfg"},
		Short:   "Manage configuration file",
	}

	cmd.AddCommand(
		configShowCmd(a),
		configInitCmd(a),
	)

	return cmd
}

// Command for printing current configuration
func configShowCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "show",
		Aliases: []string{"s", "list", "l"},
		Args:    withUsage(cobra.NoArgs),
		Short:   "Prints current configuration",
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s config show --home %s
$ %s cfg list`, appName, defaultHome, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.requireConfig()
			if err != nil {
				return err
			}

			jsn, err := cmd.Flags().GetBool(flagJSON)
			if err != nil {
				return err
			}
			yml, err := cmd.Flags().GetBool(flagYAML)
			if err != nil {
				return err
			}
			switch {
			case yml && jsn:
				return fmt.Errorf("can't pass both --json and --yaml, must pick one")
			case jsn:
				out, err := json.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			default:
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			return nil
		},
	}
	return yamlFlag(a.Viper, jsonFlag(a.Viper, cmd))
}

// Command for initializing an empty config at the --home location
func configInitCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "init",
		Aliases: []string{"i"},
		Args:    withUsage(cobra.NoArgs),
		Short:   "Creates a default home directory at path defined by --home",
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s config init --home %s
$ %s cfg i`, appName, defaultHome, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, err := cmd.Flags().GetBool(flagForce)
			if err != nil {
				return err
			}

			cfgPath := a.configPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists: %s (use --force to overwrite)", cfgPath)
			}

			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}

			out, err := yaml.Marshal(defaultConfig())
			if err != nil {
				return err
			}
			if err := os.WriteFile(cfgPath, out, 0o600); err != nil {
				return err
			}

			a.Log.Info("Config file written", zap.String("path", cfgPath))
			return nil
		},
	}
	return forceFlag(a.Viper, cmd)
}

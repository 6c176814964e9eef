package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momo-labs/keeper/internal/keeperdebug"
	"github.com/momo-labs/keeper/internal/keepermetrics"
	"github.com/momo-labs/keeper/keeper/chain"
	"github.com/momo-labs/keeper/keeper/queue"
	"github.com/momo-labs/keeper/keeper/relay"
)

// startCmd represents the start command
func startCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"st"},
		Short:   "Start the keeper relay loops",
		Args:    withUsage(cobra.NoArgs),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s start --metrics-addr 127.0.0.1:5184
$ %s st --debug-addr 127.0.0.1:7597`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.requireConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			instanceID, err := chain.InstanceIDFromEnv()
			if err != nil {
				return err
			}
			wallet, err := chain.NewWallet(instanceID, cfg.Wallet.AdminKey, cfg.Wallet.OperatorKeys)
			if err != nil {
				return err
			}
			a.Log.Info("Keeper starting",
				zap.Int("instance_id", wallet.InstanceID),
				zap.Bool("drains_account_queue", wallet.DrainsAccountQueue()),
			)

			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer rdb.Close()
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("ping redis at %s: %w", cfg.Redis.Addr, err)
			}

			contract, err := chain.NewCoreContract(cfg.Chain.ContractID, cfg.Chain.Decimals)
			if err != nil {
				return err
			}
			gateway := chain.NewRPCGateway(a.Log, cfg.Chain.RPCAddr, cfg.Chain.Timeout, contract)

			metrics := relay.NewPrometheusMetrics()
			relayer, err := relay.NewRelayer(a.Log, relay.Config{
				AccountQueueKey:  cfg.Relay.AccountQueueKey,
				TokenQueueKey:    cfg.Relay.TokenQueueKey,
				Interval:         cfg.Relay.Interval,
				BatchSize:        cfg.Relay.BatchSize,
				OnMissingAccount: relay.MissingAccountPolicy(cfg.Relay.OnMissingAccount),
				RequeueLimit:     cfg.Relay.RequeueLimit,
			}, queue.NewRedis(rdb), gateway, contract, wallet, metrics)
			if err != nil {
				return err
			}

			metricsAddr, err := cmd.Flags().GetString(flagMetricsAddr)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				ln, err := net.Listen("tcp", metricsAddr)
				if err != nil {
					return fmt.Errorf("failed to listen on metrics address %q: %w", metricsAddr, err)
				}
				log := a.Log.With(zap.String("sys", "metricshttp"))
				log.Info("Metrics server listening", zap.String("addr", metricsAddr))
				keepermetrics.StartMetricsServer(ctx, log, ln, metrics.Registry)
			}

			debugAddr, err := cmd.Flags().GetString(flagDebugAddr)
			if err != nil {
				return err
			}
			if debugAddr != "" {
				ln, err := net.Listen("tcp", debugAddr)
				if err != nil {
					return fmt.Errorf("failed to listen on debug address %q: %w", debugAddr, err)
				}
				log := a.Log.With(zap.String("sys", "debughttp"))
				log.Info("Debug server listening", zap.String("addr", debugAddr))
				keeperdebug.StartDebugServer(ctx, log, ln, metrics.Registry)
			}

			eg, egCtx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return relayer.Run(egCtx)
			})

			// Block until the loops stop. The context being canceled shuts
			// the relayer down cleanly; anything else is fatal and the
			// supervisor restarts the process.
			if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				a.Log.Error("Keeper stopped with error", zap.Error(err))
				return err
			}
			return nil
		},
	}
	return debugServerFlags(a.Viper, metricsServerFlags(a.Viper, cmd))
}

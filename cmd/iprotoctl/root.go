package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ice-blockchain/go-tarantool-client"
	"github.com/ice-blockchain/go-tarantool-client/balancer"
	"github.com/ice-blockchain/go-tarantool-client/pool"
)

var (
	lb *balancer.Balancer

	// RootCmd is the base command, subcommands share a balancer built from
	// the persistent flags.
	RootCmd = &cobra.Command{
		Use:               "iprotoctl",
		Short:             "Send requests to IProto nodes",
		SilenceUsage:      true,
		PersistentPreRunE: setupBalancer,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if viper.GetBool("metrics") {
				metrics.WritePrometheus(cmd.OutOrStdout(), false)
			}
			if lb == nil {
				return nil
			}
			return lb.Close()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := RootCmd.PersistentFlags()
	flags.String("endpoints", "127.0.0.1:3301", "comma separated node addresses, name=addr names a node")
	flags.String("user", "", "user to authenticate as")
	flags.String("password", "", "password of the user")
	flags.Int32("pool-size", 1, "connections per node")
	flags.Duration("timeout", 5*time.Second, "request timeout")
	flags.Duration("idle-timeout", 0, "fail a connection that reads nothing for this long")
	flags.Bool("metrics", false, "print metrics in Prometheus format after the command")
	flags.Bool("verbose", false, "log connection events")

	RootCmd.AddCommand(pingCmd, callCmd, statusCmd)
}

func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("iproto")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setupBalancer(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	level := slog.LevelWarn
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	logger := tarantool.NewSlogLogger(slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	opts := balancer.Opts{
		ConnOpts: tarantool.Opts{
			Timeout:     viper.GetDuration("timeout"),
			IdleTimeout: viper.GetDuration("idle-timeout"),
			Logger:      logger,
		},
		PoolOpts: pool.Opts{MaxSize: viper.GetInt32("pool-size")},
		Logger:   logger,
	}

	var err error
	lb, err = balancer.New(context.Background(), balancer.ViperProvider{Viper: viper.GetViper()}, opts)
	if err != nil {
		return fmt.Errorf("failed to create balancer: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jnesss/temporal-lens/shm"
)

const (
	version = "0.2.0"

	defaultInterval = 50 * time.Millisecond
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lens-collector",
		Short: "Drain temporal-lens segments written by instrumented processes",
		Long:  `lens-collector discovers the shared memory segments of instrumented
processes, keeps their collector heartbeat fresh and drains their event rings.

Settings can also be given as LENS_ROOT, LENS_INTERVAL and LENS_LOG_LEVEL.`,
		Version:      version,
		SilenceUsage: true,
		RunE:         runWatch,
	}

	rootCmd.PersistentFlags().String("root", shm.DefaultRoot(), "Directory holding segments")
	rootCmd.PersistentFlags().Duration("interval", defaultInterval, "Drain interval")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	viper.SetEnvPrefix("LENS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{"root", "interval", "log-level"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(newWatchCmd(), newDumpCmd(), newInfoCmd(), newHostCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	cfg.Level = level
	return cfg.Build()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

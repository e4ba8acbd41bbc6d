package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jnesss/temporal-lens/collector"
	"github.com/jnesss/temporal-lens/shm"
)

func newHostCmd() *cobra.Command {
	layout := shm.DefaultLayout
	cmd := &cobra.Command{
		Use:   "host PATH",
		Short: "Create a segment for a producer started in attach mode and drain it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			r, err := collector.Create(args[0], layout, collector.WithLogger(logger))
			if err != nil {
				return err
			}
			defer r.Close()
			logger.Info("Hosting segment",
				zap.String("path", args[0]),
				zap.Int("rings", layout.Rings),
				zap.Int("ring_capacity", layout.RingCapacity))

			ctx, stop := signalContext()
			defer stop()

			s := newSummary(r, logger)
			err = r.Run(ctx, viper.GetDuration("interval"), s.add)
			s.finish()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVar(&layout.Rings, "rings", layout.Rings, "Maximum producer threads")
	cmd.Flags().IntVar(&layout.RingCapacity, "ring-capacity", layout.RingCapacity, "Bytes per thread ring (power of two)")
	cmd.Flags().IntVar(&layout.InternCapacity, "labels", layout.InternCapacity, "Maximum distinct labels")
	return cmd
}

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"propertyhub/metrics"
	"propertyhub/sweep"
)

const shutdownTimeout = 10 * time.Second

func newSweepCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run every sweep once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := newDeps(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer d.Close()

			counts, err := c.scheduler(d).RunOnce(ctx)
			for name, n := range counts {
				cmd.Printf("%s: %d\n", name, n)
			}
			return err
		},
	}
}

func newRunCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run periodic sweeps and serve metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := newDeps(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer d.Close()

			reg := prometheus.NewRegistry()
			metrics.Register(reg)
			srv := metrics.NewServer(c.cfg.Metrics.Addr, reg)
			serveErr, err := srv.Start()
			if err != nil {
				return err
			}

			s := c.scheduler(d)
			if err := s.Start(ctx); err != nil {
				return err
			}
			c.logger.Info("propertyhub running", "sweep_interval", c.cfg.Sweep.Interval, "metrics_addr", srv.Addr())

			select {
			case <-ctx.Done():
			case err = <-serveErr:
			}

			s.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if stopErr := srv.Stop(shutdownCtx); stopErr != nil {
				c.logger.Warn("metrics server shutdown", "error", stopErr)
			}
			c.logger.Info("propertyhub stopped")
			return err
		},
	}
}

func (c *cli) scheduler(d *deps) *sweep.Scheduler {
	jobs := sweep.Jobs(c.cfg.Sweep, d.offers, d.inquiries, d.agreements, time.Now)
	return sweep.NewScheduler(c.cfg.Sweep.Interval, c.logger, jobs...)
}

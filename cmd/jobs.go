package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-chainpay/config"
)

var (
	workerMode bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire unpaid invoices past their quote deadline or expiry height",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"sweep",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.SweepInterval },
			func(app *application, ctx context.Context) error {
				return app.sweeper.RunSweepBatch(ctx)
			},
		)
	},
}

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Run webhook delivery related commands",
}

var webhooksDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Dispatch due webhook deliveries to merchant endpoints",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"webhooks_dispatch",
			func(cfg *config.Config) time.Duration { return cfg.Webhooks.DispatchInterval },
			func(app *application, ctx context.Context) error {
				return app.dispatcher.RunDispatchBatch(ctx)
			},
		)
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run the chain event poller until interrupted",
	Long:  "Run the chain event poll loop standalone. Only one poller instance may run against a database at a time.",
	Run: func(_ *cobra.Command, _ []string) {
		app, cleanup := mustCreateApplication()
		defer cleanup()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go app.poller.Run(ctx)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logrus.WithField("job", "poll").Info("Worker shutdown requested")
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(webhooksCmd)
	rootCmd.AddCommand(pollCmd)
	webhooksCmd.AddCommand(webhooksDispatchCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(app *application, ctx context.Context) error,
) {
	app, cleanup := mustCreateApplication()
	defer cleanup()

	if workerMode {
		runWorker(name, intervalResolver(app.cfg), app, fn)
		return
	}

	ctx := context.Background()
	runJob(name, func() error { return fn(app, ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	app *application,
	fn func(app *application, ctx context.Context) error,
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() error { return fn(app, ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(app, ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}

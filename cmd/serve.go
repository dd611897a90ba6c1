package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vibast-solutions/ms-go-chainpay/app/chain"
	"github.com/vibast-solutions/ms-go-chainpay/app/classifier"
	"github.com/vibast-solutions/ms-go-chainpay/app/controller"
	"github.com/vibast-solutions/ms-go-chainpay/app/repository"
	"github.com/vibast-solutions/ms-go-chainpay/app/service"
	"github.com/vibast-solutions/ms-go-chainpay/app/types"
	"github.com/vibast-solutions/ms-go-chainpay/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the service",
	Long:  "Start the chain event poller, the webhook dispatcher, the expiry sweeper, and the admin HTTP server.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// application bundles the long-running components built from one config load
// and one database pool.
type application struct {
	cfg        *config.Config
	poller     *service.Poller
	dispatcher *service.Dispatcher
	sweeper    *service.Sweeper
}

func runServe(_ *cobra.Command, _ []string) {
	app, cleanup := mustCreateApplication()
	defer cleanup()

	adminController := controller.NewAdminController(app.poller, app.dispatcher)
	e := setupHTTPServer(adminController)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go app.poller.Run(ctx)
	go runLoop(ctx, "webhooks_dispatch", app.cfg.Webhooks.DispatchInterval, app.dispatcher.RunDispatchBatch)
	go runLoop(ctx, "sweep", app.cfg.Jobs.SweepInterval, app.sweeper.RunSweepBatch)

	go func() {
		httpAddr := net.JoinHostPort(app.cfg.HTTP.Host, app.cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}

	logrus.Info("Server stopped")
}

// runLoop drives a batch job at a fixed interval until ctx is cancelled.
// A failed pass is logged and retried on the next tick.
func runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid loop interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logrus.WithError(err).WithField("job", name).Error("job_failed")
			}
		}
	}
}

func setupHTTPServer(adminController *controller.AdminController) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(requireRequestID())

	e.GET("/health", adminController.Health)

	admin := e.Group("/admin")
	admin.GET("/poller/status", adminController.PollerStatus)
	admin.POST("/poller/restart", adminController.RestartPoller)
	admin.GET("/webhooks/deliveries", adminController.ListWebhookDeliveries)
	admin.GET("/webhooks/deliveries/:id", adminController.GetWebhookDelivery)
	admin.POST("/webhooks/deliveries/:id/retry", adminController.RetryWebhookDelivery)

	return e
}

func requireRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "x-request-id header is required"})
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func mustCreateApplication() (*application, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	txRunner := service.NewSQLTxRunner(db)

	chainClient := chain.NewHTTPClient(chain.HTTPClientConfig{
		BaseURL:     cfg.Chain.APIBaseURL,
		HTTPTimeout: cfg.Chain.HTTPTimeout,
		BatchLimit:  cfg.Chain.BatchLimit,
	})

	engine := service.NewReconcileService(cfg.Poller.MinConfirmations, cfg.Webhooks.BatchSize)

	poller := service.NewPoller(chainClient, classifier.New(), engine, txRunner, service.PollerConfig{
		Interval:      cfg.Poller.Interval,
		TickTimeout:   cfg.Poller.TickTimeout,
		ReorgWindow:   cfg.Poller.ReorgWindow,
		GenesisHeight: cfg.Poller.GenesisHeight,
	})

	dispatcher := service.NewDispatcher(
		repository.NewWebhookDeliveryRepository(db),
		repository.NewStoreRepository(db),
		service.DispatcherConfig{
			MaxAttempts: cfg.Webhooks.MaxAttempts,
			BackoffBase: cfg.Webhooks.BackoffBase,
			HTTPTimeout: cfg.Webhooks.HTTPTimeout,
			Workers:     cfg.Webhooks.Workers,
			BatchSize:   cfg.Webhooks.BatchSize,
		},
	)

	sweeper := service.NewSweeper(chainClient, engine, txRunner, cfg.Webhooks.BatchSize)

	cleanup := func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return &application{
		cfg:        cfg,
		poller:     poller,
		dispatcher: dispatcher,
		sweeper:    sweeper,
	}, cleanup
}

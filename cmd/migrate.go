package cmd

import (
	"errors"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-chainpay/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|goto N|status]",
	Short: "Run database schema migrations",
	Args:  cobra.MinimumNArgs(1),
	Run:   runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	m, err := migrate.New("file://"+cfg.MySQL.MigrationsPath, "mysql://"+cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize migrations")
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			logrus.WithFields(logrus.Fields{
				"source_err": sourceErr,
				"db_err":     dbErr,
			}).Warn("Failed to close migration resources")
		}
	}()

	switch args[0] {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logrus.WithError(err).Fatal("Migration up failed")
		} else if errors.Is(err, migrate.ErrNoChange) {
			logrus.Info("Database schema already up to date")
		} else {
			logrus.Info("Migrations applied")
		}

	case "down":
		if err := m.Steps(-1); err != nil {
			logrus.WithError(err).Fatal("Migration rollback failed")
		}
		logrus.Info("Last migration rolled back")

	case "goto":
		if len(args) < 2 {
			logrus.Fatal("migrate goto requires a version number")
		}
		version, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			logrus.WithError(err).Fatal("Invalid migration version")
		}
		if err := m.Migrate(uint(version)); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logrus.WithError(err).WithField("version", version).Fatal("Migration failed")
		}
		logrus.WithField("version", version).Info("Migrated to version")

	case "status":
		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				logrus.Info("No migrations have been applied yet")
				return
			}
			logrus.WithError(err).Fatal("Failed to read migration version")
		}
		logrus.WithFields(logrus.Fields{
			"version": version,
			"dirty":   dirty,
		}).Info("Current migration version")

	default:
		logrus.WithField("command", args[0]).Fatal("Unknown migrate command")
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/sms/pkg/api"
	"github.com/platinummonkey/sms/pkg/config"
	"github.com/platinummonkey/sms/pkg/migrate"
	"github.com/platinummonkey/sms/pkg/observability"
	"github.com/platinummonkey/sms/pkg/storage"
)

var (
	envFile     = flag.String("env-file", "", "Path to a .env file (default: backend/.env, then .env)")
	migrateOnly = flag.Bool("migrate", false, "Apply database migrations and exit")
	backupTo    = flag.String("backup", "", "Write a SQLite backup to this path and exit")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	var opts []config.Option
	if *envFile != "" {
		opts = append(opts, config.WithEnvFile(*envFile))
	}
	settings, err := config.Load(opts...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *showVersion {
		fmt.Println(settings.AppVersion)
		return
	}

	jsonLogs := settings.ExecutionMode == config.ModeDocker || settings.Env == config.EnvProduction
	logger := observability.NewLogger(settings.Observability.LogLevel, jsonLogs, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrateOnly {
		if err := runMigrations(ctx, settings); err != nil {
			logger.WithError(err).Fatal("migration failed")
		}
		logger.Info("migrations applied")
		return
	}

	if *backupTo != "" {
		if err := runBackup(ctx, settings, *backupTo); err != nil {
			logger.WithError(err).Fatal("backup failed")
		}
		logger.WithField("path", *backupTo).Info("backup written")
		return
	}

	server, err := api.New(ctx, settings, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize server")
	}
	if err := server.Run(ctx); err != nil {
		logger.WithError(err).Fatal("server stopped with error")
	}
}

func runMigrations(ctx context.Context, settings *config.Settings) error {
	logger := observability.NewLogger(settings.Observability.LogLevel, false, os.Stdout)
	db, err := storage.Open(ctx, settings.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	runner, err := migrate.New(db, logger)
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}

func runBackup(ctx context.Context, settings *config.Settings, dest string) error {
	db, err := storage.Open(ctx, settings.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	return storage.BackupSQLite(ctx, db, dest, settings.Database.BackupAllowCopy)
}

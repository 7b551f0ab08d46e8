package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
)

const usage = "usage: migrate [up|down|version]"

func main() {
	_ = godotenv.Load()

	logger := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	defer func() { _ = logger.Sync() }()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if err := run(command, logger); err != nil {
		logger.Fatal("migrate failed", zap.String("command", command), zap.Error(err))
	}
}

func run(command string, logger *zap.Logger) error {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.WithMaxConns(4))
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator, err := db.NewMigrator(pool, logger)
	if err != nil {
		return err
	}
	defer migrator.Close()

	switch command {
	case "up":
		return migrator.Up(ctx)
	case "down":
		if err := migrator.Down(ctx); err != nil {
			return err
		}
		logger.Info("rolled back one migration")
		return nil
	case "version":
		version, err := migrator.Version(ctx)
		if err != nil {
			return err
		}
		logger.Info("current migration version", zap.Int64("version", version))
		return nil
	default:
		return fmt.Errorf("unknown command %q, %s", command, usage)
	}
}

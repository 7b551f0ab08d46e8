package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/seed"
)

func main() {
	_ = godotenv.Load()

	logger := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	defer func() { _ = logger.Sync() }()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}

	providers := getInt("SEED_PROVIDERS", 100)
	requesters := getInt("SEED_REQUESTERS", 9000)
	logger.Info("seed starting", zap.Int("providers", providers), zap.Int("requesters", requesters))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.WithMaxConns(4))
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	ds := seed.Generate(uint64(getInt("SEED_RANDOM", 0)), providers, requesters)
	if err := seed.WritePostgres(ctx, pool, ds, logger); err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}

	if len(ds.Providers) > 0 && len(ds.Requesters) > 0 {
		p := ds.Providers[0].Provider
		logger.Info("sample principals",
			zap.String("provider_id", p.ID.String()),
			zap.String("provider_user_id", p.UserID.String()),
			zap.String("requester_id", ds.Requesters[0].ID.String()),
		)
	}
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

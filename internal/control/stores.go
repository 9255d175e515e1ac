package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/jobrunner/internal/core/config"
	redisclient "github.com/vietddude/jobrunner/internal/infra/redis"
	"github.com/vietddude/jobrunner/internal/infra/storage"
	"github.com/vietddude/jobrunner/internal/infra/storage/memory"
	"github.com/vietddude/jobrunner/internal/infra/storage/postgres"
	"github.com/vietddude/jobrunner/internal/processing/health"
)

// Stores groups the outcome history and the failed-job store selected by
// the config: PostgreSQL when a database URL is set, memory otherwise.
// When Redis is reachable, failed jobs go there instead.
type Stores struct {
	Outcomes storage.OutcomeRepository
	Failed   storage.FailedJobRepository
	Pingers  map[string]health.Pinger

	db    *postgres.DB
	redis *redisclient.Client
	log   *slog.Logger
}

// OpenStores connects the configured backends.
func OpenStores(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*Stores, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Stores{Pingers: make(map[string]health.Pinger), log: log}

	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		s.db = db

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				s.Close()
				return nil, fmt.Errorf("failed to migrate db: %w", err)
			}
		}

		s.Outcomes = postgres.NewOutcomeRepo(db)
		s.Failed = postgres.NewFailedJobRepo(db)
		s.Pingers["postgres"] = health.PingFunc(db.Health)
		log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		s.Outcomes = memory.NewOutcomeRepo(store)
		s.Failed = memory.NewFailedJobRepo(store)
		log.Info("Using Memory storage")
	}

	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, keeping failed jobs in primary storage", "error", err)
		} else {
			s.redis = client
			s.Failed = redisclient.NewFailedJobRepo(client, config.Seconds(cfg.Redis.FailedJobTTLHours*3600))
			s.Pingers["redis"] = client
			log.Info("Using Redis for failed jobs")
		}
	}

	return s, nil
}

// Close releases the backend connections.
func (s *Stores) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
		s.redis = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
		s.db = nil
	}
}

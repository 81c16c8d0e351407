// Package control wires the application together and manages its
// lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/dvtran/ytarchive/internal/api"
	"github.com/dvtran/ytarchive/internal/collab"
	"github.com/dvtran/ytarchive/internal/core/config"
	"github.com/dvtran/ytarchive/internal/infra/storage"
	"github.com/dvtran/ytarchive/internal/infra/storage/memory"
	"github.com/dvtran/ytarchive/internal/infra/storage/postgres"
	"github.com/dvtran/ytarchive/internal/orchestrator"
	"github.com/dvtran/ytarchive/internal/recovery"

	redisclient "github.com/dvtran/ytarchive/internal/infra/redis"
)

// Archiver is the main application struct managing the service lifecycle.
type Archiver struct {
	cfg         *config.AppConfig
	orch        *orchestrator.Orchestrator
	server      *api.Server
	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger
}

// NewArchiver creates an Archiver with all dependencies initialized.
func NewArchiver(cfg *config.AppConfig) (*Archiver, error) {
	log := slog.Default()

	// 1. Storage
	var jobRepo storage.JobRepository
	var planRepo storage.PlanRepository
	var reportRepo storage.ReportRepository
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		// Run migrations. Goose needs the raw *sql.DB that sqlx wraps.
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		jobRepo = postgres.NewJobRepo(db)
		planRepo = postgres.NewPlanRepo(db)
		reportRepo = postgres.NewReportRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		jobRepo = memory.NewJobRepo(store)
		planRepo = memory.NewPlanRepo(store)
		reportRepo = memory.NewReportRepo(store)
		slog.Info("Using in-memory storage")
	}

	// 2. Redis (optional)
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		slog.Info("Connected to Redis")
	}

	// 3. Collaborator clients
	meta := collab.NewMetadataClient(cfg.Services.Metadata.Endpoint, cfg.Services.Metadata.Timeout)
	dl := collab.NewDownloadClient(cfg.Services.Download.Endpoint, cfg.Services.Download.Timeout)
	store := collab.NewStorageClient(cfg.Services.Storage.Endpoint, cfg.Services.Storage.Timeout)

	// 4. Recovery engine
	reporter := recovery.NewStoreReporter(reportRepo, log)
	manager := recovery.NewManager(reporter, log)

	// 5. Orchestrator
	orchCfg := orchestrator.Config{
		Concurrency:      cfg.Jobs.Concurrency,
		LargeConcurrency: cfg.Jobs.LargeConcurrency,
		LargeThreshold:   cfg.Jobs.LargeThreshold,
		MinChunk:         cfg.Jobs.MinChunk,
		MaxChunk:         cfg.Jobs.MaxChunk,
		Retention:        cfg.Jobs.RetentionPeriod,
		Retry: recovery.RetryConfig{
			MaxAttempts:      cfg.Jobs.Retry.MaxAttempts,
			BaseDelay:        cfg.Jobs.Retry.BaseDelay,
			MaxDelay:         cfg.Jobs.Retry.MaxDelay,
			BackoffFactor:    cfg.Jobs.Retry.BackoffFactor,
			JitterFraction:   cfg.Jobs.Retry.JitterFraction,
			FailureThreshold: cfg.Jobs.Retry.FailureThreshold,
			ResetTimeout:     cfg.Jobs.Retry.ResetTimeout,
			WindowSize:       cfg.Jobs.Retry.WindowSize,
			MinSamples:       cfg.Jobs.Retry.MinSamples,
			SuccessFloor:     cfg.Jobs.Retry.SuccessFloor,
		},
		MetadataStrategy: cfg.Jobs.MetadataStrategy,
		DownloadStrategy: cfg.Jobs.DownloadStrategy,
		StorageStrategy:  cfg.Jobs.StorageStrategy,
	}

	var progress orchestrator.ProgressPublisher
	var queue orchestrator.JobQueue
	if redisClient != nil {
		progress = redisClient
		queue = redisClient
	}

	orch, err := orchestrator.New(orchCfg, jobRepo, planRepo, manager, meta, dl, store, progress, queue, log)
	if err != nil {
		return nil, fmt.Errorf("failed to init orchestrator: %w", err)
	}

	server := api.NewServer(orch, planRepo, reportRepo, cfg.Server.Port, log)

	return &Archiver{
		cfg:         cfg,
		orch:        orch,
		server:      server,
		db:          db,
		redisClient: redisClient,
		log:         log,
	}, nil
}

// Start launches the API server, the retention sweep and the queue
// worker. It returns immediately; Stop shuts everything down.
func (a *Archiver) Start(ctx context.Context) error {
	go func() {
		a.log.Info("API server listening", "port", a.cfg.Server.Port)
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("API server failed", "error", err)
		}
	}()

	go a.orch.StartRetentionSweep(ctx)

	if a.redisClient != nil {
		go a.runQueueWorker(ctx)
	}

	return nil
}

// runQueueWorker drains the pending-job queue, executing each job in its
// own goroutine. Jobs enqueued before a restart are picked up here.
func (a *Archiver) runQueueWorker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		jobID, err := a.redisClient.DequeueJob(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Error("Failed to dequeue job", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if jobID == "" {
			continue
		}

		go func() {
			if err := a.orch.ExecuteJob(ctx, jobID); err != nil {
				a.log.Error("Job execution failed", "job", jobID, "error", err)
			}
		}()
	}
}

// Stop gracefully shuts down the service.
func (a *Archiver) Stop(ctx context.Context) error {
	if err := a.server.Stop(ctx); err != nil {
		a.log.Error("Failed to stop API server", "error", err)
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Error("Failed to close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Error("Failed to close database", "error", err)
		}
	}
	return nil
}

// Command server runs the long-running derivscript HTTP pricing API:
// config, logger, run-history store, optional S3 archive, periodic
// revaluation scheduler and the chi-based HTTP server, wired together
// and shut down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/derivscript/internal/archive"
	"github.com/aristath/derivscript/internal/config"
	"github.com/aristath/derivscript/internal/schedule"
	"github.com/aristath/derivscript/internal/server"
	"github.com/aristath/derivscript/internal/store"
	"github.com/aristath/derivscript/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true})

	log.Info().Msg("starting derivscript server")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})

	db, err := store.Open(cfg.DataDir + "/derivscript.db")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open run-history database")
	}
	defer db.Close()
	runStore := store.New(db)

	var archiveSvc *archive.Service
	if cfg.S3Bucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := archive.NewS3Client(ctx, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize S3 archive client")
		}
		archiveSvc = archive.New(client, runStore, log)
		log.Info().Str("bucket", cfg.S3Bucket).Msg("archival enabled")
	} else {
		log.Info().Msg("DERIVSCRIPT_S3_BUCKET not set, archival disabled")
	}

	sched := schedule.New(log)
	sched.Start()
	defer sched.Stop()

	if err := registerJobs(sched, runStore, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("failed to register scheduled jobs")
	}

	if archiveSvc != nil && cfg.ArchiveRetentionDays > 0 {
		if err := sched.AddJob("@every 24h", rotationJob{archiveSvc, cfg, log}); err != nil {
			log.Fatal().Err(err).Msg("failed to register archive rotation job")
		}
	}

	srv := server.New(server.Config{
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
		Log:     log,
		Cfg:     cfg,
		Store:   runStore,
		Archive: archiveSvc,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// registerJobs is the hook for scheduled revaluations. There is no
// persisted registry of saved scripts yet (nothing in the API lets a
// caller register one for recurring re-pricing), so this currently does
// nothing; a future endpoint for saving a named script with a cron
// schedule would call sched.AddJob(schedule.NewRevaluationJob(...)) here
// at startup for every persisted entry.
func registerJobs(sched *schedule.Scheduler, db *store.Store, cfg *config.Config, log zerolog.Logger) error {
	return nil
}

// rotationJob adapts archive.Service.RotateOldArchives to schedule.Job.
type rotationJob struct {
	svc *archive.Service
	cfg *config.Config
	log zerolog.Logger
}

func (j rotationJob) Name() string { return "archive-rotation" }

func (j rotationJob) Run() error {
	return j.svc.RotateOldArchives(context.Background(), j.cfg.ArchiveRetentionDays)
}

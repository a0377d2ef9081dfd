package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/opticut/internal/bus"
	"github.com/aristath/opticut/internal/clients/advisor"
	"github.com/aristath/opticut/internal/config"
	"github.com/aristath/opticut/internal/database"
	"github.com/aristath/opticut/internal/events"
	"github.com/aristath/opticut/internal/modules/cuttingjob"
	"github.com/aristath/opticut/internal/modules/optimization"
	opthandlers "github.com/aristath/opticut/internal/modules/optimization/handlers"
	"github.com/aristath/opticut/internal/modules/stock"
	"github.com/aristath/opticut/internal/packing"
	"github.com/aristath/opticut/internal/reliability"
	"github.com/aristath/opticut/internal/resilience"
	"github.com/aristath/opticut/internal/scheduler"
	"github.com/aristath/opticut/internal/server"
	"github.com/aristath/opticut/internal/services"
	"github.com/aristath/opticut/internal/workpool"
	"github.com/aristath/opticut/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Msg("Starting opticut")

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	eventBus := events.NewBus(log)

	// In-process service registry and module handlers.
	registry := services.NewRegistry(log)
	stockRepo := stock.NewRepository(db, log)
	registry.Register(services.ModuleStock, stockRepo.RegistryHandler())
	jobRepo := cuttingjob.NewRepository(db, log)
	registry.Register(services.ModuleCuttingJob, jobRepo.RegistryHandler())

	pool := workpool.New(cfg.Engine.MaxConcurrency, cfg.Engine.TaskTimeout, log)
	defer pool.Close()

	ml := advisor.NewClient(cfg.AdvisorURL, cfg.AdvisorTimeout, cfg.AdvisorMinConfidence, resilience.Settings{
		Timeout:          cfg.Breaker.Timeout,
		ErrorThresholdPc: float64(cfg.Breaker.ErrorThresholdPc),
		VolumeThreshold:  cfg.Breaker.VolumeThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	}, log)

	engine := optimization.NewEngine(
		services.NewCuttingJobClient(registry),
		services.NewStockClient(registry),
		pool,
		packing.DefaultRegistry(),
		ml,
		cfg.Engine,
		log,
	)

	scenarioRepo := optimization.NewScenarioRepository(db, log)
	planRepo := optimization.NewPlanRepository(db, log)
	service := optimization.NewService(scenarioRepo, planRepo, engine, eventBus, log)
	registry.Register(services.ModuleOptimization, service.RegistryHandler())

	feedback := optimization.NewFeedbackHandler(planRepo, ml, log)
	feedback.Bind(eventBus)

	// Background jobs.
	sched := scheduler.New(log)
	if err := sched.AddJob("@every 5m", scheduler.NewStaleRunReaper(scenarioRepo, cfg.StaleRunAge, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register reaper job")
	}
	registerBackupJob(sched, db, cfg, log)
	sched.Start()
	defer sched.Stop()

	// External broker connection, disabled unless configured.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.BrokerAddr != "" {
		connectBroker(ctx, cfg.BrokerAddr, service, scenarioRepo, eventBus, log)
	}

	srv := server.New(server.Config{
		Port:     cfg.Port,
		Log:      log,
		Bus:      eventBus,
		Pool:     pool,
		Breakers: ml.Breakers(),
		DevMode:  cfg.DevMode,
	})
	srv.Mount("", opthandlers.NewHandler(service, log).RegisterRoutes)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server stopped")
}

// registerBackupJob wires scheduled backups when a bucket is configured.
func registerBackupJob(sched *scheduler.Scheduler, db *database.DB, cfg *config.Config, log zerolog.Logger) {
	if cfg.BackupBucket == "" {
		log.Info().Msg("Backups disabled, no bucket configured")
		return
	}

	store, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
		Bucket:    cfg.BackupBucket,
		Region:    cfg.BackupRegion,
		Endpoint:  cfg.BackupEndpoint,
		AccessKey: cfg.BackupAccessKey,
		SecretKey: cfg.BackupSecretKey,
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize backup storage")
		return
	}

	backups := reliability.NewBackupService(db, store, "./data", log)
	job := scheduler.FuncJob{JobName: "database_backup", Fn: func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := backups.CreateAndUploadBackup(ctx); err != nil {
			return err
		}
		return backups.RotateOldBackups(ctx, cfg.BackupRetentionDays)
	}}
	if err := sched.AddJob(cfg.BackupSchedule, job); err != nil {
		log.Error().Err(err).Str("schedule", cfg.BackupSchedule).Msg("Failed to register backup job")
	}
}

// connectBroker dials the broker, forwards internal events outward and
// consumes optimization requests, redialing on failure.
func connectBroker(ctx context.Context, addr string, service *optimization.Service, scenarios *optimization.ScenarioRepository, eventBus *events.Bus, log zerolog.Logger) {
	consumer := optimization.NewConsumer(service, scenarios, log)
	listener := bus.NewListener(consumer, log)
	sink := bus.NewSink(log)
	sink.Bind(eventBus)

	go func() {
		for {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				log.Warn().Err(err).Str("addr", addr).Msg("Broker unreachable, retrying")
			} else {
				sink.Attach(conn)

				if err := listener.Serve(ctx, conn); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("Broker stream failed")
				}
				sink.Attach(nil)
				conn.Close()
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()
}

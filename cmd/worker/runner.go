package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/config"
	"github.com/CRT-AUTO/message-gateway/internal/db"
	"github.com/CRT-AUTO/message-gateway/internal/logger"
	"github.com/CRT-AUTO/message-gateway/internal/metrics"
	"github.com/CRT-AUTO/message-gateway/internal/processor"
	"github.com/CRT-AUTO/message-gateway/internal/repository"
	"github.com/CRT-AUTO/message-gateway/internal/service/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runnerOnce bool

var runnerCmd = &cobra.Command{
	Use:   "runner",
	Short: "Run the batch processing runner (polls the queue, drives the processor)",
	RunE:  runRunner,
}

func init() {
	runnerCmd.Flags().BoolVar(&runnerOnce, "once", false, "process a single batch and exit (cron mode)")
}

func runRunner(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Log.Level)
	log := logger.Log

	metrics.MustRegister(prometheus.DefaultRegisterer)

	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	queueRepo := repository.NewQueueRepository(dbx)
	eventsRepo := repository.NewStatusLogRepository(dbx)
	dlRepo := repository.NewDeadLetterRepository(dbx)
	store := repository.NewPipelineStore(dbx, queueRepo, eventsRepo, dlRepo)

	proc := processor.NewHTTPProcessor(
		cfg.Processor.Name,
		cfg.Processor.BaseURL,
		cfg.Processor.ReplyPath,
		cfg.Processor.TimeoutMs,
		cfg.Processor.Breaker.FailThreshold,
		cfg.Processor.Breaker.OpenForMs,
	)

	controller, err := pipeline.NewController(store, cfg.Pipeline.Backoff(), log)
	if err != nil {
		return fmt.Errorf("build controller: %w", err)
	}
	runner, err := pipeline.NewRunner(controller, store, cfg.Pipeline.BatchSize, log)
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reclaimAfter := cfg.Pipeline.ReclaimAfter
	if reclaimAfter <= 0 {
		reclaimAfter = 10 * time.Minute
	}

	runOnce := func() error {
		if _, err := runner.Reclaim(ctx, reclaimAfter); err != nil {
			return err
		}
		res, err := runner.RunBatch(ctx, proc.Process)
		if err != nil {
			return err
		}
		log.Debug("batch done", zap.Int("processed", res.ProcessedCount))
		return nil
	}

	if runnerOnce {
		return runOnce()
	}

	interval := cfg.Pipeline.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	log.Info(">> runner started",
		zap.Duration("poll_interval", interval),
		zap.Int("batch_size", cfg.Pipeline.BatchSize),
		zap.Duration("reclaim_after", reclaimAfter),
	)

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("runner shutting down")
			return nil
		case <-tick.C:
			if err := runOnce(); err != nil {
				// store unreachable: log loudly but keep polling so a
				// recovered DB resumes processing
				log.Error("batch run failed", zap.Error(err))
			}
		}
	}
}

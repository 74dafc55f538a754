package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/config"
	"github.com/CRT-AUTO/message-gateway/internal/db"
	"github.com/CRT-AUTO/message-gateway/internal/kafka"
	"github.com/CRT-AUTO/message-gateway/internal/logger"
	"github.com/CRT-AUTO/message-gateway/internal/metrics"
	"github.com/CRT-AUTO/message-gateway/internal/model"
	"github.com/CRT-AUTO/message-gateway/internal/repository"
	"github.com/CRT-AUTO/message-gateway/internal/service/intake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var consumerCmd = &cobra.Command{
	Use:   "consumer",
	Short: "Consume canonical inbound envelopes from Kafka and enqueue them",
	RunE:  runConsumer,
}

func runConsumer(cmd *cobra.Command, args []string) error {
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
	svc := intake.New(store)

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "msggw-intake"
	}

	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          kafka.InboundTopic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info(">> consumer started",
		zap.String("topic", kafka.InboundTopic),
		zap.String("group", groupID),
	)

	return consumer.Run(ctx, func(ctx context.Context, env model.Envelope) error {
		_, err := svc.Enqueue(ctx, env)
		if errors.Is(err, intake.ErrInvalidPlatform) ||
			errors.Is(err, intake.ErrEmptyContent) ||
			errors.Is(err, intake.ErrMissingParty) {
			// malformed envelope: committing is the consumer's job, ours is
			// to not ask for redelivery
			log.Error("invalid envelope, skipping", zap.Error(err))
			return nil
		}
		return err
	}, log)
}

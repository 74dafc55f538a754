package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/config"
	"github.com/CRT-AUTO/message-gateway/internal/db"
	"github.com/CRT-AUTO/message-gateway/internal/model"
	"github.com/CRT-AUTO/message-gateway/internal/repository"
	"github.com/CRT-AUTO/message-gateway/internal/service/intake"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the queue with demo pending messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		queueRepo := repository.NewQueueRepository(sqlDB)
		eventsRepo := repository.NewStatusLogRepository(sqlDB)
		dlRepo := repository.NewDeadLetterRepository(sqlDB)
		store := repository.NewPipelineStore(sqlDB, queueRepo, eventsRepo, dlRepo)
		svc := intake.New(store)

		demo := []model.Envelope{
			{UserID: 1, Platform: model.PlatformFacebook, SenderID: "24601", RecipientID: "page-1001", Content: `{"text":"hi, what are your opening hours?"}`},
			{UserID: 1, Platform: model.PlatformFacebook, SenderID: "24602", RecipientID: "page-1001", Content: `{"text":"do you ship to Canada?"}`},
			{UserID: 2, Platform: model.PlatformInstagram, SenderID: "ig-777", RecipientID: "biz-2002", Content: `{"text":"price for the blue one?"}`},
			{UserID: 2, Platform: model.PlatformInstagram, SenderID: "ig-778", RecipientID: "biz-2002", Content: `{"text":"is this still available"}`},
			{UserID: 3, Platform: model.PlatformFacebook, SenderID: "24699", RecipientID: "page-3003", Content: `{"text":"I want to cancel my order"}`},
		}

		log.Println(">> Seeding demo messages...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for _, env := range demo {
			env.Timestamp = time.Now()
			msg, err := svc.Enqueue(ctx, env)
			if err != nil {
				return fmt.Errorf("enqueue demo message: %w", err)
			}
			log.Printf("   queued %s (%s)", msg.ID, msg.Platform)
		}

		log.Println(">> Seed completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

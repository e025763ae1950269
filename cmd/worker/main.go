// Package main runs the background worker: queued email delivery and the payment events relay.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hortus-cognitor/backend/config"
	"github.com/hortus-cognitor/backend/internal/events"
	"github.com/hortus-cognitor/backend/internal/metrics"
	"github.com/hortus-cognitor/backend/internal/notify"
	"github.com/hortus-cognitor/backend/internal/worker"
	"github.com/hortus-cognitor/backend/pkg/database"
	"github.com/hortus-cognitor/backend/pkg/queue"
	"github.com/hortus-cognitor/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	mailer, err := notify.NewMailer(notify.MailerConfig{
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		SMTPHost:    cfg.Email.SMTPHost,
		SMTPPort:    cfg.Email.SMTPPort,
		SMTPUser:    cfg.Email.SMTPUser,
		SMTPPass:    cfg.Email.SMTPPass,
	}, logger)
	if err != nil {
		logger.Fatal("mailer", zap.Error(err))
	}

	m := metrics.New()
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewEmailProcessor(jobQueue, mailer, m, logger)

	var publisher events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		w := events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer w.Close()
		publisher = w
	}
	relay := events.NewRelay(events.NewRepository(pool), publisher, m, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	go relay.Run(workerCtx)
	logger.Info("worker started", zap.Strings("kafka_brokers", cfg.Kafka.Brokers))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

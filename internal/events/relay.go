package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hortus-cognitor/backend/internal/metrics"
	"github.com/hortus-cognitor/backend/internal/models"
)

const (
	defaultBatchSize = 100
	defaultInterval  = time.Second
)

// Publisher writes messages to the broker. *kafka.Writer satisfies it.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Outbox is the part of Repository the relay drives.
type Outbox interface {
	ProcessBatch(ctx context.Context, limit int, fn func([]models.OutboxMessage) error) (int, error)
}

// NewKafkaWriter builds the payment events writer. Messages are keyed by payment so each
// payment's events stay ordered within a partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Relay polls the outbox and publishes pending events.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	metrics   *metrics.Metrics
	batchSize int
	interval  time.Duration
	logger    *zap.Logger
}

// NewRelay creates an outbox relay. A nil publisher logs events instead of publishing them.
func NewRelay(outbox Outbox, publisher Publisher, m *metrics.Metrics, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		logger.Warn("no Kafka brokers configured, payment events will only be logged")
		publisher = logPublisher{logger: logger}
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		metrics:   m,
		batchSize: defaultBatchSize,
		interval:  defaultInterval,
		logger:    logger,
	}
}

// RelayOnce publishes one batch and returns how many events were sent.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	return r.outbox.ProcessBatch(ctx, r.batchSize, func(msgs []models.OutboxMessage) error {
		out := make([]kafka.Message, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, kafka.Message{
				Key:   []byte(m.AggregateID.String()),
				Value: m.Payload,
				Time:  m.CreatedAt,
				Headers: []kafka.Header{
					{Key: "event_type", Value: []byte(m.EventType)},
					{Key: "event_id", Value: []byte(m.ID.String())},
				},
			})
		}
		return r.publisher.WriteMessages(ctx, out...)
	})
}

// Run relays on a fixed interval until ctx is done, then closes the publisher.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer func() {
		if err := r.publisher.Close(); err != nil {
			r.logger.Warn("close publisher", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopping")
			return
		case <-ticker.C:
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Error("relay outbox batch", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				if r.metrics != nil {
					r.metrics.OutboxRelayed.Add(float64(n))
				}
				r.logger.Info("relayed payment events", zap.Int("count", n))
			}
		}
	}
}

type logPublisher struct {
	logger *zap.Logger
}

func (p logPublisher) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		p.logger.Info("payment event", zap.String("key", string(m.Key)), zap.ByteString("value", m.Value))
	}
	return nil
}

func (logPublisher) Close() error { return nil }

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

// QueueMessage is the payload enqueued per accepted submission.
type QueueMessage struct {
	TaskID     string            `json:"task_id"`
	Submission domain.Submission `json:"submission"`
}

// QueueConfig holds task queue settings.
type QueueConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the topic task submissions are queued on.
	Topic string
	// GroupID is the consumer group for ingestion workers.
	GroupID string
	// Workers is the number of concurrent tasks one consumer runs.
	Workers int
	// Prefetch is the number of messages fetched ahead per worker.
	Prefetch int
}

func (c *QueueConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 2
	}
}

// Producer enqueues task submissions.
type Producer struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewProducer creates a task queue producer.
func NewProducer(cfg QueueConfig, logger zerolog.Logger) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger.With().Str("component", "taskqueue").Logger(),
	}
}

// Enqueue queues one task submission, keyed by task ID.
func (p *Producer) Enqueue(ctx context.Context, msg *QueueMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding queue message: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.TaskID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("enqueueing task %s: %w", msg.TaskID, err)
	}
	p.logger.Debug().Str("task_id", msg.TaskID).Msg("task enqueued")
	return nil
}

// Close flushes and closes the producer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Handler processes one dequeued task submission.
type Handler func(ctx context.Context, msg *QueueMessage) error

// Consumer dequeues task submissions into a fixed-size worker pool.
// Delivery is at-least-once: a message is committed after its handler
// returns, whether or not it succeeded, because the handler records the
// failure on the task snapshot itself.
type Consumer struct {
	cfg    QueueConfig
	reader *kafka.Reader
	logger zerolog.Logger
}

// NewConsumer creates a task queue consumer.
func NewConsumer(cfg QueueConfig, logger zerolog.Logger) *Consumer {
	cfg.applyDefaults()
	return &Consumer{
		cfg: cfg,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:       cfg.Brokers,
			Topic:         cfg.Topic,
			GroupID:       cfg.GroupID,
			QueueCapacity: cfg.Workers * cfg.Prefetch,
		}),
		logger: logger.With().Str("component", "taskqueue").Logger(),
	}
}

// Run consumes until the context is cancelled. Each worker fetches,
// handles, and commits messages independently.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			c.workerLoop(ctx, worker, handler)
		}(i)
	}
	wg.Wait()

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("closing queue reader: %w", err)
	}
	return ctx.Err()
}

func (c *Consumer) workerLoop(ctx context.Context, worker int, handler Handler) {
	logger := c.logger.With().Int("worker", worker).Logger()
	for {
		kmsg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			logger.Error().Err(err).Msg("fetching queue message")
			continue
		}

		var msg QueueMessage
		if err := json.Unmarshal(kmsg.Value, &msg); err != nil {
			logger.Error().Err(err).Msg("dropping malformed queue message")
		} else if err := handler(ctx, &msg); err != nil {
			// The coordinator records failures on the task snapshot; the
			// message is still committed so the queue cannot wedge on one
			// poisoned submission.
			logger.Error().Err(err).Str("task_id", msg.TaskID).Msg("task handler failed")
		}

		if err := c.reader.CommitMessages(ctx, kmsg); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error().Err(err).Msg("committing queue message")
		}
	}
}

// Package kafka moves agent data and commands over Kafka: a consumer that
// feeds sample envelopes to a handler, and a publisher that delivers
// analysis commands to agents.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/jvmscope/jvmscope/internal/analysis/stream"
	jserrors "github.com/jvmscope/jvmscope/internal/errors"
	"github.com/jvmscope/jvmscope/internal/logging"
)

// Handler processes one decoded envelope. A returned error is logged and
// the message is skipped.
type Handler func(ctx context.Context, env stream.Envelope) error

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ConsumerConfig configures the sample consumer.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// MaxWait bounds how long a fetch waits for new data.
	MaxWait time.Duration
}

// Stats counts consumed messages.
type Stats struct {
	Received int64
	Handled  int64
	Invalid  int64
	Failed   int64
}

// Consumer reads sample envelopes from a topic and hands them to a handler.
type Consumer struct {
	reader  messageReader
	handler Handler
	logger  zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	received atomic.Int64
	handled  atomic.Int64
	invalid  atomic.Int64
	failed   atomic.Int64
}

// NewConsumer creates a consumer reading from the configured topic.
func NewConsumer(config ConsumerConfig, handler Handler, logger zerolog.Logger) (*Consumer, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer needs at least one broker")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka consumer needs a topic")
	}
	if config.MaxWait == 0 {
		config.MaxWait = time.Second
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  config.Brokers,
		Topic:    config.Topic,
		GroupID:  config.GroupID,
		MinBytes: 1,
		MaxBytes: 10 << 20,
		MaxWait:  config.MaxWait,
	})
	c := newConsumer(reader, handler, logger)
	c.logger = c.logger.With().
		Str("topic", config.Topic).
		Str("group_id", config.GroupID).
		Logger()
	return c, nil
}

func newConsumer(reader messageReader, handler Handler, logger zerolog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		reader:  reader,
		handler: handler,
		logger:  logging.Component(logger, "kafka_consumer"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins consuming in the background.
func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	c.logger.Info().Msg("Starting sample consumer")

	c.wg.Add(1)
	go c.readLoop()

	c.running = true
	return nil
}

// Stop stops consuming, waits for the loop to exit and closes the reader.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	c.logger.Info().Msg("Stopping sample consumer")

	c.cancel()
	c.wg.Wait()
	c.running = false

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}

// Stats returns the message counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Received: c.received.Load(),
		Handled:  c.handled.Load(),
		Invalid:  c.invalid.Load(),
		Failed:   c.failed.Load(),
	}
}

func (c *Consumer) readLoop() {
	defer c.wg.Done()

	for {
		msg, err := c.reader.ReadMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil || jserrors.IsCancellation(err) || errors.Is(err, io.EOF) {
				return
			}
			c.logger.Error().Err(err).Msg("Failed to read message")
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		c.handle(c.ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	c.received.Add(1)

	env, err := stream.DecodeEnvelope(msg.Value)
	if err != nil {
		c.invalid.Add(1)
		c.logger.Warn().
			Err(err).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("Skipping invalid envelope")
		return
	}

	if err := c.handler(ctx, env); err != nil {
		c.failed.Add(1)
		c.logger.Error().
			Err(err).
			Str("agent_jvm", env.AgentJVM.String()).
			Str("kind", string(env.Kind)).
			Int64("offset", msg.Offset).
			Msg("Failed to handle envelope")
		return
	}
	c.handled.Add(1)
}

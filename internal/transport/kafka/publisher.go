package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/jvmscope/jvmscope/internal/analysis/command"
	"github.com/jvmscope/jvmscope/internal/logging"
	"github.com/jvmscope/jvmscope/internal/model"
	"github.com/jvmscope/jvmscope/internal/retry"
)

// Header keys set on command messages.
const (
	HeaderFeature   = "jvmscope-feature"
	HeaderCommandID = "jvmscope-command-id"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublisherConfig configures the command publisher.
type PublisherConfig struct {
	Brokers []string
	Topic   string
}

// CommandPublisher delivers commands to agents over a topic keyed by
// AgentJVM, so the commands of one JVM stay ordered on a partition.
type CommandPublisher struct {
	writer messageWriter
	policy retry.Policy
	logger zerolog.Logger
}

// NewCommandPublisher creates a publisher writing to the configured topic.
func NewCommandPublisher(config PublisherConfig, logger zerolog.Logger) (*CommandPublisher, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher needs at least one broker")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka publisher needs a topic")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newCommandPublisher(writer, logger), nil
}

func newCommandPublisher(writer messageWriter, logger zerolog.Logger) *CommandPublisher {
	return &CommandPublisher{
		writer: writer,
		policy: retry.Publish(),
		logger: logging.Component(logger, "command_publisher"),
	}
}

// Submit publishes cmd. The bus cannot refuse a command, so a successful
// write is always reported as accepted.
func (p *CommandPublisher) Submit(ctx context.Context, jvm model.AgentJVM, cmd command.Command) (bool, error) {
	if err := cmd.Validate(); err != nil {
		return false, fmt.Errorf("invalid command: %w", err)
	}
	msg, err := commandMessage(jvm, cmd)
	if err != nil {
		return false, err
	}

	attempts := 0
	err = retry.Do(ctx, p.policy, func() error {
		attempts++
		return p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return false, fmt.Errorf("failed to publish %s command: %w", cmd.Feature, err)
	}

	p.logger.Debug().
		Str("agent_jvm", jvm.String()).
		Str("command_id", cmd.ID).
		Str("feature", cmd.Feature.String()).
		Int("attempts", attempts).
		Msg("Command published")
	return true, nil
}

// Close flushes and closes the writer.
func (p *CommandPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}

func commandMessage(jvm model.AgentJVM, cmd command.Command) (kafka.Message, error) {
	value, err := cmd.Encode()
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode command: %w", err)
	}
	return kafka.Message{
		Key:   []byte(jvm.String()),
		Value: value,
		Time:  cmd.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderFeature, Value: []byte(cmd.Feature.String())},
			{Key: HeaderCommandID, Value: []byte(cmd.ID)},
		},
	}, nil
}

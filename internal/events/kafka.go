package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Header keys shared with the other schedule producers.
const (
	HeaderEventID   = "event-id"
	HeaderEventType = "event-type"
	HeaderSource    = "source"
)

// KafkaConfig selects brokers and the topic carrying all schedule events.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	MaxWait time.Duration
}

func (c KafkaConfig) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("topic cannot be empty")
	}
	return nil
}

// partitionKey keeps the events of one entity on one partition.
func partitionKey(e Event) string {
	if e.BookingID != "" {
		return "booking:" + e.BookingID
	}
	return "working-hours:" + string(e.Date)
}

// KafkaPublisher writes envelopes to the schedule topic.
type KafkaPublisher struct {
	writer *kafka.Writer
	source string
}

func NewKafkaPublisher(cfg KafkaConfig, source string) (*KafkaPublisher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  3,
		},
		source: source,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	data, err := Encode(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(partitionKey(e)),
		Value: data,
		Time:  e.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(e.ID)},
			{Key: HeaderEventType, Value: []byte(e.Type)},
			{Key: HeaderSource, Value: []byte(p.source)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaSource consumes the schedule topic. Offsets are committed once the
// event has been handed to the store.
type KafkaSource struct {
	cfg    KafkaConfig
	logger *zerolog.Logger
}

func NewKafkaSource(cfg KafkaConfig, logger *zerolog.Logger) (*KafkaSource, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}
	return &KafkaSource{cfg: cfg, logger: logger}, nil
}

func (s *KafkaSource) Run(ctx context.Context, out chan<- Event, ready func()) error {
	// The reader connects lazily; dial once so an unreachable broker is
	// reported before we claim to be live.
	conn, err := kafka.DialContext(ctx, "tcp", s.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka dial: %w", err)
	}
	_ = conn.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: s.cfg.Brokers,
		Topic:   s.cfg.Topic,
		GroupID: s.cfg.GroupID,
		MaxWait: s.cfg.MaxWait,
		Logger:  kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			s.logger.Error().Msgf(msg, args...)
		}),
	})
	defer reader.Close()

	if ready != nil {
		ready()
	}

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		e, err := Decode(msg.Value, Type(headerValue(msg.Headers, HeaderEventType)))
		if err != nil {
			s.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("dropping malformed event")
		} else {
			select {
			case out <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		// Without a group there is nothing to commit.
		if s.cfg.GroupID == "" {
			continue
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			s.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("kafka commit failed")
		}
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

package events

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultChannelPrefix = "schedule"

func channelName(prefix string, t Type) string {
	return prefix + ":" + string(t)
}

// RedisPublisher publishes event envelopes on "<prefix>:<type>" channels.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	data, err := Encode(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, channelName(p.prefix, e.Type), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", e.Type, err)
	}
	return nil
}

// RedisSource pattern-subscribes to every event channel. go-redis reconnects
// pub/sub silently, so the source pings after each idle period and returns
// the error when the server is gone; the caller then degrades to polling.
type RedisSource struct {
	client      redis.UniversalClient
	prefix      string
	idleTimeout time.Duration
	logger      *zerolog.Logger
}

func NewRedisSource(client redis.UniversalClient, prefix string, idleTimeout time.Duration, logger *zerolog.Logger) *RedisSource {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Second
	}
	return &RedisSource{client: client, prefix: prefix, idleTimeout: idleTimeout, logger: logger}
}

func (s *RedisSource) Run(ctx context.Context, out chan<- Event, ready func()) error {
	ps := s.client.PSubscribe(ctx, s.prefix+":*")
	defer ps.Close()

	// The first reply confirms the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	if ready != nil {
		ready()
	}

	for {
		msg, err := ps.ReceiveTimeout(ctx, s.idleTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isTimeout(err) {
				if pingErr := ps.Ping(ctx); pingErr != nil {
					return fmt.Errorf("redis ping: %w", pingErr)
				}
				continue
			}
			return fmt.Errorf("redis receive: %w", err)
		}

		m, ok := msg.(*redis.Message)
		if !ok {
			// Subscription confirmations and pongs.
			continue
		}

		fallback := Type(strings.TrimPrefix(m.Channel, s.prefix+":"))
		e, err := Decode([]byte(m.Payload), fallback)
		if err != nil {
			s.logger.Warn().Err(err).Str("channel", m.Channel).Msg("dropping malformed event")
			continue
		}

		select {
		case out <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

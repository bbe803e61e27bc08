package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// DefaultChannel carries board change notifications between instances.
const DefaultChannel = "board-updates"

// reconnectDelay is the pause before resubscribing after the pub/sub channel
// closes.
var reconnectDelay = time.Second

// message is a board event tagged with the instance that published it.
type message struct {
	domain.BoardEvent
	Origin string `json:"origin,omitempty"`
}

// RedisPublisher broadcasts board events on a Redis pub/sub channel so other
// instances can wake their stream subscribers.
type RedisPublisher struct {
	rc      *redis.Client
	channel string
	origin  string
}

func NewRedisPublisher(rc *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rc: rc, channel: channel, origin: uuid.NewString()}
}

// Origin identifies this publisher on the channel. Pass it to
// SubscribeUpdates to skip events the local instance already delivered.
func (p *RedisPublisher) Origin() string { return p.origin }

func (p *RedisPublisher) Publish(ctx context.Context, ev domain.BoardEvent) error {
	data, err := sonic.Marshal(message{BoardEvent: ev, Origin: p.origin})
	if err != nil {
		return err
	}
	if err := p.rc.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish board event: %w", err)
	}
	return nil
}

// SubscribeUpdates listens for board events on channel and passes each one to
// notify until ctx is done. Events tagged with skipOrigin are dropped. The
// subscription is reopened if Redis drops it.
func SubscribeUpdates(
	ctx context.Context,
	logger *log.Logger,
	rc *redis.Client,
	channel string,
	skipOrigin string,
	notify func(domain.BoardEvent),
) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if channel == "" {
		channel = DefaultChannel
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		consume(ctx, logger, sub.Channel(), skipOrigin, notify)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func consume(ctx context.Context, logger *log.Logger, ch <-chan *redis.Message, skipOrigin string, notify func(domain.BoardEvent)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var m message
			if err := sonic.UnmarshalString(msg.Payload, &m); err != nil {
				logger.Errorf("unable to parse board event: %v", err)
				continue
			}
			if skipOrigin != "" && m.Origin == skipOrigin {
				continue
			}
			ev := m.BoardEvent
			if ev.BoardID == "" {
				logger.Warn("board event without board id dropped")
				continue
			}
			logger.WithFields(log.Fields{"board": ev.BoardID, "type": ev.Type, "version": ev.Version}).Debug("board event received")
			notify(ev)
		}
	}
}

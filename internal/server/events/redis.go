package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/logging"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Pub/Sub channel events travel on.
const DefaultChannel = "entrysync:events"

// RedisBus publishes events through Redis Pub/Sub so every server instance
// sees every event. Received events are dispatched to local subscribers.
type RedisBus struct {
	local   *LocalBus
	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
	log     logging.Logger
	done    chan struct{}
}

// NewRedisBus connects to redisURL and starts receiving events.
func NewRedisBus(ctx context.Context, redisURL string, log logging.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisBusWithClient(ctx, client, DefaultChannel, log)
}

// NewRedisBusWithClient subscribes on an existing client. The subscription
// is confirmed before it returns, so no event published afterwards is lost.
func NewRedisBusWithClient(ctx context.Context, client *redis.Client, channel string, log logging.Logger) (*RedisBus, error) {
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	b := &RedisBus{
		local:   NewLocalBus(),
		client:  client,
		pubsub:  pubsub,
		channel: channel,
		log:     log.With("module", "events"),
		done:    make(chan struct{}),
	}
	go b.receive()
	return b, nil
}

func (b *RedisBus) receive() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.log.Warn(context.Background(), "dropping malformed event", "error", err)
			continue
		}
		b.local.dispatch(ev)
	}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(h Handler) func() {
	return b.local.Subscribe(h)
}

// Close stops receiving and closes the client.
func (b *RedisBus) Close() error {
	err := b.pubsub.Close()
	<-b.done
	_ = b.local.Close()
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}

package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// InvalidationChannel carries credential ids whose cached state is stale.
const InvalidationChannel = "gateway:invalidate"

type invalidation struct {
	CredentialID int64 `json:"credential_id"`
	Timestamp    int64 `json:"timestamp"`
}

// Bus fans credential invalidations out to every gateway instance through
// Redis Pub/Sub.
type Bus struct {
	client *redis.Client
	pubSub *redis.PubSub
	forget func(credentialID int64)
	log    *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewBus subscribes to the invalidation channel and calls forget for every
// message received, including the ones this instance publishes.
func NewBus(ctx context.Context, client *redis.Client, forget func(credentialID int64), log *slog.Logger) (*Bus, error) {
	pubSub := client.Subscribe(ctx, InvalidationChannel)
	if _, err := pubSub.Receive(ctx); err != nil {
		pubSub.Close()
		return nil, err
	}

	b := &Bus{
		client: client,
		pubSub: pubSub,
		forget: forget,
		log:    log,
		done:   make(chan struct{}),
	}
	go b.listenForUpdates()
	return b, nil
}

func (b *Bus) listenForUpdates() {
	defer close(b.done)

	ch := b.pubSub.Channel()
	for msg := range ch {
		b.handleUpdateMessage(msg.Payload)
	}
}

func (b *Bus) handleUpdateMessage(payload string) {
	var update invalidation
	if err := json.Unmarshal([]byte(payload), &update); err != nil || update.CredentialID <= 0 {
		b.log.Warn("ignoring malformed invalidation", "payload", payload, "error", err)
		return
	}
	b.forget(update.CredentialID)
}

// Invalidate forgets credentialID locally and tells the other instances to do
// the same.
func (b *Bus) Invalidate(ctx context.Context, credentialID int64) error {
	b.forget(credentialID)

	data, err := json.Marshal(invalidation{CredentialID: credentialID, Timestamp: time.Now().Unix()})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return b.client.Publish(ctx, InvalidationChannel, data).Err()
}

// Close unsubscribes and waits for the listener to stop.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.pubSub.Close()
		<-b.done
	})
	return err
}

// Package fleet announces the kit to optional fleet infrastructure: a Redis
// presence key with heartbeats and a NATS stream of runtime state changes.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensandbox/kitsync/pkg/types"
)

// heartbeatPayload is the JSON structure published to Redis.
type heartbeatPayload struct {
	KitID       string    `json:"kit_id"`
	Name        string    `json:"name"`
	Runners     int       `json:"runners"`
	Subscribers int       `json:"subscribers"`
	Connected   bool      `json:"connected"`
	Timestamp   time.Time `json:"timestamp"`
}

// presenceStore is the subset of *redis.Client the heartbeat uses.
type presenceStore interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

const (
	heartbeatChannel = "kits:heartbeat"
	presenceTTL      = 30 * time.Second
)

// Heartbeat publishes periodic presence to Redis. Each heartbeat:
//  1. SETs kit:{id} with a 30s TTL
//  2. PUBLISHes to kits:heartbeat
type Heartbeat struct {
	rdb      presenceStore
	kitID    string
	name     string
	interval time.Duration
	getStats func() (types.RuntimeCount, bool)
	stop     chan struct{}
	done     chan struct{}
}

// NewHeartbeat connects to Redis and verifies it answers.
func NewHeartbeat(redisURL, kitID, name string) (*Heartbeat, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newHeartbeat(rdb, kitID, name, 10*time.Second), nil
}

func newHeartbeat(rdb presenceStore, kitID, name string, interval time.Duration) *Heartbeat {
	return &Heartbeat{
		rdb:      rdb,
		kitID:    kitID,
		name:     name,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins publishing heartbeats. getStats returns the runtime counts and
// whether the kit server channel is connected.
func (h *Heartbeat) Start(getStats func() (types.RuntimeCount, bool)) {
	h.getStats = getStats

	go func() {
		defer close(h.done)
		// Publish immediately on start
		h.publish()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				h.publish()
			case <-h.stop:
				return
			}
		}
	}()
}

func (h *Heartbeat) publish() {
	counts, connected := h.getStats()
	data, err := json.Marshal(heartbeatPayload{
		KitID:       h.kitID,
		Name:        h.name,
		Runners:     counts.Runners,
		Subscribers: counts.Subscribers,
		Connected:   connected,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		log.Printf("fleet: heartbeat marshal error: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.rdb.Set(ctx, presenceKey(h.kitID), data, presenceTTL).Err(); err != nil {
		log.Printf("fleet: heartbeat SET failed: %v", err)
	}
	if err := h.rdb.Publish(ctx, heartbeatChannel, data).Err(); err != nil {
		log.Printf("fleet: heartbeat PUBLISH failed: %v", err)
	}
}

// Stop stops the heartbeat, removes the presence key and closes Redis.
func (h *Heartbeat) Stop() {
	close(h.stop)
	<-h.done

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.rdb.Del(ctx, presenceKey(h.kitID))

	h.rdb.Close()
	log.Println("fleet: heartbeat stopped")
}

func presenceKey(kitID string) string {
	return "kit:" + kitID
}

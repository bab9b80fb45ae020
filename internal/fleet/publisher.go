package fleet

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensandbox/kitsync/pkg/types"
)

// StateEvent is the JSON payload published to NATS when runtime state changes.
type StateEvent struct {
	KitID       string             `json:"kit_id"`
	Runners     int                `json:"noOfRunner"`
	Subscribers int                `json:"noOfApiSubscriber"`
	RunnerList  []types.RunnerInfo `json:"lsOfRunner"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Publisher mirrors runtime state changes onto a JetStream stream.
type Publisher struct {
	nc    *nats.Conn
	js    nats.JetStreamContext
	kitID string
}

// NewPublisher connects to NATS and ensures the KIT_RUNTIME stream exists.
func NewPublisher(natsURL, kitID string) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("kitsync-"+kitID),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     "KIT_RUNTIME",
		Subjects: []string{"kits.runtime.>"},
		MaxAge:   24 * time.Hour,
	})
	if err != nil {
		// Stream may already exist, that's OK
		log.Printf("fleet: stream setup: %v", err)
	}

	return &Publisher{nc: nc, js: js, kitID: kitID}, nil
}

// PublishRuntimeState publishes one state change.
func (p *Publisher) PublishRuntimeState(counts types.RuntimeCount, runners []types.RunnerInfo) {
	data, err := json.Marshal(StateEvent{
		KitID:       p.kitID,
		Runners:     counts.Runners,
		Subscribers: counts.Subscribers,
		RunnerList:  runners,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		log.Printf("fleet: marshal state event: %v", err)
		return
	}
	if _, err := p.js.Publish(Subject(p.kitID), data); err != nil {
		log.Printf("fleet: publish state for %s: %v", p.kitID, err)
	}
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}

// Subject returns the NATS subject for a kit. Characters NATS treats as
// tokens or wildcards are replaced.
func Subject(kitID string) string {
	return "kits.runtime." + strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(kitID)
}

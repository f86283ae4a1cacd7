// internal/hub/nats.go
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/erilali/relay/internal/logger"
	"github.com/erilali/relay/internal/message"
	"github.com/nats-io/nats.go"
)

const (
	// PresenceStream holds presence and relay events.
	PresenceStream = "PRESENCE"

	subjectOnlinePrefix   = "presence.online."
	subjectOfflinePrefix  = "presence.offline."
	subjectRelayDelivered = "relay.delivered"
	subjectRelayMissed    = "relay.missed"

	publishQueueSize = 1024
)

// StreamSubjects are the subjects captured by PresenceStream.
var StreamSubjects = []string{"presence.>", "relay.>"}

// EventPublisher receives presence and relay events. Implementations must not
// block the caller.
type EventPublisher interface {
	Publish(subject string, evt message.Event)
}

var subjectToken = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

func onlineSubject(userID string) string  { return subjectOnlinePrefix + subjectToken.Replace(userID) }
func offlineSubject(userID string) string { return subjectOfflinePrefix + subjectToken.Replace(userID) }

type pendingEvent struct {
	subject string
	data    []byte
}

// NATSPublisher publishes events to JetStream from a single background
// goroutine. Events are dropped when the queue is full.
type NATSPublisher struct {
	js     nats.JetStreamContext
	queue  chan pendingEvent
	logger *logger.Logger
}

func NewNATSPublisher(js nats.JetStreamContext, log *logger.Logger) *NATSPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &NATSPublisher{
		js:     js,
		queue:  make(chan pendingEvent, publishQueueSize),
		logger: log,
	}
}

func (p *NATSPublisher) Publish(subject string, evt message.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Errorf("Failed to marshal event data: %v", err)
		return
	}
	select {
	case p.queue <- pendingEvent{subject: subject, data: data}:
	default:
		p.logger.Warnf("Event queue full, dropping %s", subject)
	}
}

// Run publishes queued events until ctx is done.
func (p *NATSPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-p.queue:
			if _, err := p.js.Publish(evt.subject, evt.data); err != nil {
				p.logger.Errorf("Failed to publish %s to NATS: %v", evt.subject, err)
			}
		}
	}
}

// EnsureStream creates PresenceStream or updates it to the given retention.
func EnsureStream(js nats.JetStreamContext, retention time.Duration) error {
	cfg := &nats.StreamConfig{
		Name:     PresenceStream,
		Subjects: StreamSubjects,
		Storage:  nats.FileStorage,
		MaxAge:   retention,
	}
	if _, err := js.StreamInfo(cfg.Name); err != nil {
		if _, err := js.AddStream(cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		return nil
	}
	if _, err := js.UpdateStream(cfg); err != nil {
		return fmt.Errorf("update stream %s: %w", cfg.Name, err)
	}
	return nil
}

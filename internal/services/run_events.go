package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/models"
)

const RunEventsChannel = "sync:events"

const (
	EventRunStarted  = "run.started"
	EventRunFlushed  = "run.flushed"
	EventRunFinished = "run.finished"
)

// RunEvent is a progress notification for one sync run.
type RunEvent struct {
	Type        string           `json:"type"`
	AccountID   uuid.UUID        `json:"account_id"`
	RunID       uuid.UUID        `json:"run_id"`
	SyncType    models.SyncType  `json:"sync_type"`
	Status      models.RunStatus `json:"status"`
	ItemsSynced int              `json:"items_synced"`
	ItemsFailed int              `json:"items_failed"`
	Flushes     int              `json:"flushes"`
	StopReason  string           `json:"stop_reason,omitempty"`
	At          time.Time        `json:"at"`
}

// EventPublisher publishes run events over redis pub/sub. Publishing is
// best effort and never fails a run.
type EventPublisher struct {
	redis   *redis.Client
	channel string
}

func NewEventPublisher(rdb *redis.Client) *EventPublisher {
	return &EventPublisher{redis: rdb, channel: RunEventsChannel}
}

func (p *EventPublisher) Publish(ctx context.Context, ev RunEvent) {
	if p == nil || p.redis == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("Failed to marshal run event: %v", err)
		return
	}
	if err := p.redis.Publish(ctx, p.channel, data).Err(); err != nil {
		logger.Warn("Failed to publish run event: %v", err)
	}
}

// RunEventHub multiplexes the events channel to many SSE clients over a
// single redis subscription.
type RunEventHub struct {
	redis       *redis.Client
	channelName string

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewRunEventHub subscribes until ctx ends.
func NewRunEventHub(ctx context.Context, rdb *redis.Client) *RunEventHub {
	hub := &RunEventHub{
		redis:       rdb,
		channelName: RunEventsChannel,
		subscribers: make(map[chan []byte]struct{}),
	}
	ready := make(chan struct{})
	go hub.run(ctx, ready)
	<-ready
	return hub
}

func (h *RunEventHub) run(ctx context.Context, ready chan struct{}) {
	var once sync.Once
	for {
		pubsub := h.redis.Subscribe(ctx, h.channelName)
		// Wait for the subscription to be confirmed so no early event is lost.
		_, _ = pubsub.Receive(ctx)
		once.Do(func() { close(ready) })
		ch := pubsub.Channel(redis.WithChannelSize(1024))

		func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					h.broadcast([]byte(msg.Payload))
				}
			}
		}()
		_ = pubsub.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (h *RunEventHub) broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers {
		select {
		case sub <- payload:
		default:
			// Slow subscriber: drop its oldest message.
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- payload:
			default:
			}
		}
	}
}

// Subscribe registers a listener and returns its channel plus cleanup func.
func (h *RunEventHub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 64)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
}

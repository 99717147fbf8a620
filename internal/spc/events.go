package spc

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"
	_ "github.com/segmentio/kafka-go/snappy" // registers the snappy codec used by kafka.Snappy
)

// OutcomeEvent records how a replicate request was served, for the audit
// stream (§9 "every cache decision -- tier-1 hit, tier-2 hit, warm-up,
// model invocation -- is worth emitting as an event for offline analysis,
// the same way the reference service treats every atom mutation as an
// event"). EventID is generated the same way the teacher's
// AsyncClickHouseLogger stamps its own audit rows (pkg/audit/logger.go's
// `EventID: uuid.New()`), so this event and its matching telemetry row
// (internal/telemetry.Outcome) can be joined on one ID.
type OutcomeEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	CacheKey  string    `json:"cache_key"`
	Outcome   string    `json:"outcome"` // kv_hit, blob_hit, model_invoked, error
	Err       string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	OutcomeKVHit        = "kv_hit"
	OutcomeBlobHit      = "blob_hit"
	OutcomeModelInvoked = "model_invoked"
	OutcomeError        = "error"
)

// EventBus publishes OutcomeEvents. A nil *EventBus is valid and simply
// drops events, matching the teacher's treatment of event emission as
// best-effort augmentation rather than a dependency the request path can
// fail on.
type EventBus struct {
	writer *kafka.Writer
}

// NewEventBus connects to brokers and publishes to topic, compressing with
// snappy the way the teacher's KafkaBus does.
func NewEventBus(brokers []string, topic string) *EventBus {
	return &EventBus{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Compression:  kafka.Snappy,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Printf("spc: kafka write failed: "+msg, args...)
		}),
	}}
}

// Publish emits evt without blocking the caller's request path; marshal or
// transport failures are logged, never returned, since audit loss must
// never fail a cache lookup.
func (b *EventBus) Publish(ctx context.Context, evt OutcomeEvent) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("spc: marshal outcome event: %v", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(evt.CacheKey),
		Value: payload,
		Time:  evt.Timestamp,
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		log.Printf("spc: publish outcome event: %v", err)
	}
}

func (b *EventBus) Close() error {
	if b == nil || b.writer == nil {
		return nil
	}
	return b.writer.Close()
}

// Package telemetry records per-request cache-tier outcomes to Postgres for
// offline analysis, the SPC-side counterpart to the event bus.
package telemetry

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Outcome is one row of the outcome log. EventID mirrors spc.OutcomeEvent's
// own EventID (both stamped from the same uuid.New() call in
// Service.resolve, which passes it to emit and record) so a Kafka event and
// its Postgres row can be joined
// for offline analysis, the same audit-ID pattern as the teacher's
// AsyncClickHouseLogger (pkg/audit/logger.go).
type Outcome struct {
	EventID   uuid.UUID
	CacheKey  string
	Tier      string // kv, blob, model
	Hit       bool
	LatencyMS int64
	Timestamp time.Time
}

// Sink buffers outcomes and flushes them to Postgres in batches, the same
// buffered-channel-plus-ticker shape as the teacher's async audit logger
// (pkg/audit/logger.go), retargeted from ClickHouse to lib/pq.
type Sink struct {
	db      *sql.DB
	eventCh chan Outcome
	doneCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSink starts the background flush worker writing to the already-open
// db. It creates no schema: the cache_outcomes table must already exist,
// and the sink only ever inserts.
func NewSink(db *sql.DB) *Sink {
	s := &Sink{
		db:      db,
		eventCh: make(chan Outcome, 10000),
		doneCh:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Record enqueues o. Non-blocking unless the buffer is saturated, in which
// case the outcome is dropped rather than stalling the request path.
func (s *Sink) Record(o Outcome) {
	if s == nil {
		return
	}
	select {
	case s.eventCh <- o:
	default:
		log.Printf("telemetry: outcome buffer full, dropping %s", o.CacheKey)
	}
}

func (s *Sink) worker() {
	defer s.wg.Done()

	batch := make([]Outcome, 0, 200)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case o := <-s.eventCh:
			batch = append(batch, o)
			if len(batch) >= 200 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.doneCh:
			for {
				select {
				case o := <-s.eventCh:
					batch = append(batch, o)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *Sink) flush(batch []Outcome) {
	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("telemetry: begin tx: %v", err)
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO cache_outcomes (event_id, cache_key, tier, hit, latency_ms, ts) VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		log.Printf("telemetry: prepare insert: %v", err)
		tx.Rollback()
		return
	}
	defer stmt.Close()

	for _, o := range batch {
		if _, err := stmt.Exec(o.EventID, o.CacheKey, o.Tier, o.Hit, o.LatencyMS, o.Timestamp); err != nil {
			log.Printf("telemetry: insert outcome: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("telemetry: commit: %v", err)
	}
}

// Close drains the buffer and stops the worker.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	close(s.doneCh)
	s.wg.Wait()
	return nil
}

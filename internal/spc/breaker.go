package spc

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var breakerTracer = otel.Tracer("facecache/spc/breaker")

// BreakerState is one node of the circuit breaker's state machine guarding
// external model invocation (§4.4.2 step 3, §9 "the model invocation path
// is guarded the same way any flaky upstream call is guarded: a breaker,
// not a bare retry loop").
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig tunes the failure window, backoff, and half-open probing.
type BreakerConfig struct {
	FailureThreshold  int
	WindowSize        time.Duration
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	HalfOpenMaxTrials int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 30 * time.Second
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.HalfOpenMaxTrials <= 0 {
		c.HalfOpenMaxTrials = 1
	}
	return c
}

// failureBuckets is a power-of-two bucketed rolling window of recent
// failures, rotated lazily on read/write rather than by a background timer.
type failureBuckets struct {
	buckets     []int32
	bucketStart int64
	bucketSize  int64
	mask        int32
	total       atomic.Int32
}

func newFailureBuckets(windowSize time.Duration, bucketCount int) *failureBuckets {
	n := 1
	for n < bucketCount {
		n <<= 1
	}
	size := int64(windowSize) / int64(n)
	if size <= 0 {
		size = int64(time.Second)
	}
	return &failureBuckets{
		buckets:     make([]int32, n),
		bucketStart: time.Now().UnixNano(),
		bucketSize:  size,
		mask:        int32(n - 1),
	}
}

func (fb *failureBuckets) reset(now time.Time) {
	for i := range fb.buckets {
		atomic.StoreInt32(&fb.buckets[i], 0)
	}
	atomic.StoreInt64(&fb.bucketStart, now.UnixNano())
	fb.total.Store(0)
}

func (fb *failureBuckets) addFailure(now time.Time) {
	fb.rotate(now.UnixNano())
	idx := fb.index(now.UnixNano())
	atomic.AddInt32(&fb.buckets[idx], 1)
	fb.total.Add(1)
}

func (fb *failureBuckets) count(now time.Time) int {
	fb.rotate(now.UnixNano())
	return int(fb.total.Load())
}

func (fb *failureBuckets) index(now int64) int32 {
	start := atomic.LoadInt64(&fb.bucketStart)
	delta := now - start
	if delta < 0 {
		return 0
	}
	return int32(delta/fb.bucketSize) & fb.mask
}

func (fb *failureBuckets) rotate(now int64) {
	start := atomic.LoadInt64(&fb.bucketStart)
	if now < start+fb.bucketSize {
		return
	}
	steps := int32((now - start) / fb.bucketSize)
	if steps >= int32(len(fb.buckets)) {
		fb.reset(time.Unix(0, now))
		return
	}
	for i := int32(0); i < steps; i++ {
		curStart := atomic.LoadInt64(&fb.bucketStart)
		idx := fb.index(curStart + int64(i)*fb.bucketSize)
		v := atomic.SwapInt32(&fb.buckets[idx], 0)
		fb.total.Add(-v)
	}
	atomic.AddInt64(&fb.bucketStart, int64(steps)*fb.bucketSize)
}

// BreakerOpenError is returned by Execute when the breaker is open and no
// call was attempted.
type BreakerOpenError struct {
	Reason     string
	RetryAfter time.Time
}

func (e *BreakerOpenError) Error() string { return "model invocation breaker open: " + e.Reason }

func IsBreakerOpen(err error) bool {
	var boe *BreakerOpenError
	return errors.As(err, &boe)
}

// Breaker guards the external model invocation call with a classic
// closed/open/half-open state machine, adapted from the teacher's
// HybridCircuitBreaker down to a single-process breaker (the distributed
// cross-instance state sync is dropped; see DESIGN.md).
type Breaker struct {
	cfg BreakerConfig

	mu         sync.Mutex
	state      BreakerState
	openedAt   time.Time
	retryAfter time.Time
	reason     string

	halfOpenTrials atomic.Int32
	failures       *failureBuckets

	rng   *rand.Rand
	rngMu sync.Mutex
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		cfg:      cfg,
		state:    BreakerClosed,
		failures: newFailureBuckets(cfg.WindowSize, 16),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Execute runs fn if the breaker permits it, tracking success/failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	ctx, span := breakerTracer.Start(ctx, "breaker.execute")
	defer span.End()

	now := time.Now()
	state, retryAfter, reason := b.currentState(now)
	span.SetAttributes(attribute.String("breaker.state", string(state)))

	if state == BreakerOpen {
		return "", &BreakerOpenError{Reason: reason, RetryAfter: retryAfter}
	}
	if state == BreakerHalfOpen && !b.allowHalfOpenTrial() {
		return "", &BreakerOpenError{Reason: reason, RetryAfter: retryAfter}
	}

	res, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		b.recordFailure(now, err)
		return "", err
	}
	b.recordSuccess(now)
	return res, nil
}

func (b *Breaker) currentState(now time.Time) (BreakerState, time.Time, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && !b.retryAfter.IsZero() && now.After(b.retryAfter) {
		b.state = BreakerHalfOpen
		b.halfOpenTrials.Store(0)
	}
	return b.state, b.retryAfter, b.reason
}

func (b *Breaker) recordFailure(now time.Time, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reason = err.Error()
	b.failures.addFailure(now)
	if b.state == BreakerOpen {
		return
	}
	if b.failures.count(now) >= b.cfg.FailureThreshold {
		b.state = BreakerOpen
		b.openedAt = now
		b.retryAfter = now.Add(b.computeBackoffLocked())
	}
}

func (b *Breaker) recordSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures.reset(now)
	b.reason = ""
	b.state = BreakerClosed
}

func (b *Breaker) allowHalfOpenTrial() bool {
	max := int32(b.cfg.HalfOpenMaxTrials)
	for {
		cur := b.halfOpenTrials.Load()
		if cur >= max {
			return false
		}
		if b.halfOpenTrials.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (b *Breaker) computeBackoffLocked() time.Duration {
	over := int(b.failures.total.Load()) - b.cfg.FailureThreshold
	if over < 0 {
		over = 0
	}
	d := time.Duration(1<<uint(over)) * b.cfg.BaseBackoff
	if d > b.cfg.MaxBackoff {
		d = b.cfg.MaxBackoff
	}
	b.rngMu.Lock()
	jitter := time.Duration(b.rng.Int63n(int64(b.cfg.BaseBackoff) + 1))
	b.rngMu.Unlock()
	return d + jitter
}

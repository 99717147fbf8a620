package modelclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"facecache/internal/cacheerrors"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	client := New(srv.Client(), srv.URL, "tok", "model-1")
	return client, srv.Close
}

func TestInvokeSucceedsAfterPolling(t *testing.T) {
	var polls atomic.Int32
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(Prediction{ID: "p1", Status: StatusStarting})
			return
		}
		n := polls.Add(1)
		if n < 3 {
			json.NewEncoder(w).Encode(Prediction{ID: "p1", Status: StatusProcessing})
			return
		}
		json.NewEncoder(w).Encode(Prediction{ID: "p1", Status: StatusSucceeded, Output: "https://example.com/out.webp"})
	})
	defer closeFn()

	pred, err := Invoke(context.Background(), client, map[string]interface{}{"smile": 0.5}, InvokeConfig{
		PollInterval: time.Millisecond,
		MaxPolls:     10,
	})
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, pred.Status)
	require.Equal(t, "https://example.com/out.webp", pred.Output)
}

func TestInvokeSurfacesModelFailureWithoutRetry(t *testing.T) {
	var creates atomic.Int32
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			creates.Add(1)
			json.NewEncoder(w).Encode(Prediction{ID: "p1", Status: StatusStarting})
			return
		}
		json.NewEncoder(w).Encode(Prediction{ID: "p1", Status: StatusFailed, Error: "nsfw content detected"})
	})
	defer closeFn()

	_, err := Invoke(context.Background(), client, nil, InvokeConfig{PollInterval: time.Millisecond, MaxPolls: 10})
	require.Error(t, err)
	require.Equal(t, cacheerrors.KindModelFailure, cacheerrors.KindOf(err))
	require.EqualValues(t, 1, creates.Load(), "a terminal model failure must not be retried")
}

func TestInvokeRetriesTransientTransportErrors(t *testing.T) {
	var attempts atomic.Int32
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			n := attempts.Add(1)
			if n < 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(Prediction{ID: "p1", Status: StatusSucceeded, Output: "https://example.com/out.webp"})
			return
		}
		json.NewEncoder(w).Encode(Prediction{ID: "p1", Status: StatusSucceeded, Output: "https://example.com/out.webp"})
	})
	defer closeFn()

	pred, err := Invoke(context.Background(), client, nil, InvokeConfig{PollInterval: time.Millisecond, MaxPolls: 10, MaxRetries: 3})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/out.webp", pred.Output)
	require.GreaterOrEqual(t, attempts.Load(), int32(2))
}

func TestInvokeRetryScheduleDoublesFromInitialBackoff(t *testing.T) {
	var times []time.Time
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			times = append(times, time.Now())
			if len(times) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(Prediction{ID: "p1", Status: StatusSucceeded, Output: "https://example.com/out.webp"})
			return
		}
		json.NewEncoder(w).Encode(Prediction{ID: "p1", Status: StatusSucceeded, Output: "https://example.com/out.webp"})
	})
	defer closeFn()

	const initial = 40 * time.Millisecond
	_, err := Invoke(context.Background(), client, nil, InvokeConfig{
		PollInterval:   time.Millisecond,
		MaxPolls:       10,
		MaxRetries:     3,
		InitialBackoff: initial,
	})
	require.NoError(t, err)
	require.Len(t, times, 3)

	// initialDelay x 2^i: ~40ms before the 2nd attempt, ~80ms before the 3rd.
	require.InDelta(t, initial.Seconds(), times[1].Sub(times[0]).Seconds(), 0.03)
	require.InDelta(t, (2 * initial).Seconds(), times[2].Sub(times[1]).Seconds(), 0.05)
}

func TestInvokeTimesOutAfterMaxPolls(t *testing.T) {
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Prediction{ID: "p1", Status: StatusProcessing})
	})
	defer closeFn()

	_, err := Invoke(context.Background(), client, nil, InvokeConfig{PollInterval: time.Millisecond, MaxPolls: 3, MaxRetries: 0})
	require.Error(t, err)
	require.Equal(t, cacheerrors.KindModelTimeout, cacheerrors.KindOf(err))
}

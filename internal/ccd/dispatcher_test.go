package ccd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"facecache/internal/cacheerrors"
	"facecache/internal/cachekey"
	"facecache/internal/faceparams"
	"facecache/pkg/wireproto"
)

func newTestDispatcher(t *testing.T, handler http.HandlerFunc) (*Dispatcher, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	persist, err := NewPersistTier("")
	require.NoError(t, err)
	t.Cleanup(func() { persist.Close() })

	d := NewDispatcher(NewMemTier(64), persist, srv.Client(), srv.URL, "v1", "test-model", 6, 120*time.Millisecond)
	return d, srv
}

func sampleParams() faceparams.FaceParameters {
	return faceparams.FaceParameters{
		Values:        map[string]float64{faceparams.AxisRotateYaw: 5},
		ImageURL:      "I",
		OutputFormat:  "webp",
		OutputQuality: 100,
		CropFactor:    2.5,
		SrcRatio:      1,
		SampleRatio:   1,
	}
}

func TestRunEditorHitsMemTierWithoutHTTP(t *testing.T) {
	var calls atomic.Int32
	d, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(wireproto.ReplicateResponse{URL: "u1"})
	})

	ctx := context.Background()
	res, err := d.RunEditor(ctx, sampleParams(), false, false)
	require.NoError(t, err)
	require.Equal(t, "u1", res.URL)

	res2, err := d.RunEditor(ctx, sampleParams(), false, false)
	require.NoError(t, err)
	require.Equal(t, "u1", res2.URL)
	require.EqualValues(t, 1, calls.Load(), "second call must be served from tier-1, no HTTP issued")
}

func TestRunEditorFallsBackToPersistTierAfterMemTierCleared(t *testing.T) {
	var calls atomic.Int32
	d, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(wireproto.ReplicateResponse{URL: "u2"})
	})

	ctx := context.Background()
	_, err := d.RunEditor(ctx, sampleParams(), false, false)
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())

	d.mem.Purge()

	res, err := d.RunEditor(ctx, sampleParams(), false, false)
	require.NoError(t, err)
	require.Equal(t, "u2", res.URL)
	require.EqualValues(t, 1, calls.Load(), "tier-2 hit must not issue HTTP")

	// tier-1 repopulated from the tier-2 hit. RunEditor folds the
	// dispatcher's model ID into the key, so the lookup here does too.
	p := sampleParams()
	p.ModelID = d.modelID
	q, err := d.quantizer.Quantize(p)
	require.NoError(t, err)
	key := cachekey.Derive(q)
	v, ok := d.mem.Get(key)
	require.True(t, ok)
	require.Equal(t, "u2", v)
}

func TestRunEditorCoalescesConcurrentCallers(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	d, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		json.NewEncoder(w).Encode(wireproto.ReplicateResponse{URL: "coalesced"})
	})

	const n = 5
	var wg sync.WaitGroup
	results := make([]Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			res, err := d.RunEditor(context.Background(), sampleParams(), false, false)
			results[idx] = res
			errs[idx] = err
		}(i)
	}

	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "coalesced", results[i].URL)
	}
}

func TestRunEditorCancelPreviousSurfacesCancelled(t *testing.T) {
	unblock := make(chan struct{})
	d, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			return
		case <-unblock:
		}
		json.NewEncoder(w).Encode(wireproto.ReplicateResponse{URL: "stale"})
	})
	defer close(unblock)

	p1 := sampleParams()
	p1.Values[faceparams.AxisSmile] = 0.1 // distinct key from p2

	p2 := sampleParams()
	p2.Values[faceparams.AxisSmile] = 0.9

	var firstErr error
	done := make(chan struct{})
	go func() {
		_, firstErr = d.RunEditor(context.Background(), p1, true, false)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	// p2's own request stays pending on `unblock` until the deferred close;
	// we only assert on p1.
	go d.RunEditor(context.Background(), p2, true, false)

	<-done
	require.Error(t, firstErr)
	require.True(t, cacheerrors.IsCancelled(firstErr), "superseded dispatch must surface Cancelled, got %v", firstErr)
}

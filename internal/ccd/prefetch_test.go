package ccd

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"facecache/internal/cacheerrors"
	"facecache/internal/faceparams"
	"facecache/pkg/wireproto"
)

func TestFullSweepDispatchesExpectedCount(t *testing.T) {
	var calls atomic.Int32
	d, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(wireproto.ReplicateResponse{URL: "u"})
	})

	planner := NewPrefetchPlanner(d, nil, 32)
	base := faceparams.FaceParameters{ImageURL: "I", OutputFormat: "webp", OutputQuality: 100, CropFactor: 2.5, SrcRatio: 1, SampleRatio: 1, Values: map[string]float64{}}

	err := planner.FullSweep(context.Background(), base, []string{faceparams.AxisSmile})
	require.NoError(t, err)

	// (NUM_BUCKETS+1)^3 rotation combos + (NUM_BUCKETS+1) smile combos,
	// with NUM_BUCKETS=6 -> 343 + 7 = 350 distinct payloads, but the
	// rotation combo with all-default (0,0,0) coincides with nothing in
	// the smile sweep (different axis), so no coalescing across the two
	// groups is expected here.
	require.EqualValues(t, 350, calls.Load())
}

func TestSecondSweepWhileRunningIsNoOp(t *testing.T) {
	release := make(chan struct{})
	d, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		json.NewEncoder(w).Encode(wireproto.ReplicateResponse{URL: "u"})
	})

	planner := NewPrefetchPlanner(d, nil, 8)
	base := faceparams.FaceParameters{ImageURL: "I", OutputFormat: "webp", OutputQuality: 100, CropFactor: 2.5, SrcRatio: 1, SampleRatio: 1, Values: map[string]float64{}}

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- planner.FullSweep(context.Background(), base, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	require.True(t, planner.IsRunning())

	err := planner.FullSweep(context.Background(), base, nil)
	require.ErrorIs(t, err, cacheerrors.ErrCachingInProgress)

	close(release)
	require.NoError(t, <-firstDone)
}

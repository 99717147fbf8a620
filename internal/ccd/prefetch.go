package ccd

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"facecache/internal/cacheerrors"
	"facecache/internal/faceparams"
)

// rotationAxes is the 3-D lattice swept by a full sweep (§4.3.3).
var rotationAxes = []string{faceparams.AxisRotatePitch, faceparams.AxisRotateYaw, faceparams.AxisRotateRoll}

// PrefetchPlanner drives the full-sweep and focused-sweep prefetch modes.
// Both share the dispatcher's inflight registry, so ad-hoc interactive
// calls and prefetch sweeps naturally coalesce (§4.3.3, §9 "Request
// coalescing across sweeps and interactive path shares the same
// registry").
type PrefetchPlanner struct {
	dispatcher  *Dispatcher
	images      *ImagePrefetcher
	maxInFlight int64

	running atomic.Bool
}

// NewPrefetchPlanner builds a planner bounded by MAX_CONCURRENT_REQUESTS.
func NewPrefetchPlanner(d *Dispatcher, images *ImagePrefetcher, maxConcurrentRequests int) *PrefetchPlanner {
	if maxConcurrentRequests <= 0 {
		maxConcurrentRequests = 250
	}
	return &PrefetchPlanner{dispatcher: d, images: images, maxInFlight: int64(maxConcurrentRequests)}
}

// FullSweep emits the Cartesian product of quantized rotation endpoints
// plus, for each axis in controlGroup, the 1-D sweep of that axis at
// defaults elsewhere (§4.3.3). Only one full or focused sweep may run at a
// time; a second call while one is running returns ErrCachingInProgress
// immediately without starting new work (§4.5 "Prefetch job" state
// machine).
func (p *PrefetchPlanner) FullSweep(ctx context.Context, base faceparams.FaceParameters, controlGroup []string) error {
	if !p.running.CompareAndSwap(false, true) {
		return cacheerrors.ErrCachingInProgress
	}
	defer p.running.Store(false)

	q := faceparams.NewQuantizer(numBucketsFromDispatcher(p.dispatcher))

	payloads := make([]faceparams.FaceParameters, 0, 256)
	payloads = append(payloads, cartesianRotation(base, q)...)
	for _, axis := range controlGroup {
		payloads = append(payloads, axisSweep(base, axis, q)...)
	}

	return p.dispatchAll(ctx, payloads)
}

// FocusedSweep emits the 1-D sweep along axis with every other axis frozen
// at currentValues (§4.3.3). Intended to be called from a Debouncer so
// that rapid control switches coalesce to the last one.
func (p *PrefetchPlanner) FocusedSweep(ctx context.Context, base faceparams.FaceParameters, axis string) error {
	if !p.running.CompareAndSwap(false, true) {
		return cacheerrors.ErrCachingInProgress
	}
	defer p.running.Store(false)

	q := faceparams.NewQuantizer(numBucketsFromDispatcher(p.dispatcher))
	payloads := axisSweep(base, axis, q)
	return p.dispatchAll(ctx, payloads)
}

// IsRunning reports whether a sweep is currently in progress.
func (p *PrefetchPlanner) IsRunning() bool { return p.running.Load() }

func (p *PrefetchPlanner) dispatchAll(ctx context.Context, payloads []faceparams.FaceParameters) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(p.maxInFlight))

	for _, payload := range payloads {
		payload := payload
		g.Go(func() error {
			res, err := p.dispatcher.RunEditor(gctx, payload, false, false)
			if err != nil {
				// A single hit or miss failing doesn't abort the rest of
				// the sweep; prefetch is best-effort.
				return nil
			}
			if res.URL != "" && p.images != nil {
				p.images.Enqueue(res.URL)
			}
			return nil
		})
	}

	return g.Wait()
}

func cartesianRotation(base faceparams.FaceParameters, q faceparams.Quantizer) []faceparams.FaceParameters {
	endpointsFor := func(axis string) []float64 {
		r := faceparams.Ranges[axis]
		return q.EndpointValues(r.Min, r.Max)
	}
	pitchVals := endpointsFor(rotationAxes[0])
	yawVals := endpointsFor(rotationAxes[1])
	rollVals := endpointsFor(rotationAxes[2])

	out := make([]faceparams.FaceParameters, 0, len(pitchVals)*len(yawVals)*len(rollVals))
	for _, pitch := range pitchVals {
		for _, yaw := range yawVals {
			for _, roll := range rollVals {
				p := cloneParams(base)
				p.Values[rotationAxes[0]] = pitch
				p.Values[rotationAxes[1]] = yaw
				p.Values[rotationAxes[2]] = roll
				out = append(out, p)
			}
		}
	}
	return out
}

func axisSweep(base faceparams.FaceParameters, axis string, q faceparams.Quantizer) []faceparams.FaceParameters {
	r, ok := faceparams.Ranges[axis]
	if !ok {
		return nil
	}
	endpoints := q.EndpointValues(r.Min, r.Max)
	out := make([]faceparams.FaceParameters, 0, len(endpoints))
	for _, v := range endpoints {
		p := cloneParams(base)
		p.Values[axis] = v
		out = append(out, p)
	}
	return out
}

func cloneParams(base faceparams.FaceParameters) faceparams.FaceParameters {
	clone := base
	clone.Values = make(map[string]float64, len(base.Values))
	for k, v := range base.Values {
		clone.Values[k] = v
	}
	return clone
}

func numBucketsFromDispatcher(d *Dispatcher) int {
	return d.quantizer.NumBuckets
}

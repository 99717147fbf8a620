// Package ccd implements the Client Cache & Dispatcher: the three-tier
// read path, generation-ordered cancellation, and prefetch orchestration
// described in spec.md §4.3.
package ccd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"facecache/internal/cacheerrors"
	"facecache/internal/cachekey"
	"facecache/internal/faceparams"
	"facecache/internal/inflight"
	"facecache/pkg/wireproto"
)

// Dispatcher is the CCD: quantizes, looks up the tiered cache, and issues
// coalesced, cancellable upstream requests to the SPC.
type Dispatcher struct {
	quantizer faceparams.Quantizer
	mem       *MemTier
	persist   *PersistTier
	registry  *inflight.Registry[cachekey.CacheKey, string]
	gens      *generationTracker

	httpClient *http.Client
	spcURL     string
	cacheVer   string
	modelID    string

	loadingDelay time.Duration
}

// NewDispatcher wires the three tiers and the coalescing registry. spcURL
// is the base URL of the SPC's POST /api/replicate endpoint. modelID is the
// process-pinned model identifier folded into every cache key (§3); it must
// match the SPC's own MODEL_ID for the two sides to converge on the same
// key for the same logical request.
func NewDispatcher(mem *MemTier, persist *PersistTier, httpClient *http.Client, spcURL, cacheVersion, modelID string, numBuckets int, loadingDelay time.Duration) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Dispatcher{
		quantizer:    faceparams.NewQuantizer(numBuckets),
		mem:          mem,
		persist:      persist,
		registry:     inflight.New[cachekey.CacheKey, string](),
		gens:         newGenerationTracker(),
		httpClient:   httpClient,
		spcURL:       spcURL,
		cacheVer:     cacheVersion,
		modelID:      modelID,
		loadingDelay: loadingDelay,
	}
}

// Result is what RunEditor returns: the resolved URL (if any), whether this
// particular dispatch's generation was still current by the time it
// resolved (and so should be applied to visible UI state), and an error.
type Result struct {
	URL     string
	Applied bool
}

// RunEditor is the CCD's one dispatch operation (§4.3.2).
func (d *Dispatcher) RunEditor(ctx context.Context, params faceparams.FaceParameters, cancelPrevious, skipCache bool) (Result, error) {
	params.ModelID = d.modelID
	quantized, err := d.quantizer.Quantize(params)
	if err != nil {
		return Result{}, err
	}
	key := cachekey.Derive(quantized)

	if !skipCache {
		if url, ok := d.mem.Get(key); ok {
			return Result{URL: url, Applied: true}, nil
		}
		if d.persist != nil {
			if url, ok, perr := d.persist.Get(key); perr == nil && ok {
				d.mem.Set(key, url)
				return Result{URL: url, Applied: true}, nil
			} else if perr != nil {
				log.Printf("ccd: persist tier read failed for %s: %v", key, perr)
			}
		}
	}

	gen, genCtx := d.gens.begin(ctx, cancelPrevious)
	defer d.gens.finish(gen)

	url, err, _ := d.registry.Do(genCtx, key, func(callCtx context.Context) (string, error) {
		return d.postToSPC(callCtx, quantized)
	})

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, cacheerrors.Wrap(cacheerrors.KindCancelled, err)
		}
		return Result{}, cacheerrors.Wrap(cacheerrors.KindUpstreamUnavailable, err)
	}

	// Write-through regardless of whether this generation is still current
	// -- a late-arriving correct result is still useful cache data (§4.3.4,
	// §8 "late completion still writes its URL to both client tiers").
	d.mem.Set(key, url)
	if d.persist != nil {
		if perr := d.persist.Set(key, url); perr != nil {
			log.Printf("ccd: persist tier write failed for %s: %v", key, perr)
		}
	}

	applied := d.gens.applies(gen)
	return Result{URL: url, Applied: applied}, nil
}

func (d *Dispatcher) postToSPC(ctx context.Context, q faceparams.QuantizedParameters) (string, error) {
	body, err := json.Marshal(wireproto.FromQuantized(q))
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.spcURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody wireproto.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return "", fmt.Errorf("spc returned %d: %s", resp.StatusCode, errBody.Error)
	}

	var out wireproto.ReplicateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.URL, nil
}

package spc

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"facecache/internal/cacheerrors"
	"facecache/internal/cachekey"
	"facecache/internal/config"
	"facecache/internal/faceparams"
	"facecache/internal/inflight"
	"facecache/internal/modelclient"
	"facecache/internal/telemetry"
	"facecache/pkg/wireproto"

	"github.com/google/uuid"
)

// kvStore is the subset of *KVTier that Service depends on; satisfied by
// *KVTier in production and by a fake in tests.
type kvStore interface {
	Get(ctx context.Context, path string) (string, bool, error)
	Set(ctx context.Context, path, url string) error
}

// blobStore is the subset of *BlobTier that Service depends on.
type blobStore interface {
	Lookup(ctx context.Context, path string) (string, bool, error)
	Put(ctx context.Context, path, ext string, body []byte, contentType string) (string, error)
}

// Service orchestrates a replicate request against the kv tier, the blob
// tier, and -- on a full miss -- the external model, coalescing concurrent
// misses for the same key the same way the CCD coalesces its own outbound
// calls (spec.md §4.4.2, §9 "the SPC needs the identical single-flight
// treatment the CCD gives its own dispatch, since a popular preview can
// thunder-herd the model service just as easily as it can the SPC").
type Service struct {
	cfg config.Config

	kv    kvStore
	blob  blobStore
	model *modelclient.Client

	breaker  *Breaker
	events   *EventBus
	telem    *telemetry.Sink
	registry *inflight.Registry[cachekey.CacheKey, string]
}

func NewService(cfg config.Config, kv *KVTier, blob *BlobTier, model *modelclient.Client, events *EventBus, telem *telemetry.Sink) *Service {
	return &Service{
		cfg:   cfg,
		kv:    kv,
		blob:  blob,
		model: model,
		breaker: NewBreaker(BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			WindowSize:       cfg.BreakerWindow,
			BaseBackoff:      cfg.BreakerBaseBackoff,
			MaxBackoff:       cfg.BreakerMaxBackoff,
		}),
		events:   events,
		telem:    telem,
		registry: inflight.New[cachekey.CacheKey, string](),
	}
}

// Replicate resolves a quantized request to a public URL, trying the fast
// tier, then the durable tier (with an async warm-up of the fast tier on a
// blob hit), and finally the external model (§4.4.2 steps 1-4).
func (s *Service) Replicate(ctx context.Context, req faceparams.QuantizedParameters) (string, error) {
	key := cachekey.Derive(req)
	path := cachekey.Path(s.cfg.CacheVersion, req.ModelID, key)

	url, err, _ := s.registry.Do(ctx, key, func(callCtx context.Context) (string, error) {
		return s.resolve(callCtx, path, req)
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// lookupResult carries one tier's outcome back to resolve over a channel.
type lookupResult struct {
	url string
	ok  bool
	err error
}

// resolve issues the kv and blob lookups concurrently and takes whichever
// non-null, non-error response arrives first, falling back to the other
// only if the first responder missed or errored (§4.4.2).
func (s *Service) resolve(ctx context.Context, path string, req faceparams.QuantizedParameters) (string, error) {
	start := time.Now()
	kvCh := make(chan lookupResult, 1)
	blobCh := make(chan lookupResult, 1)

	go func() {
		url, ok, err := s.kv.Get(ctx, path)
		kvCh <- lookupResult{url, ok, err}
	}()
	go func() {
		url, ok, err := s.blob.Lookup(ctx, path)
		blobCh <- lookupResult{url, ok, err}
	}()

	// Take results in arrival order and stop at the first hit; a tier that
	// hasn't answered by then stays a zero-value miss below.
	var kv, blob lookupResult
	for pending := 2; pending > 0; pending-- {
		select {
		case kv = <-kvCh:
		case blob = <-blobCh:
		}
		if (kv.err == nil && kv.ok) || (blob.err == nil && blob.ok) {
			break
		}
	}

	if kv.err != nil {
		log.Printf("spc: kv lookup failed for %s: %v", path, kv.err)
	} else if kv.ok {
		id := uuid.New()
		s.emit(ctx, id, path, OutcomeKVHit, nil)
		s.record(id, path, "kv", true, start)
		return kv.url, nil
	}

	if blob.err != nil {
		log.Printf("spc: blob lookup failed for %s: %v", path, blob.err)
	} else if blob.ok {
		id := uuid.New()
		s.emit(ctx, id, path, OutcomeBlobHit, nil)
		s.record(id, path, "blob", true, start)
		go s.warmUp(path, blob.url)
		return blob.url, nil
	}

	url, err := s.invokeModel(ctx, path, req)
	id := uuid.New()
	if err != nil {
		s.emit(ctx, id, path, OutcomeError, err)
		s.record(id, path, "model", false, start)
		return "", err
	}
	s.emit(ctx, id, path, OutcomeModelInvoked, nil)
	s.record(id, path, "model", true, start)
	return url, nil
}

// record forwards one resolution outcome to the Postgres telemetry sink,
// best-effort and off the request path (the sink itself never blocks). id
// matches the EventID stamped on the corresponding OutcomeEvent so the two
// audit trails can be joined.
func (s *Service) record(id uuid.UUID, path, tier string, hit bool, start time.Time) {
	if s.telem == nil {
		return
	}
	s.telem.Record(telemetry.Outcome{
		EventID:   id,
		CacheKey:  path,
		Tier:      tier,
		Hit:       hit,
		LatencyMS: time.Since(start).Milliseconds(),
		Timestamp: time.Now(),
	})
}

// warmUp writes a blob-tier hit back into the fast tier, best-effort and
// off the request path (§4.4.2 step 2 "warm-up").
func (s *Service) warmUp(path, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.kv.Set(ctx, path, url); err != nil {
		log.Printf("spc: warm-up write failed for %s: %v", path, err)
	}
}

// invokeModel calls the external model behind the circuit breaker and
// returns the model's own output URL immediately, kicking off the
// best-effort blob/kv persistence in the background (§4.4.2 step 3, §4.4.4
// "client may receive the upstream URL before the blob copy completes").
func (s *Service) invokeModel(ctx context.Context, path string, req faceparams.QuantizedParameters) (string, error) {
	input := modelInput(req)

	url, err := s.breaker.Execute(ctx, func(callCtx context.Context) (string, error) {
		pred, err := modelclient.Invoke(callCtx, s.model, input, modelclient.InvokeConfig{
			PollInterval:   s.cfg.PollInterval,
			MaxPolls:       s.cfg.MaxPollAttempts,
			MaxRetries:     s.cfg.ModelMaxRetries,
			InitialBackoff: s.cfg.ModelInitialBackoff,
		})
		if err != nil {
			return "", err
		}
		out, ok := pred.Output.(string)
		if !ok {
			return "", cacheerrors.New(cacheerrors.KindModelFailure, "model output was not a URL")
		}
		return out, nil
	})
	if err != nil {
		if IsBreakerOpen(err) {
			return "", cacheerrors.Wrap(cacheerrors.KindUpstreamUnavailable, err)
		}
		return "", err
	}

	go s.persist(path, url, req.OutputFormat)
	return url, nil
}

// persist downloads the model's output and writes it to the blob tier at
// <path>.<ext>, then writes the resulting public URL to the kv tier, all
// off the request path (§4.4.4).
func (s *Service) persist(path, upstreamURL, outputFormat string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	body, contentType, err := download(ctx, upstreamURL)
	if err != nil {
		log.Printf("spc: download model output for %s: %v", path, err)
		return
	}

	ext := wireproto.OutputExtension(outputFormat)
	publicURL, err := s.blob.Put(ctx, path, ext, body, contentType)
	if err != nil {
		log.Printf("spc: persist to blob tier failed for %s: %v", path, err)
		return
	}
	if err := s.kv.Set(ctx, path, publicURL); err != nil {
		log.Printf("spc: persist to kv tier failed for %s: %v", path, err)
	}
}

func download(ctx context.Context, url string) (body []byte, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (s *Service) emit(ctx context.Context, id uuid.UUID, path, outcome string, cause error) {
	if s.events == nil {
		return
	}
	evt := OutcomeEvent{EventID: id, CacheKey: path, Outcome: outcome, Timestamp: time.Now()}
	if cause != nil {
		evt.Err = cause.Error()
	}
	s.events.Publish(ctx, evt)
}

func modelInput(req faceparams.QuantizedParameters) map[string]interface{} {
	input := map[string]interface{}{
		"image":          req.ImageURL,
		"crop_factor":    req.CropFactor,
		"src_ratio":      req.SrcRatio,
		"sample_ratio":   req.SampleRatio,
		"output_format":  req.OutputFormat,
		"output_quality": req.OutputQuality,
	}
	for axis, v := range req.Values {
		input[axis] = v
	}
	return input
}

package modelclient

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"

	"facecache/internal/cacheerrors"
)

// InvokeConfig bounds the create+poll loop (§4.4.2 step 3: "bounded number
// of poll attempts", "the call to the external model is itself guarded by
// retry with backoff, distinguishing a retryable transport hiccup from a
// terminal model failure").
type InvokeConfig struct {
	PollInterval   time.Duration
	MaxPolls       int
	MaxRetries     int
	InitialBackoff time.Duration
}

func (c InvokeConfig) withDefaults() InvokeConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = 120
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	return c
}

// Invoke runs a single create-then-poll prediction to completion, retrying
// transient transport/5xx failures with exponential backoff and giving up
// immediately on a terminal model failure or a cancelled context.
func Invoke(ctx context.Context, client *Client, input map[string]interface{}, cfg InvokeConfig) (Prediction, error) {
	cfg = cfg.withDefaults()

	var result Prediction
	operation := func() error {
		pred, err := runOnce(ctx, client, input, cfg)
		if err != nil {
			var transient *transientError
			if errors.As(err, &transient) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		result = pred
		return nil
	}

	// RandomizationFactor is zeroed and Multiplier fixed at 2 so the
	// schedule follows initialDelay x 2^i exactly, the deterministic
	// doubling §8 describes -- backoff's own default jitter
	// (RandomizationFactor=0.5) would make sleep durations untestable.
	// MaxInterval is set well above anything cfg.MaxRetries can reach so it
	// never kicks in and silently caps (a zero MaxInterval would instead
	// collapse every interval after the first to zero).
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = cfg.InitialBackoff << uint(cfg.MaxRetries+2)
	bo.MaxElapsedTime = 0
	retrier := backoff.WithMaxRetries(bo, uint64(cfg.MaxRetries))

	if err := backoff.Retry(operation, withContext(retrier, ctx)); err != nil {
		if ctx.Err() != nil {
			return Prediction{}, cacheerrors.Wrap(cacheerrors.KindCancelled, ctx.Err())
		}
		var transient *transientError
		if errors.As(err, &transient) {
			return Prediction{}, cacheerrors.Wrap(cacheerrors.KindUpstreamUnavailable, err)
		}
		return Prediction{}, err
	}
	return result, nil
}

// runOnce creates a prediction and polls it to a terminal state, surfacing
// StatusFailed as a terminal cacheerrors.KindModelFailure rather than a
// retryable error.
func runOnce(ctx context.Context, client *Client, input map[string]interface{}, cfg InvokeConfig) (Prediction, error) {
	pred, err := client.CreatePrediction(ctx, input)
	if err != nil {
		return Prediction{}, err
	}

	for i := 0; !pred.done(); i++ {
		if i >= cfg.MaxPolls {
			return Prediction{}, cacheerrors.New(cacheerrors.KindModelTimeout, "prediction did not complete within poll budget")
		}
		select {
		case <-ctx.Done():
			return Prediction{}, ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
		pred, err = client.GetPrediction(ctx, pred.ID)
		if err != nil {
			return Prediction{}, err
		}
	}

	if pred.Status == StatusFailed {
		return Prediction{}, cacheerrors.New(cacheerrors.KindModelFailure, pred.Error)
	}
	if pred.Status == StatusCanceled {
		return Prediction{}, cacheerrors.New(cacheerrors.KindCancelled, "prediction canceled upstream")
	}
	return pred, nil
}

// withContext bounds retrier by ctx, the same shape as backoff.WithContext
// but kept local so a cancelled ctx surfaces through ctx.Err() directly.
func withContext(b backoff.BackOff, ctx context.Context) backoff.BackOff {
	return backoff.WithContext(b, ctx)
}

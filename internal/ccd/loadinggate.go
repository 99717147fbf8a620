package ccd

import "time"

// LoadingGate fires its channel only if Stop hasn't been called within the
// configured delay, so a caller can show a "loading" indicator on slow
// requests while staying silent on cache hits (§4.3.4, §7 "Loading state is
// shown only after LOADING_DELAY_MS to avoid flicker during cache-hit
// runs").
type LoadingGate struct {
	timer *time.Timer
	fired chan struct{}
}

// StartLoadingGate arms a gate for delay. Call Stop once the dispatch
// resolves; if it resolved before delay elapsed, the channel never fires.
func StartLoadingGate(delay time.Duration) *LoadingGate {
	fired := make(chan struct{})
	g := &LoadingGate{fired: fired}
	g.timer = time.AfterFunc(delay, func() { close(fired) })
	return g
}

// C returns the channel that closes once delay has elapsed without Stop
// having been called.
func (g *LoadingGate) C() <-chan struct{} { return g.fired }

// Stop cancels the pending fire. Safe to call more than once.
func (g *LoadingGate) Stop() {
	g.timer.Stop()
}

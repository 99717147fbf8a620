package ccd

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleSuppressesSupersededCalls(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	var fired atomic.Int32

	d.Schedule(func() { fired.Add(1) })
	d.Schedule(func() { fired.Add(100) })
	d.Schedule(func() { fired.Add(1000) })

	time.Sleep(30 * time.Millisecond)
	require.EqualValues(t, 1000, fired.Load(), "only the last scheduled call should fire")
}

func TestScheduleRunsAloneWhenNotSuperseded(t *testing.T) {
	d := NewDebouncer(5 * time.Millisecond)
	done := make(chan struct{})

	d.Schedule(func() { close(done) })

	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("debounced call never fired")
	}
}

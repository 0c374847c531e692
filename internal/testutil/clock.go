// Package testutil holds test doubles shared across packages.
package testutil

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RecordingClock is a clockwork.Clock whose timers fire immediately. Every
// requested duration is recorded and advances the embedded fake clock, so
// code that suspends on it runs without real delay.
type RecordingClock struct {
	*clockwork.FakeClock

	mu    sync.Mutex
	waits []time.Duration
}

// NewRecordingClock starts a recording clock at t.
func NewRecordingClock(t time.Time) *RecordingClock {
	return &RecordingClock{FakeClock: clockwork.NewFakeClockAt(t)}
}

// NewTimer records d, advances the clock by d, and returns a fired timer.
func (c *RecordingClock) NewTimer(d time.Duration) clockwork.Timer {
	c.record(d)
	return newFiredTimer(c.Now())
}

// After records d, advances the clock by d, and returns a ready channel.
func (c *RecordingClock) After(d time.Duration) <-chan time.Time {
	c.record(d)
	return newFiredTimer(c.Now()).Chan()
}

// Sleep records d and advances the clock by d.
func (c *RecordingClock) Sleep(d time.Duration) {
	c.record(d)
}

// Waits returns every duration requested so far, in order.
func (c *RecordingClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

func (c *RecordingClock) record(d time.Duration) {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	c.Advance(d)
}

type firedTimer struct {
	ch chan time.Time
}

func newFiredTimer(now time.Time) *firedTimer {
	ch := make(chan time.Time, 1)
	ch <- now
	return &firedTimer{ch: ch}
}

func (t *firedTimer) Chan() <-chan time.Time { return t.ch }
func (t *firedTimer) Stop() bool { return false }
func (t *firedTimer) Reset(_ time.Duration) bool { return false }

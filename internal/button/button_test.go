package button

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectorDebounce(t *testing.T) {
	d := NewDetector(30*time.Millisecond, time.Second)
	t0 := time.Unix(1000, 0)
	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

	assert.Empty(t, d.Update(true, at(0)))
	assert.Empty(t, d.Update(false, at(10)), "bounce resets the candidate")
	assert.Empty(t, d.Update(true, at(20)))
	assert.Empty(t, d.Update(true, at(40)))
	assert.Equal(t, []Event{Pressed}, d.Update(true, at(50)))
	assert.True(t, d.Held())

	assert.Empty(t, d.Update(false, at(300)))
	assert.Equal(t, []Event{Released}, d.Update(false, at(330)))
	assert.False(t, d.Held())
}

func TestDetectorLongPress(t *testing.T) {
	d := NewDetector(0, time.Second)
	t0 := time.Unix(1000, 0)

	assert.Equal(t, []Event{Pressed}, d.Update(true, t0))
	assert.Empty(t, d.Update(true, t0.Add(999*time.Millisecond)))
	assert.Equal(t, []Event{LongPress}, d.Update(true, t0.Add(time.Second)))
	assert.Empty(t, d.Update(true, t0.Add(3*time.Second)), "long press fires once")
	assert.Equal(t, []Event{Released}, d.Update(false, t0.Add(4*time.Second)))

	assert.Equal(t, []Event{Pressed}, d.Update(true, t0.Add(5*time.Second)))
	assert.Equal(t, []Event{LongPress}, d.Update(true, t0.Add(6*time.Second)))
}

type fakeSource struct {
	pressed atomic.Bool
	fail    atomic.Bool
}

func (s *fakeSource) Pressed() (bool, error) {
	if s.fail.Load() {
		return false, errors.New("line gone")
	}
	return s.pressed.Load(), nil
}

func (s *fakeSource) Close() error { return nil }

type fakePTT struct {
	mu      sync.Mutex
	presses int
	release int
	refuse  bool
}

func (p *fakePTT) PressPTT() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presses++
	if p.refuse {
		return errors.New("channel busy")
	}
	return nil
}

func (p *fakePTT) ReleasePTT() {
	p.mu.Lock()
	p.release++
	p.mu.Unlock()
}

func TestWatcherQueuesEvents(t *testing.T) {
	src := &fakeSource{}
	w := NewWatcher(src, 0, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	src.pressed.Store(true)
	select {
	case ev := <-w.Events():
		assert.Equal(t, Pressed, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no press event")
	}

	cancel()
	require.NoError(t, <-done)

	var rest []Event
	for ev := range w.Events() {
		rest = append(rest, ev)
	}
	assert.Equal(t, []Event{Released}, rest, "cancel releases a held button")
}

func TestWatcherSurvivesReadErrors(t *testing.T) {
	src := &fakeSource{}
	src.fail.Store(true)
	w := NewWatcher(src, 0, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, w.Run(ctx))
	_, open := <-w.Events()
	assert.False(t, open)
}

func TestDispatch(t *testing.T) {
	ptt := &fakePTT{refuse: true}
	events := make(chan Event, 4)
	events <- Pressed
	events <- LongPress
	events <- Released
	close(events)

	Dispatch(events, ptt)
	assert.Equal(t, 1, ptt.presses)
	assert.Equal(t, 1, ptt.release)
}

func TestOpenSerialRejectsUnknownLine(t *testing.T) {
	_, err := OpenSerial("/dev/null", "rts")
	assert.Error(t, err)
}

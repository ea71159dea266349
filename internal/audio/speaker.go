package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pccr10001/intercom/internal/protocol"
	"github.com/pccr10001/intercom/pkg/logger"
)

var ErrSinkInactive = errors.New("speaker not active")

const startSilenceFrames = 2

// Speaker is the half-duplex playback sink.
//
// lock serializes Start, Stop and Write so a write in flight never races a
// stop. active is also readable without the lock so hot-path writes can bail
// early; the authoritative check happens under the lock.
type Speaker struct {
	drv PlaybackDriver
	ref ReferenceSink

	lock   *semaphore.Weighted
	active atomic.Bool

	volume atomic.Int32
	muted  atomic.Bool

	ovMu       sync.Mutex
	override   bool
	savedVol   int32
	savedMuted bool

	mono   []int16
	stereo []int16
}

func NewSpeaker(drv PlaybackDriver, ref ReferenceSink) *Speaker {
	s := &Speaker{
		drv:    drv,
		ref:    ref,
		lock:   semaphore.NewWeighted(1),
		mono:   make([]int16, protocol.FrameSize),
		stereo: make([]int16, protocol.FrameSize*2),
	}
	s.volume.Store(100)
	return s
}

// Start enables the output and pre-writes silence over any stale buffer
// content from the previous session.
func (s *Speaker) Start() error {
	_ = s.lock.Acquire(context.Background(), 1)
	defer s.lock.Release(1)

	if s.active.Load() {
		logger.Log.Debug("speaker start: already active")
		return nil
	}
	if err := s.drv.Start(); err != nil {
		return fmt.Errorf("speaker start: %w", err)
	}
	s.active.Store(true)

	silence := make([]int16, protocol.FrameSize*2)
	for i := 0; i < startSilenceFrames; i++ {
		if _, err := s.drv.Write(silence, 25*time.Millisecond); err != nil {
			logger.Log.Warnf("speaker start: silence prefill failed: %v", err)
			break
		}
	}
	logger.Log.Infof("Audio output started (vol=%d%%, muted=%v)", s.Volume(), s.Muted())
	return nil
}

func (s *Speaker) Stop() {
	_ = s.lock.Acquire(context.Background(), 1)
	defer s.lock.Release(1)

	if !s.active.Load() {
		return
	}
	s.active.Store(false)
	if err := s.drv.Stop(); err != nil {
		logger.Log.Warnf("speaker stop: %v", err)
	}
	logger.Log.Info("Audio output stopped")
}

func (s *Speaker) IsActive() bool {
	return s.active.Load()
}

// Write plays up to one frame of mono samples and returns how many were
// accepted. It returns 0 when the sink is stopped or the lock could not be
// taken within timeout; the frame is then dropped.
func (s *Speaker) Write(samples []int16, timeout time.Duration) int {
	if !s.active.Load() || len(samples) == 0 {
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.lock.Acquire(ctx, 1); err != nil {
		logger.Log.Warnf("speaker write: lock timeout (%s), dropping frame", timeout)
		return 0
	}
	defer s.lock.Release(1)

	if !s.active.Load() {
		return 0
	}

	count := min(len(samples), protocol.FrameSize)
	scale := int32(0)
	if !s.muted.Load() {
		scale = s.volume.Load()
	}
	mono := s.mono[:count]
	for i, v := range samples[:count] {
		mono[i] = scaleSample(v, scale)
	}

	// The reference must match what the speaker emits, after volume.
	if s.ref != nil {
		s.ref.PushReference(mono)
	}

	stereo := s.stereo[:count*2]
	for i, v := range mono {
		stereo[2*i] = v
		stereo[2*i+1] = v
	}

	n, err := s.drv.Write(stereo, timeout)
	if err != nil {
		logger.Log.Warnf("speaker write: %v", err)
		return 0
	}
	return n
}

func scaleSample(v int16, scale int32) int16 {
	x := int32(v) * scale / 100
	if x > math.MaxInt16 {
		return math.MaxInt16
	}
	if x < math.MinInt16 {
		return math.MinInt16
	}
	return int16(x)
}

func (s *Speaker) SetVolume(v int) {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	s.volume.Store(int32(v))
}

func (s *Speaker) Volume() int {
	return int(s.volume.Load())
}

func (s *Speaker) SetMuted(m bool) {
	s.muted.Store(m)
}

func (s *Speaker) Muted() bool {
	return s.muted.Load()
}

// ForceMaxVolumeUnmute saves the current volume and mute once and forces
// full volume, unmuted. A second call while the override is active is a
// no-op and returns false.
func (s *Speaker) ForceMaxVolumeUnmute() bool {
	s.ovMu.Lock()
	defer s.ovMu.Unlock()

	if s.override {
		return false
	}
	s.savedVol = s.volume.Load()
	s.savedMuted = s.muted.Load()
	s.override = true

	s.muted.Store(false)
	s.volume.Store(100)
	logger.Log.Warnf("Emergency override: forced unmute + max volume (was vol=%d, muted=%v)", s.savedVol, s.savedMuted)
	return true
}

// Restore undoes an active override. It returns false if none was active.
func (s *Speaker) Restore() bool {
	s.ovMu.Lock()
	defer s.ovMu.Unlock()

	if !s.override {
		return false
	}
	s.volume.Store(s.savedVol)
	s.muted.Store(s.savedMuted)
	s.override = false
	logger.Log.Infof("Emergency override restored: vol=%d, muted=%v", s.savedVol, s.savedMuted)
	return true
}

func (s *Speaker) OverrideActive() bool {
	s.ovMu.Lock()
	defer s.ovMu.Unlock()
	return s.override
}

func (s *Speaker) Close() error {
	s.Stop()
	return s.drv.Close()
}

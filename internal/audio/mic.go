package audio

import (
	"fmt"
	"math"
	"time"
)

// Mic converts the capture driver's samples to int16 with a fixed pre-gain.
// It has a single reader, the TX task.
type Mic struct {
	drv   CaptureDriver
	shift uint
	gain  int32
	raw   []int32
}

func NewMic(drv CaptureDriver, shift uint, gain int) *Mic {
	if gain <= 0 {
		gain = 1
	}
	return &Mic{drv: drv, shift: shift, gain: int32(gain)}
}

func (m *Mic) Start() error { return m.drv.Start() }
func (m *Mic) Stop() error  { return m.drv.Stop() }
func (m *Mic) Close() error { return m.drv.Close() }

// Read fills dst and returns the number of samples converted. A short count
// is not an error; the caller skips the cycle.
func (m *Mic) Read(dst []int16, timeout time.Duration) (int, error) {
	if cap(m.raw) < len(dst) {
		m.raw = make([]int32, len(dst))
	}
	raw := m.raw[:len(dst)]

	n, err := m.drv.Read(raw, timeout)
	if err != nil {
		return 0, fmt.Errorf("mic read: %w", err)
	}
	for i := 0; i < n; i++ {
		dst[i] = convertSample(raw[i], m.shift, m.gain)
	}
	return n, nil
}

func convertSample(raw int32, shift uint, gain int32) int16 {
	v := int64(raw>>shift) * int64(gain)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Package agc normalizes microphone loudness one frame at a time.
package agc

import "math"

const (
	TargetLevel      = 16384 // -6 dBFS
	WindowFrames     = 10
	MinGain          = 1.0
	MaxGain          = 10.0
	AttackCoeff      = 0.10
	ReleaseCoeff     = 0.01
	SilenceThreshold = 64
)

// AGC tracks the peak of the last WindowFrames frames and moves its gain
// toward TargetLevel/peak, quickly when the gain must drop and slowly when it
// may rise. It is owned by the TX task and is not safe for concurrent use.
type AGC struct {
	gain    float64
	history [WindowFrames]int16
	idx     int
}

func New() *AGC {
	return &AGC{gain: MinGain}
}

// Reset zeros the peak history and returns the gain to unity.
func (a *AGC) Reset() {
	a.gain = MinGain
	a.idx = 0
	a.history = [WindowFrames]int16{}
}

func (a *AGC) Gain() float64 {
	return a.gain
}

// Process applies the gain in place.
func (a *AGC) Process(samples []int16) {
	if len(samples) == 0 {
		return
	}

	a.history[a.idx] = framePeak(samples)
	a.idx = (a.idx + 1) % WindowFrames

	var windowPeak int16
	for _, p := range a.history {
		if p > windowPeak {
			windowPeak = p
		}
	}

	// Hold the gain during silence instead of chasing it to MaxGain.
	target := a.gain
	if windowPeak >= SilenceThreshold {
		target = clampGain(float64(TargetLevel) / float64(windowPeak))
	}

	coeff := ReleaseCoeff
	if target < a.gain {
		coeff = AttackCoeff
	}
	a.gain = clampGain(a.gain + coeff*(target-a.gain))

	for i, s := range samples {
		v := float64(s) * a.gain
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		samples[i] = int16(v)
	}
}

func framePeak(samples []int16) int16 {
	var peak int16
	for _, s := range samples {
		var v int16
		switch {
		case s == math.MinInt16:
			v = math.MaxInt16
		case s < 0:
			v = -s
		default:
			v = s
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

func clampGain(g float64) float64 {
	if g < MinGain {
		return MinGain
	}
	if g > MaxGain {
		return MaxGain
	}
	return g
}

package aec

import "math"

const (
	DefaultTaps = 512
	DefaultStep = 0.1
)

// Canceller removes the echo of ref from mic, writing the result to out.
// All three slices have the same length.
type Canceller interface {
	Process(mic, ref, out []int16)
	Reset()
}

// NLMS is a normalized least mean squares adaptive filter. The reference it
// receives is already delay-aligned by the bridge, so it models only the
// residual room response within its tap window.
type NLMS struct {
	weights []float64
	// history holds the last len(weights)-1 reference samples, oldest first.
	history []float64
	window  []float64
	step    float64
}

func NewNLMS(taps int, step float64) *NLMS {
	if taps <= 0 {
		taps = DefaultTaps
	}
	if step <= 0 || step >= 2 {
		step = DefaultStep
	}
	return &NLMS{
		weights: make([]float64, taps),
		history: make([]float64, taps-1),
		step:    step,
	}
}

func (n *NLMS) Reset() {
	for i := range n.weights {
		n.weights[i] = 0
	}
	for i := range n.history {
		n.history[i] = 0
	}
}

func (n *NLMS) Process(mic, ref, out []int16) {
	taps := len(n.weights)
	need := len(n.history) + len(ref)
	if cap(n.window) < need {
		n.window = make([]float64, need)
	}
	w := n.window[:need]
	copy(w, n.history)
	for i, s := range ref {
		w[len(n.history)+i] = float64(s)
	}

	for i := range mic {
		newest := i + taps - 1

		var y, power float64
		for k := 0; k < taps; k++ {
			x := w[newest-k]
			y += n.weights[k] * x
			power += x * x
		}

		e := float64(mic[i]) - y
		if power > 1e-10 {
			g := n.step * e / power
			for k := 0; k < taps; k++ {
				n.weights[k] += g * w[newest-k]
			}
		}

		if e > math.MaxInt16 {
			e = math.MaxInt16
		} else if e < math.MinInt16 {
			e = math.MinInt16
		}
		out[i] = int16(e)
	}

	copy(n.history, w[len(w)-len(n.history):])
}

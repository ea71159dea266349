package aec

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func energy(s []int16) float64 {
	var e float64
	for _, v := range s {
		e += float64(v) * float64(v)
	}
	return e
}

func TestNLMSConvergesOnScaledEcho(t *testing.T) {
	n := NewNLMS(32, 0.5)
	rng := rand.New(rand.NewSource(1))

	ref := make([]int16, ChunkSize)
	mic := make([]int16, ChunkSize)
	out := make([]int16, ChunkSize)

	var first, last float64
	for chunk := 0; chunk < 40; chunk++ {
		for i := range ref {
			ref[i] = int16(rng.Intn(16000) - 8000)
			mic[i] = ref[i] / 2
		}
		n.Process(mic, ref, out)
		if chunk == 0 {
			first = energy(out)
		}
		last = energy(out)
	}

	assert.Less(t, last, first/100, "echo should be mostly cancelled")
}

func TestNLMSPassesMicWithSilentReference(t *testing.T) {
	n := NewNLMS(16, DefaultStep)
	mic := make([]int16, ChunkSize)
	for i := range mic {
		mic[i] = int16(1000 * math.Sin(float64(i)/10))
	}
	out := make([]int16, ChunkSize)

	n.Process(mic, make([]int16, ChunkSize), out)
	assert.Equal(t, mic, out)
}

func TestNLMSReset(t *testing.T) {
	n := NewNLMS(8, DefaultStep)
	ref := []int16{100, 200, 300, 400}
	n.Process(ref, ref, make([]int16, 4))
	n.Reset()

	for _, w := range n.weights {
		assert.Zero(t, w)
	}
	for _, h := range n.history {
		assert.Zero(t, h)
	}
}

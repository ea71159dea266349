// Package audio holds the microphone source and the speaker sink.
package audio

import (
	"errors"
	"time"
)

var (
	ErrAudioDisabled = errors.New("audio disabled in this build")
	ErrNoDevice      = errors.New("no matching audio device")
)

// CaptureDriver delivers raw mono samples at 16 kHz in the device's native
// width, widened to int32.
type CaptureDriver interface {
	Start() error
	Stop() error
	Read(dst []int32, timeout time.Duration) (int, error)
	Close() error
}

// PlaybackDriver accepts interleaved stereo int16 frames at 16 kHz. Write
// returns the number of stereo frames accepted within timeout.
type PlaybackDriver interface {
	Start() error
	Stop() error
	Write(stereo []int16, timeout time.Duration) (int, error)
	Close() error
}

// ReferenceSink receives what the speaker actually plays.
type ReferenceSink interface {
	PushReference(samples []int16)
}

type DeviceConfig struct {
	InputKeyword  string
	OutputKeyword string
}

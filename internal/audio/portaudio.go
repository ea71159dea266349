//go:build !noaudio

package audio

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/pccr10001/intercom/internal/protocol"
	"github.com/pccr10001/intercom/pkg/logger"
)

// Initialize must run once before any PortAudio stream is opened.
func Initialize() error {
	return portaudio.Initialize()
}

func Terminate() error {
	return portaudio.Terminate()
}

type devicePair struct {
	In  *portaudio.DeviceInfo
	Out *portaudio.DeviceInfo
}

// pickDevices matches devices by case-insensitive name keyword and falls
// back to the host defaults when a keyword is empty.
func pickDevices(cfg DeviceConfig) (*devicePair, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, errors.New("no audio devices from PortAudio")
	}

	normalize := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	inKey := normalize(cfg.InputKeyword)
	outKey := normalize(cfg.OutputKeyword)

	var pair devicePair
	for _, d := range devices {
		name := normalize(d.Name)
		if pair.In == nil && d.MaxInputChannels > 0 && inKey != "" && strings.Contains(name, inKey) {
			pair.In = d
		}
		if pair.Out == nil && d.MaxOutputChannels > 0 && outKey != "" && strings.Contains(name, outKey) {
			pair.Out = d
		}
	}

	if pair.In == nil {
		if inKey != "" {
			return nil, fmt.Errorf("%w: input keyword %q", ErrNoDevice, cfg.InputKeyword)
		}
		if pair.In, err = portaudio.DefaultInputDevice(); err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
	}
	if pair.Out == nil {
		if outKey != "" {
			return nil, fmt.Errorf("%w: output keyword %q", ErrNoDevice, cfg.OutputKeyword)
		}
		if pair.Out, err = portaudio.DefaultOutputDevice(); err != nil {
			return nil, fmt.Errorf("default output device: %w", err)
		}
	}
	return &pair, nil
}

// OpenDevices opens the capture and playback drivers for cfg.
func OpenDevices(cfg DeviceConfig) (CaptureDriver, PlaybackDriver, error) {
	pair, err := pickDevices(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Log.Infof("Audio input device: %s", pair.In.Name)
	logger.Log.Infof("Audio output device: %s", pair.Out.Name)

	capture, err := newPortAudioCapture(pair.In)
	if err != nil {
		return nil, nil, err
	}
	playback, err := newPortAudioPlayback(pair.Out)
	if err != nil {
		_ = capture.Close()
		return nil, nil, err
	}
	return capture, playback, nil
}

// portAudioCapture runs a callback stream that feeds a ring; Read blocks on
// the ring with a timeout.
type portAudioCapture struct {
	stream *portaudio.Stream
	ring   *ring[int32]
}

func newPortAudioCapture(dev *portaudio.DeviceInfo) (*portAudioCapture, error) {
	c := &portAudioCapture{ring: newRing[int32](protocol.FrameSize * 8)}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.SampleRate = protocol.SampleRate
	params.Input.Channels = protocol.Channels
	params.FramesPerBuffer = protocol.FrameSize

	stream, err := portaudio.OpenStream(params, func(in []int32) {
		c.ring.Write(in)
	})
	if err != nil {
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	c.stream = stream
	return c, nil
}

func (c *portAudioCapture) Start() error {
	c.ring.Reset()
	return c.stream.Start()
}

func (c *portAudioCapture) Stop() error {
	return c.stream.Stop()
}

func (c *portAudioCapture) Read(dst []int32, timeout time.Duration) (int, error) {
	n, ok := c.ring.ReadFull(dst, timeout)
	if !ok {
		return 0, errors.New("capture closed")
	}
	return n, nil
}

func (c *portAudioCapture) Close() error {
	c.ring.Close()
	return c.stream.Close()
}

// portAudioPlayback uses a blocking stereo stream. Write waits for buffer
// space up to the timeout instead of blocking inside PortAudio.
type portAudioPlayback struct {
	stream *portaudio.Stream
	buf    []int16
}

func newPortAudioPlayback(dev *portaudio.DeviceInfo) (*portAudioPlayback, error) {
	p := &portAudioPlayback{buf: make([]int16, protocol.FrameSize*2)}

	params := portaudio.LowLatencyParameters(nil, dev)
	params.SampleRate = protocol.SampleRate
	params.Output.Channels = 2
	params.FramesPerBuffer = protocol.FrameSize

	stream, err := portaudio.OpenStream(params, &p.buf)
	if err != nil {
		return nil, fmt.Errorf("open playback stream: %w", err)
	}
	p.stream = stream
	return p, nil
}

func (p *portAudioPlayback) Start() error { return p.stream.Start() }
func (p *portAudioPlayback) Stop() error  { return p.stream.Stop() }
func (p *portAudioPlayback) Close() error { return p.stream.Close() }

func (p *portAudioPlayback) Write(stereo []int16, timeout time.Duration) (int, error) {
	frames := len(stereo) / 2
	if frames == 0 {
		return 0, nil
	}
	deadline := time.Now().Add(timeout)
	for {
		avail, err := p.stream.AvailableToWrite()
		if err != nil {
			return 0, err
		}
		if avail >= frames {
			break
		}
		if time.Now().After(deadline) {
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}

	p.buf = p.buf[:len(stereo)]
	copy(p.buf, stereo)
	if err := p.stream.Write(); err != nil {
		if errors.Is(err, portaudio.OutputUnderflowed) {
			return frames, nil
		}
		return 0, err
	}
	return frames, nil
}

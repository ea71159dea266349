//go:build noaudio

package audio

func Initialize() error { return nil }

func Terminate() error { return nil }

func OpenDevices(cfg DeviceConfig) (CaptureDriver, PlaybackDriver, error) {
	return nil, nil, ErrAudioDisabled
}

package button

import "time"

type Event int

const (
	Pressed Event = iota + 1
	Released
	// LongPress fires once while the contact stays closed past the long press
	// threshold. Released still follows.
	LongPress
)

func (e Event) String() string {
	switch e {
	case Pressed:
		return "pressed"
	case Released:
		return "released"
	case LongPress:
		return "long_press"
	}
	return "unknown"
}

// Detector debounces raw contact samples and classifies presses.
type Detector struct {
	debounce  time.Duration
	longPress time.Duration

	stable    bool
	candidate bool
	since     time.Time
	pressedAt time.Time
	longFired bool
}

func NewDetector(debounce, longPress time.Duration) *Detector {
	return &Detector{debounce: debounce, longPress: longPress}
}

// Update feeds one raw sample taken at now and returns the events it caused.
func (d *Detector) Update(raw bool, now time.Time) []Event {
	var out []Event
	if raw != d.candidate {
		d.candidate = raw
		d.since = now
	}
	if d.candidate != d.stable && now.Sub(d.since) >= d.debounce {
		d.stable = d.candidate
		if d.stable {
			d.pressedAt = now
			d.longFired = false
			out = append(out, Pressed)
		} else {
			out = append(out, Released)
		}
	}
	if d.stable && !d.longFired && d.longPress > 0 && now.Sub(d.pressedAt) >= d.longPress {
		d.longFired = true
		out = append(out, LongPress)
	}
	return out
}

// Held reports the debounced contact state.
func (d *Detector) Held() bool {
	return d.stable
}

package button

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pccr10001/intercom/pkg/logger"
)

const (
	pollInterval = 10 * time.Millisecond
	eventBuffer  = 8
)

// PTT is what a button drives.
type PTT interface {
	PressPTT() error
	ReleasePTT()
}

// Watcher polls a Source and queues classified button events.
type Watcher struct {
	src      Source
	det      *Detector
	events   chan Event
	readFail *logger.Every
	log      *zap.SugaredLogger
}

func NewWatcher(src Source, debounce, longPress time.Duration) *Watcher {
	return &Watcher{
		src:      src,
		det:      NewDetector(debounce, longPress),
		events:   make(chan Event, eventBuffer),
		readFail: logger.NewEvery(50),
		log:      logger.Named("button"),
	}
}

// Events is closed when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run polls until ctx is done. A release is queued on exit if the button was
// held, so a cancelled watcher never leaves PTT keyed.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if w.det.Held() {
				w.push(Released)
			}
			return nil
		case now := <-t.C:
			raw, err := w.src.Pressed()
			if err != nil {
				if total, ok := w.readFail.Hit(); ok {
					w.log.Warnf("Read button line: %v (total %d)", err, total)
				}
				continue
			}
			for _, ev := range w.det.Update(raw, now) {
				w.push(ev)
			}
		}
	}
}

func (w *Watcher) push(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.log.Warnf("Button event %s dropped, queue full", ev)
	}
}

// Dispatch applies button events to ptt until events is closed. Refusals are
// reported by the coordinator itself; here they are only logged.
func Dispatch(events <-chan Event, ptt PTT) {
	log := logger.Named("button")
	for ev := range events {
		switch ev {
		case Pressed:
			if err := ptt.PressPTT(); err != nil {
				log.Infof("PTT press refused: %v", err)
			}
		case Released:
			ptt.ReleasePTT()
		case LongPress:
			log.Info("Long press")
		}
	}
}

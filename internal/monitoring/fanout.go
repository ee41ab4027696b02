package monitoring

import (
	"time"

	"github.com/compresr/streamchat/internal/compression"
	"github.com/compresr/streamchat/internal/stream"
)

// Fanout forwards lifecycle notifications to several observers.
type Fanout struct {
	streams   []stream.Observer
	summaries []compression.Observer
}

// NewFanout creates a Fanout. Each observer is registered for the
// notifications it implements; nil values are skipped.
func NewFanout(observers ...any) *Fanout {
	f := &Fanout{}
	for _, o := range observers {
		if o == nil {
			continue
		}
		if so, ok := o.(stream.Observer); ok {
			f.streams = append(f.streams, so)
		}
		if co, ok := o.(compression.Observer); ok {
			f.summaries = append(f.summaries, co)
		}
	}
	return f
}

// StreamStarted implements stream.Observer.
func (f *Fanout) StreamStarted(id string) {
	for _, o := range f.streams {
		o.StreamStarted(id)
	}
}

// StreamEnded implements stream.Observer.
func (f *Fanout) StreamEnded(s stream.Summary) {
	for _, o := range f.streams {
		o.StreamEnded(s)
	}
}

// SummaryFinished implements compression.Observer.
func (f *Fanout) SummaryFinished(outcome string, duration time.Duration) {
	for _, o := range f.summaries {
		o.SummaryFinished(outcome, duration)
	}
}

var (
	_ stream.Observer      = (*Fanout)(nil)
	_ compression.Observer = (*Fanout)(nil)
	_ stream.Observer      = (*Metrics)(nil)
	_ compression.Observer = (*Metrics)(nil)
	_ stream.Observer      = (*Tracker)(nil)
	_ compression.Observer = (*Tracker)(nil)
	_ stream.Observer      = (*AlertManager)(nil)
)

package pool

import (
	"sync"

	"github.com/dharsanguruparan/ArchiveDrop/internal/metrics"
	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
)

// Window is the slice of an overall progress bar a batch reports into,
// in percent. A batch that is one stage of a longer import passes the
// range it owns, e.g. {Start: 20, Range: 70}.
type Window struct {
	Start float64
	Range float64
}

// FullWindow covers 0-100%.
var FullWindow = Window{Start: 0, Range: 100}

// Event is emitted once per terminal item outcome.
type Event struct {
	State   model.ProgressState
	Percent float64
	Item    model.ProcessingItem
}

// Sink receives progress events. Calls are serialized and ProcessedFiles
// never decreases from one call to the next.
type Sink func(Event)

type tracker struct {
	mu      sync.Mutex
	state   model.ProgressState
	window  Window
	sink    Sink
	metrics *metrics.Metrics
}

func newTracker(total int, window Window, sink Sink, m *metrics.Metrics) *tracker {
	m.SetProgress(0)
	return &tracker{
		state:   model.ProgressState{TotalFiles: total},
		window:  window,
		sink:    sink,
		metrics: m,
	}
}

// done counts one terminal outcome. The event is delivered while the lock
// is held so sinks observe counts in order.
func (t *tracker) done(item model.ProcessingItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.ProcessedFiles++
	frac := t.state.Fraction()
	t.metrics.SetProgress(frac)
	if t.sink != nil {
		t.sink(Event{
			State:   t.state,
			Percent: t.window.Start + t.window.Range*frac,
			Item:    item,
		})
	}
}

func (t *tracker) snapshot() model.ProgressState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

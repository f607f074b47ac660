// Package aggregate keeps the per-job run and event counters and the
// ordered dataset of derived rows.
package aggregate

import (
	"github.com/ecmcheck/ecmcheck/pkg/classify"
)

// DefaultHeartbeat is the default number of events between heartbeats.
const DefaultHeartbeat = 1000

// State is a snapshot of the job counters.
type State struct {
	Runs    int64
	Events  int64
	Skipped int64
}

// RowSink receives every row as it is appended.
type RowSink interface {
	WriteRow(d classify.Derived) error
}

// HeartbeatFunc is called every N events with the current event count.
type HeartbeatFunc func(events int64)

// Aggregator owns the job counters and the dataset. It is not safe for
// concurrent use; events are processed strictly one at a time.
type Aggregator struct {
	state State
	rows  []classify.Derived

	retain    bool
	sink      RowSink
	every     int64
	heartbeat HeartbeatFunc
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithHeartbeat calls fn every n events. n <= 0 disables heartbeats.
func WithHeartbeat(n int, fn HeartbeatFunc) Option {
	return func(a *Aggregator) {
		a.every = int64(n)
		a.heartbeat = fn
	}
}

// WithSink streams rows to s as they are appended.
func WithSink(s RowSink) Option {
	return func(a *Aggregator) {
		a.sink = s
	}
}

// WithRetainRows controls whether rows are kept in memory. Rows are kept
// by default; a job streaming to a sink can turn it off.
func WithRetainRows(retain bool) Option {
	return func(a *Aggregator) {
		a.retain = retain
	}
}

// New creates an Aggregator with zeroed counters.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{retain: true, every: DefaultHeartbeat}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnRunStart records a run boundary.
func (a *Aggregator) OnRunStart() {
	a.state.Runs++
}

// OnEvent appends a fully classified row. When a sink is configured the
// row is written there first; on a sink error nothing is recorded.
func (a *Aggregator) OnEvent(d classify.Derived) error {
	if a.sink != nil {
		if err := a.sink.WriteRow(d); err != nil {
			return err
		}
	}

	a.state.Events++
	if a.retain {
		a.rows = append(a.rows, d)
	}

	if a.heartbeat != nil && a.every > 0 && a.state.Events%a.every == 0 {
		a.heartbeat(a.state.Events)
	}
	return nil
}

// Skip counts an event that produced no row.
func (a *Aggregator) Skip() {
	a.state.Skipped++
}

// State returns the current counters.
func (a *Aggregator) State() State {
	return a.state
}

// Len returns the number of rows appended so far.
func (a *Aggregator) Len() int64 {
	return a.state.Events
}

// Rows returns the retained rows in arrival order. The slice must not be
// modified.
func (a *Aggregator) Rows() []classify.Derived {
	return a.rows
}

// Package progress defines the events a translation run emits and a few
// sinks to deliver them. Rendering is left to the caller.
package progress

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Kind string

const (
	GlossaryStarted Kind = "glossary_started"
	GlossaryDone    Kind = "glossary_done"
	ChapterState    Kind = "chapter_state"
	BatchDone       Kind = "batch_done"
	RunDone         Kind = "run_done"
)

// Event is a single progress notification. Fields that do not apply to a
// kind are left zero.
type Event struct {
	RunID   string    `json:"run_id"`
	Kind    Kind      `json:"kind"`
	Chapter int       `json:"chapter"`
	Href    string    `json:"href,omitempty"`
	State   string    `json:"state,omitempty"`
	Batch   int       `json:"batch,omitempty"`
	Batches int       `json:"batches,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Runs    int       `json:"runs,omitempty"`
	Entries int       `json:"entries,omitempty"`
	Err     string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Sink receives events. Implementations must be safe for concurrent use;
// chapters report from several workers at once.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type multi []Sink

func (m multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Multi fans events out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// LogSink writes events as structured log lines. State transitions and
// batch completions are logged at debug level, everything else at info.
type LogSink struct {
	Logger logrus.FieldLogger
}

func (s LogSink) Emit(e Event) {
	fields := logrus.Fields{"event": string(e.Kind)}
	if e.RunID != "" {
		fields["run_id"] = e.RunID
	}
	if e.Href != "" {
		fields["chapter"] = e.Chapter
		fields["href"] = e.Href
	}
	if e.State != "" {
		fields["state"] = e.State
	}
	if e.Batches > 0 {
		fields["batch"] = e.Batch
		fields["batches"] = e.Batches
	}
	if e.Attempt > 0 {
		fields["attempt"] = e.Attempt
	}
	if e.Runs > 0 {
		fields["runs"] = e.Runs
	}
	if e.Entries > 0 {
		fields["entries"] = e.Entries
	}
	entry := s.Logger.WithFields(fields)

	switch {
	case e.Err != "":
		entry.Warn(e.Err)
	case e.Kind == ChapterState || e.Kind == BatchDone:
		entry.Debug("progress")
	default:
		entry.Info("progress")
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

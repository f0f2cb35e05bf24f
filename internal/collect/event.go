// Package collect records what happens on a page while a sequence runs.
//
// Collectors translate page callbacks into Events and send them on a
// channel. They never write the Log: the sequence loop is the only writer,
// so insertion order is the order in which the loop received events.
package collect

import "time"

// Event types.
const (
	TypeStep       = "step"
	TypeNavigation = "navigation"
	TypeConsole    = "console"
	TypeNetwork    = "network"
)

// Event is one log entry, discriminated by Type. Only the fields of that
// type are set.
type Event struct {
	Type string `json:"type"`

	// step
	Index  *int        `json:"index,omitempty"`
	Step   any         `json:"step,omitempty"`
	Result *StepResult `json:"result,omitempty"`

	// navigation
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// console
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`

	// network
	Method string `json:"method,omitempty"`
	URL    string `json:"url,omitempty"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
	Timing *int64 `json:"timing,omitempty"`

	// Timestamp is unix milliseconds, assigned by Log.Append.
	Timestamp int64 `json:"timestamp"`
}

// StepResult is the outcome carried by a step event. Duration is in
// milliseconds.
type StepResult struct {
	Success  bool   `json:"success"`
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration"`
}

// StepEvent builds the event for step index.
func StepEvent(index int, step any, res StepResult) Event {
	return Event{Type: TypeStep, Index: &index, Step: step, Result: &res}
}

// Log is an append-only event list. It is not safe for concurrent use.
type Log struct {
	events []Event
	last   int64
	now    func() time.Time
}

// NewLog returns an empty log stamped with the wall clock.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append stamps e and adds it. Timestamps never go backwards along the log
// even if the wall clock does.
func (l *Log) Append(e Event) {
	ts := l.now().UnixMilli()
	if ts < l.last {
		ts = l.last
	}
	l.last = ts
	e.Timestamp = ts
	l.events = append(l.events, e)
}

// Len returns the number of events.
func (l *Log) Len() int { return len(l.events) }

// Events returns the recorded events. The slice is never nil.
func (l *Log) Events() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

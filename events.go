package scanrig

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventKind names a coordinator notification.
type EventKind string

const (
	EventOperationStarted   EventKind = "operation_started"
	EventCaptureStarted     EventKind = "capture_started"
	EventCaptureSucceeded   EventKind = "capture_succeeded"
	EventCaptureFailed      EventKind = "capture_failed"
	EventPortReassigned     EventKind = "port_reassigned"
	EventOperationCompleted EventKind = "operation_completed"
	EventOperationFailed    EventKind = "operation_failed"
	EventModeChanged        EventKind = "mode_changed"
	EventVerifyChanged      EventKind = "verify_changed"
	EventSequenceJumped     EventKind = "sequence_jumped"
)

// Event is an immutable notification sent to observers.
type Event struct {
	ID          string
	OperationID string
	Kind        EventKind
	Time        time.Time

	Role            Role
	Identity        string
	Address         string
	PreviousAddress string
	Filename        string
	ExitCode        int
	TimedOut        bool
	Elapsed         time.Duration

	Mode     Mode
	Verify   bool
	Sequence int
	// ErrorKind and Error are set on failure events.
	ErrorKind ErrorKind
	Error     string
}

// Observer receives coordinator events. Notify must not block for long.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(ev Event) { f(ev) }

// MultiObserver fans events out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) Notify(ev Event) {
	for _, o := range m {
		if o != nil {
			o.Notify(ev)
		}
	}
}

// newEventID is replaceable in tests.
var newEventID = func() string { return uuid.NewString() }

// LogObserver writes events as structured log lines.
type LogObserver struct{}

func (LogObserver) Notify(ev Event) {
	var e *zerolog.Event
	switch ev.Kind {
	case EventCaptureFailed, EventOperationFailed:
		e = log.Warn()
	case EventPortReassigned, EventModeChanged, EventVerifyChanged, EventSequenceJumped, EventOperationCompleted:
		e = log.Info()
	default:
		e = log.Debug()
	}
	e = e.Str("event", string(ev.Kind)).Str("operation_id", ev.OperationID)
	if ev.Role != RoleNone {
		e = e.Str("role", ev.Role.String())
	}
	if ev.Identity != "" {
		e = e.Str("serial", ev.Identity)
	}
	if ev.Address != "" {
		e = e.Str("address", ev.Address)
	}
	if ev.PreviousAddress != "" {
		e = e.Str("previous_address", ev.PreviousAddress)
	}
	if ev.Filename != "" {
		e = e.Str("file", ev.Filename)
	}
	switch ev.Kind {
	case EventCaptureSucceeded, EventCaptureFailed:
		e = e.Int("exit_code", ev.ExitCode).Bool("timed_out", ev.TimedOut).Dur("elapsed", ev.Elapsed)
	case EventModeChanged:
		e = e.Str("mode", string(ev.Mode))
	case EventVerifyChanged:
		e = e.Bool("verify_identities", ev.Verify)
	case EventSequenceJumped, EventOperationCompleted:
		e = e.Int("next_image", ev.Sequence)
	}
	if ev.Error != "" {
		e = e.Str("error_kind", string(ev.ErrorKind)).Str("error", ev.Error)
	}
	e.Msg("capture event")
}

// EventLog keeps every event in memory; useful for status views and tests.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *EventLog) Notify(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

// Events returns a copy of the recorded events.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Kinds returns the recorded kinds in order.
func (l *EventLog) Kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

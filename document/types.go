package document

import (
	"fmt"

	"github.com/CJ-Wright/SHED/errors"
	"github.com/CJ-Wright/SHED/pkg/timestamp"
)

// DefaultStreamName is the event-stream name used when a descriptor does
// not declare one.
const DefaultStreamName = "primary"

// ExitStatus reports how a run ended.
type ExitStatus string

// Run exit statuses.
const (
	ExitSuccess ExitStatus = "success"
	ExitFailure ExitStatus = "failure"
)

// RunStart opens a run. For re-wrapped analysis runs it carries the
// provenance of the run: the edge list of the processing graph that
// produced the data and the run-start uids of the parent runs keyed by
// translation-node ID.
type RunStart struct {
	UID        string            `json:"uid"`
	Time       int64             `json:"time"` // unix milliseconds
	ParentUIDs map[string]string `json:"parent_uids,omitempty"`
	Graph      []string          `json:"graph,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// NewRunStart creates a RunStart with a fresh uid and the current time.
func NewRunStart() *RunStart {
	return &RunStart{
		UID:  NewUID(),
		Time: timestamp.Now(),
	}
}

// Validate checks the start document's required fields.
func (s *RunStart) Validate() error {
	if s.UID == "" {
		return errors.WrapInvalid(errors.ErrInvalidDocument, "RunStart", "Validate", "uid missing")
	}
	return nil
}

// DataKey describes one named value carried by events under a descriptor.
type DataKey struct {
	Source string `json:"source"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape,omitempty"`
	Units  string `json:"units,omitempty"`
}

// EventDescriptor declares the schema of the events that follow it within
// a run. StreamName groups events into named streams; "primary" is the
// default.
type EventDescriptor struct {
	UID        string             `json:"uid"`
	Time       int64              `json:"time"`
	RunStart   string             `json:"run_start"`
	StreamName string             `json:"name,omitempty"`
	DataKeys   map[string]DataKey `json:"data_keys"`
}

// Stream returns the descriptor's event-stream name, defaulting to
// "primary" when unset, matching upstream experiment-control behavior.
func (d *EventDescriptor) Stream() string {
	if d.StreamName == "" {
		return DefaultStreamName
	}
	return d.StreamName
}

// Validate checks the descriptor's required fields and references.
func (d *EventDescriptor) Validate() error {
	if d.UID == "" {
		return errors.WrapInvalid(errors.ErrInvalidDocument, "EventDescriptor", "Validate", "uid missing")
	}
	if d.RunStart == "" {
		return errors.WrapInvalid(errors.ErrInvalidDocument, "EventDescriptor", "Validate",
			"run_start reference missing")
	}
	return nil
}

// Event carries one measurement: named data values plus per-key
// timestamps. SeqNum is the event's position within its descriptor's
// stream, starting at 0.
type Event struct {
	UID        string           `json:"uid"`
	Time       int64            `json:"time"`
	Descriptor string           `json:"descriptor"`
	SeqNum     int              `json:"seq_num"`
	Data       map[string]any   `json:"data"`
	Timestamps map[string]int64 `json:"timestamps,omitempty"`
	Filled     map[string]bool  `json:"filled,omitempty"`
}

// Validate checks the event's required fields and references.
func (e *Event) Validate() error {
	if e.UID == "" {
		return errors.WrapInvalid(errors.ErrInvalidDocument, "Event", "Validate", "uid missing")
	}
	if e.Descriptor == "" {
		return errors.WrapInvalid(errors.ErrInvalidDocument, "Event", "Validate",
			"descriptor reference missing")
	}
	if e.SeqNum < 0 {
		return errors.WrapInvalid(errors.ErrInvalidDocument, "Event", "Validate",
			fmt.Sprintf("negative seq_num %d", e.SeqNum))
	}
	return nil
}

// RunStop closes a run. A failure stop carries the reason.
type RunStop struct {
	UID        string     `json:"uid"`
	Time       int64      `json:"time"`
	RunStart   string     `json:"run_start"`
	ExitStatus ExitStatus `json:"exit_status"`
	Reason     string     `json:"reason,omitempty"`
}

// NewRunStop creates a successful stop for the given run.
func NewRunStop(runStartUID string) *RunStop {
	return &RunStop{
		UID:        NewUID(),
		Time:       timestamp.Now(),
		RunStart:   runStartUID,
		ExitStatus: ExitSuccess,
	}
}

// NewFailureStop creates a failure stop recording why the run aborted.
func NewFailureStop(runStartUID string, reason error) *RunStop {
	stop := NewRunStop(runStartUID)
	stop.ExitStatus = ExitFailure
	if reason != nil {
		stop.Reason = reason.Error()
	}
	return stop
}

// Validate checks the stop document's required fields and exit status.
func (s *RunStop) Validate() error {
	if s.UID == "" {
		return errors.WrapInvalid(errors.ErrInvalidDocument, "RunStop", "Validate", "uid missing")
	}
	if s.RunStart == "" {
		return errors.WrapInvalid(errors.ErrInvalidDocument, "RunStop", "Validate",
			"run_start reference missing")
	}
	switch s.ExitStatus {
	case ExitSuccess, ExitFailure:
		return nil
	default:
		return errors.WrapInvalid(errors.ErrInvalidDocument, "RunStop", "Validate",
			fmt.Sprintf("exit status %q", s.ExitStatus))
	}
}

package xdispatch

import "time"

// EventType enumerates internal lifecycle events for Observer pattern.
type EventType string

const (
	PublishStart     EventType = "publish_start"
	PublishDone      EventType = "publish_done"
	DuplicateSkipped EventType = "duplicate_skipped"
	DispatchStart    EventType = "dispatch_start"
	DispatchDone     EventType = "dispatch_done"
	Commit           EventType = "commit"
	Error            EventType = "error"
)

// Event carries telemetry for observers.
type Event struct {
	Type      EventType
	Topic     string
	TypeID    TypeID
	Key       string
	MessageID string
	Partition int32
	Offset    int64
	Duration  time.Duration
	Err       error
}

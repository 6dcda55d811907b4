package timer

import (
	"context"
	"time"
)

type (
	// Operation names a manager operation. It labels metrics, errors and
	// notifications.
	Operation string

	// TaskRecord is the record store row of a task.
	TaskRecord struct {
		RecordID  string
		TaskID    string
		UserID    string
		TaskName  string
		Status    string
		StartTime time.Time
	}

	// SessionRecord is the record store row of a session.
	SessionRecord struct {
		RecordID        string
		SessionID       string
		UserID          string
		TaskID          string
		SessionType     string
		Status          string
		StartTime       time.Time
		EndTime         *time.Time
		DurationMinutes float64
		Interrupted     bool
	}

	// SessionUpdate holds the fields changed on a session record. Nil fields
	// are left untouched.
	SessionUpdate struct {
		Status          string
		EndTime         *time.Time
		DurationMinutes *float64
		Interrupted     *bool
	}

	// RecordStore is the external system of record for tasks and sessions.
	// The manager never retries calls; implementations must be safe to retry.
	RecordStore interface {
		// FindTaskRecord returns ErrRecordNotFound when the user has no
		// record for the task.
		FindTaskRecord(ctx context.Context, taskID, userID string) (TaskRecord, error)
		CreateTaskRecord(ctx context.Context, task TaskRecord) (TaskRecord, error)
		UpdateTaskStatus(ctx context.Context, taskID, userID, status string) error
		CreateSessionRecord(ctx context.Context, rec SessionRecord) (SessionRecord, error)
		UpdateSessionRecord(ctx context.Context, recordID string, update SessionUpdate) error
	}

	// SessionRecordFinder is implemented by stores that can look a session
	// record up by session id. The manager uses it for sessions that ended
	// before their record id was linked.
	SessionRecordFinder interface {
		FindSessionRecord(ctx context.Context, sessionID string) (SessionRecord, error)
	}

	// Pinger is implemented by stores that can report their reachability.
	Pinger interface {
		Ping(ctx context.Context) error
	}

	// EventKind identifies the transition an Event describes.
	EventKind string

	// Event describes a lifecycle transition for notification sinks.
	Event struct {
		Kind               EventKind
		Label              string
		SessionID          string
		UserID             string
		UserName           string
		TaskID             string
		TaskName           string
		Project            string
		At                 time.Time
		AccumulatedMinutes float64
		Auto               bool
	}

	// Notifier delivers lifecycle events. Errors are logged by the manager and
	// never returned to its callers.
	Notifier interface {
		Notify(ctx context.Context, ev Event) error
	}

	// Recorder receives operational measurements from the manager.
	Recorder interface {
		// RecordTransition is called once per operation with its outcome.
		RecordTransition(op Operation, err error)
		// RecordPersistenceFailure is called for every failed store call.
		RecordPersistenceFailure(op Operation)
		// RecordSessionMinutes is called with the final duration of a
		// session leaving the live index.
		RecordSessionMinutes(op Operation, minutes float64)
	}
)

const (
	OpStart    Operation = "start"
	OpPause    Operation = "pause"
	OpResume   Operation = "resume"
	OpComplete Operation = "complete"
	OpReset    Operation = "reset"
)

const (
	EventStarted   EventKind = "started"
	EventPaused    EventKind = "paused"
	EventResumed   EventKind = "resumed"
	EventCompleted EventKind = "completed"
	EventReset     EventKind = "reset"
)

// Task record statuses written by the manager.
const (
	TaskStatusWorking   = "Working"
	TaskStatusCompleted = "Completed"
)

// Label returns the human readable message for the event kind.
func (k EventKind) Label() string {
	switch k {
	case EventStarted:
		return "Session started"
	case EventPaused:
		return "Session paused"
	case EventResumed:
		return "Session resumed"
	case EventCompleted:
		return "Session completed"
	case EventReset:
		return "Session reset"
	default:
		return string(k)
	}
}

type (
	nopNotifier struct{}
	nopRecorder struct{}
)

func (nopNotifier) Notify(context.Context, Event) error { return nil }

func (nopRecorder) RecordTransition(Operation, error)       {}
func (nopRecorder) RecordPersistenceFailure(Operation)      {}
func (nopRecorder) RecordSessionMinutes(Operation, float64) {}

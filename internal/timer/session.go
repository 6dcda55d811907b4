// Package timer implements the Pomodoro session lifecycle manager.
//
// A Manager owns every live (Active or Paused) session through a LiveIndex and
// moves sessions through a fixed state machine:
//
//	start    (none)  -> Active
//	pause    Active  -> Paused
//	resume   Paused  -> Active
//	complete Active  -> Completed
//	reset    Active  -> Cancelled
//
// Completed and Cancelled are terminal: the session leaves the live index and
// the RecordStore becomes the only owner of its durable record. Each
// transition is applied to the live index first; the RecordStore update and
// the Notifier call follow outside of any lock and never undo the transition.
package timer

import (
	"math"
	"time"
)

type (
	// Status is the lifecycle state of a session.
	Status string

	// Session is the live state of a Pomodoro session.
	Session struct {
		// ID is the generated, immutable session identifier.
		ID string `json:"session_id"`
		// UserID owns the session. A user has at most one live session.
		UserID string `json:"user_id"`
		// UserName is the display name of the owner, informational only.
		UserName string `json:"user_name,omitempty"`
		// TaskID and TaskName reference the unit of work being timed.
		TaskID   string `json:"task_id"`
		TaskName string `json:"task_name"`
		// SessionType is a free form category such as "work" or "short_break".
		SessionType string `json:"session_type"`
		// Project is an optional label forwarded to notifications.
		Project string `json:"project,omitempty"`
		// Status is the current lifecycle state.
		Status Status `json:"status"`
		// StartTime is set at creation and never changes.
		StartTime time.Time `json:"start_time"`
		// AccumulatedMinutes is the sum of all closed active intervals.
		AccumulatedMinutes float64 `json:"accumulated_minutes"`
		// LastResumeTime marks the start of the current active interval.
		LastResumeTime time.Time `json:"last_resume_time"`
		// PauseStartedAt is set while the session is paused.
		PauseStartedAt *time.Time `json:"pause_started_at,omitempty"`
		// EndTime is set by the terminal transition.
		EndTime *time.Time `json:"end_time,omitempty"`
		// RecordID is the identifier of the session row in the RecordStore.
		RecordID string `json:"record_id,omitempty"`
	}
)

const (
	// StatusActive means the session is accumulating work time.
	StatusActive Status = "active"
	// StatusPaused means the session is live but not accumulating.
	StatusPaused Status = "paused"
	// StatusCompleted is the terminal state reached through complete.
	StatusCompleted Status = "completed"
	// StatusCancelled is the terminal state reached through reset.
	StatusCancelled Status = "cancelled"
)

// Live reports whether the status belongs in the live index.
func (s Status) Live() bool {
	return s == StatusActive || s == StatusPaused
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// RecordStatus returns the status label written to the record store. Active
// sessions are stored as "Started".
func (s Status) RecordStatus() string {
	switch s {
	case StatusActive:
		return "Started"
	case StatusPaused:
		return "Paused"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

// ElapsedMinutes returns the work time of the session as of now, including
// the open active interval if there is one.
func (s Session) ElapsedMinutes(now time.Time) float64 {
	if s.Status != StatusActive {
		return s.AccumulatedMinutes
	}
	return s.AccumulatedMinutes + minutesBetween(s.LastResumeTime, now)
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	if s.PauseStartedAt != nil {
		at := *s.PauseStartedAt
		out.PauseStartedAt = &at
	}
	if s.EndTime != nil {
		at := *s.EndTime
		out.EndTime = &at
	}
	return out
}

// minutesBetween converts a wall clock difference to fractional minutes.
// Negative differences (clock steps backwards) count as zero so accumulated
// time never decreases.
func minutesBetween(from, to time.Time) float64 {
	ms := to.Sub(from).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return float64(ms) / 60000
}

// RoundMinutes rounds to two decimals, the precision used for persisted and
// reported durations.
func RoundMinutes(m float64) float64 {
	return math.Round(m*100) / 100
}

// WholeMinutes rounds to the nearest minute for display.
func WholeMinutes(m float64) int {
	return int(math.Round(m))
}

package models

import "time"

// LiveSession is the shared copy of a session that is still active or paused.
// Rows are deleted when the session ends, so the unique user index allows one
// live session per user.
type LiveSession struct {
	SessionID string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;uniqueIndex"`
	UpdatedAt time.Time

	UserName           string
	TaskID             string `gorm:"not null"`
	TaskName           string `gorm:"not null"`
	SessionType        string `gorm:"not null"`
	Project            string
	Status             string    `gorm:"not null"`
	StartTime          time.Time `gorm:"not null"`
	AccumulatedMinutes float64
	LastResumeTime     time.Time `gorm:"not null"`
	PauseStartedAt     *time.Time
	RecordID           string

	// Version is bumped on every update; writers compare it to detect races.
	Version int `gorm:"not null;default:1"`
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// Session is the durable record of a Pomodoro session
type Session struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	SessionID       string     `gorm:"not null;uniqueIndex" json:"session_id"`
	UserID          string     `gorm:"not null;index" json:"user_id"`
	TaskID          string     `gorm:"not null" json:"task_id"`
	SessionType     string     `json:"session_type"`
	Status          string     `gorm:"not null" json:"status"` // Started, Paused, Completed, Cancelled
	StartedAt       time.Time  `gorm:"not null" json:"start_time"`
	FinishedAt      *time.Time `json:"end_time"`
	DurationMinutes float64    `json:"duration_minutes"`
	Interrupted     bool       `gorm:"default:false" json:"interrupted"`
}

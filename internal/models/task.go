package models

import (
	"time"

	"gorm.io/gorm"
)

// Task is the record of a unit of work a user has timed
type Task struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// TaskID is the reference in the project-management tool, unique per user
	TaskID    string    `gorm:"not null;uniqueIndex:idx_task_user" json:"task_id"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_task_user" json:"user_id"`
	Name      string    `gorm:"not null" json:"task_name"`
	Status    string    `gorm:"default:Working" json:"status"` // Working, Completed
	StartedAt time.Time `json:"start_time"`
}

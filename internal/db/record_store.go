package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"github.com/balkashynov/pomo/internal/models"
	"github.com/balkashynov/pomo/internal/timer"
)

// RecordStore keeps task and session records in the local SQLite database
type RecordStore struct {
	db *gorm.DB
}

// NewRecordStore creates a record store on top of an open database
func NewRecordStore(db *gorm.DB) *RecordStore {
	return &RecordStore{db: db}
}

// FindTaskRecord looks up the task record owned by userID
func (s *RecordStore) FindTaskRecord(ctx context.Context, taskID, userID string) (timer.TaskRecord, error) {
	var task models.Task
	err := s.db.WithContext(ctx).Where("task_id = ? AND user_id = ?", taskID, userID).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return timer.TaskRecord{}, timer.ErrRecordNotFound
		}
		return timer.TaskRecord{}, fmt.Errorf("failed to find task %s: %w", taskID, err)
	}
	return taskRecord(task), nil
}

// CreateTaskRecord inserts a new task record
func (s *RecordStore) CreateTaskRecord(ctx context.Context, rec timer.TaskRecord) (timer.TaskRecord, error) {
	task := models.Task{
		TaskID:    rec.TaskID,
		UserID:    rec.UserID,
		Name:      rec.TaskName,
		Status:    rec.Status,
		StartedAt: rec.StartTime,
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return timer.TaskRecord{}, fmt.Errorf("failed to create task: %w", err)
	}
	return taskRecord(task), nil
}

// UpdateTaskStatus sets the status of the task record owned by userID
func (s *RecordStore) UpdateTaskStatus(ctx context.Context, taskID, userID, status string) error {
	res := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("task_id = ? AND user_id = ?", taskID, userID).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to update task status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return timer.ErrRecordNotFound
	}
	return nil
}

// CreateSessionRecord inserts a new session record
func (s *RecordStore) CreateSessionRecord(ctx context.Context, rec timer.SessionRecord) (timer.SessionRecord, error) {
	session := models.Session{
		SessionID:       rec.SessionID,
		UserID:          rec.UserID,
		TaskID:          rec.TaskID,
		SessionType:     rec.SessionType,
		Status:          rec.Status,
		StartedAt:       rec.StartTime,
		FinishedAt:      rec.EndTime,
		DurationMinutes: rec.DurationMinutes,
		Interrupted:     rec.Interrupted,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return timer.SessionRecord{}, fmt.Errorf("failed to create session: %w", err)
	}
	rec.RecordID = strconv.FormatUint(uint64(session.ID), 10)
	return rec, nil
}

// FindSessionRecord looks up a session record by session id
func (s *RecordStore) FindSessionRecord(ctx context.Context, sessionID string) (timer.SessionRecord, error) {
	var session models.Session
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return timer.SessionRecord{}, timer.ErrRecordNotFound
		}
		return timer.SessionRecord{}, fmt.Errorf("failed to find session %s: %w", sessionID, err)
	}
	return timer.SessionRecord{
		RecordID:        strconv.FormatUint(uint64(session.ID), 10),
		SessionID:       session.SessionID,
		UserID:          session.UserID,
		TaskID:          session.TaskID,
		SessionType:     session.SessionType,
		Status:          session.Status,
		StartTime:       session.StartedAt,
		EndTime:         session.FinishedAt,
		DurationMinutes: session.DurationMinutes,
		Interrupted:     session.Interrupted,
	}, nil
}

// UpdateSessionRecord applies the non-nil fields of update
func (s *RecordStore) UpdateSessionRecord(ctx context.Context, recordID string, update timer.SessionUpdate) error {
	id, err := strconv.ParseUint(recordID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid session record id %q: %w", recordID, timer.ErrRecordNotFound)
	}

	fields := map[string]any{}
	if update.Status != "" {
		fields["status"] = update.Status
	}
	if update.EndTime != nil {
		fields["finished_at"] = *update.EndTime
	}
	if update.DurationMinutes != nil {
		fields["duration_minutes"] = *update.DurationMinutes
	}
	if update.Interrupted != nil {
		fields["interrupted"] = *update.Interrupted
	}
	if len(fields) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return timer.ErrRecordNotFound
	}
	return nil
}

// SessionsForUser returns the session records of a user, newest first
func (s *RecordStore) SessionsForUser(ctx context.Context, userID string, limit int) ([]models.Session, error) {
	var sessions []models.Session
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}
	return sessions, nil
}

// Ping checks that the database is reachable
func (s *RecordStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func taskRecord(task models.Task) timer.TaskRecord {
	return timer.TaskRecord{
		RecordID:  strconv.FormatUint(uint64(task.ID), 10),
		TaskID:    task.TaskID,
		UserID:    task.UserID,
		TaskName:  task.Name,
		Status:    task.Status,
		StartTime: task.StartedAt,
	}
}

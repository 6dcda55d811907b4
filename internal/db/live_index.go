package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/balkashynov/pomo/internal/models"
	"github.com/balkashynov/pomo/internal/timer"
)

// LiveIndex keeps live sessions in the live_sessions table so that several
// pomo processes share the one-live-session-per-user guarantee. Updates are
// guarded by a version column and retried when another writer wins the race.
type LiveIndex struct {
	db         *gorm.DB
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

var errVersionConflict = errors.New("live session changed concurrently")

// NewLiveIndex creates a live index on top of an open database
func NewLiveIndex(db *gorm.DB) *LiveIndex {
	return &LiveIndex{
		db:         db,
		maxRetries: 10,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 5 * time.Millisecond
			b.MaxInterval = 200 * time.Millisecond
			return b
		},
	}
}

// Insert adds a live session unless the user already has one
func (x *LiveIndex) Insert(ctx context.Context, s timer.Session) error {
	if s.ID == "" || s.UserID == "" {
		return errors.New("session id and user id are required")
	}
	if !s.Status.Live() {
		return fmt.Errorf("cannot index session in status %s", s.Status)
	}

	row := liveRow(s)
	row.Version = 1
	res := x.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("failed to insert live session: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	existing, err := x.FindByUser(ctx, s.UserID)
	if err == nil {
		return &timer.DuplicateActiveSessionError{SessionID: existing.ID}
	}
	return fmt.Errorf("session id %s already in use", s.ID)
}

// Transition applies fn to the stored session and writes the result back if
// nobody else changed it in between. Terminal sessions are deleted.
func (x *LiveIndex) Transition(ctx context.Context, id string, fn func(*timer.Session) error) (timer.Session, error) {
	var out timer.Session
	op := func() error {
		var row models.LiveSession
		if err := x.db.WithContext(ctx).Where("session_id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return backoff.Permanent(timer.ErrNotFoundOrInvalidState)
			}
			return backoff.Permanent(fmt.Errorf("failed to load live session: %w", err))
		}

		cur := sessionFromRow(row)
		next := cur.Clone()
		if err := fn(&next); err != nil {
			return backoff.Permanent(err)
		}
		next.ID, next.UserID, next.StartTime = cur.ID, cur.UserID, cur.StartTime

		q := x.db.WithContext(ctx).Where("session_id = ? AND version = ?", id, row.Version)
		var res *gorm.DB
		if next.Status.Terminal() {
			res = q.Delete(&models.LiveSession{})
		} else {
			res = q.Model(&models.LiveSession{}).Updates(liveColumns(next, row.Version+1))
		}
		if res.Error != nil {
			return backoff.Permanent(fmt.Errorf("failed to write live session: %w", res.Error))
		}
		if res.RowsAffected == 0 {
			return errVersionConflict
		}
		out = next
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(x.newBackOff(), x.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return timer.Session{}, err
	}
	return out, nil
}

// Get returns the live session with the given id
func (x *LiveIndex) Get(ctx context.Context, id string) (timer.Session, error) {
	return x.first(ctx, "session_id = ?", id)
}

// FindByUser returns the live session owned by userID
func (x *LiveIndex) FindByUser(ctx context.Context, userID string) (timer.Session, error) {
	return x.first(ctx, "user_id = ?", userID)
}

func (x *LiveIndex) first(ctx context.Context, query string, arg string) (timer.Session, error) {
	var row models.LiveSession
	if err := x.db.WithContext(ctx).Where(query, arg).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return timer.Session{}, timer.ErrNotFoundOrInvalidState
		}
		return timer.Session{}, fmt.Errorf("failed to load live session: %w", err)
	}
	return sessionFromRow(row), nil
}

func liveRow(s timer.Session) models.LiveSession {
	return models.LiveSession{
		SessionID:          s.ID,
		UserID:             s.UserID,
		UserName:           s.UserName,
		TaskID:             s.TaskID,
		TaskName:           s.TaskName,
		SessionType:        s.SessionType,
		Project:            s.Project,
		Status:             string(s.Status),
		StartTime:          s.StartTime,
		AccumulatedMinutes: s.AccumulatedMinutes,
		LastResumeTime:     s.LastResumeTime,
		PauseStartedAt:     s.PauseStartedAt,
		RecordID:           s.RecordID,
	}
}

// liveColumns lists every mutable column so that zero values, such as a
// cleared pause time, are written too.
func liveColumns(s timer.Session, version int) map[string]any {
	return map[string]any{
		"user_name":           s.UserName,
		"task_id":             s.TaskID,
		"task_name":           s.TaskName,
		"session_type":        s.SessionType,
		"project":             s.Project,
		"status":              string(s.Status),
		"accumulated_minutes": s.AccumulatedMinutes,
		"last_resume_time":    s.LastResumeTime,
		"pause_started_at":    s.PauseStartedAt,
		"record_id":           s.RecordID,
		"version":             version,
	}
}

func sessionFromRow(row models.LiveSession) timer.Session {
	s := timer.Session{
		ID:                 row.SessionID,
		UserID:             row.UserID,
		UserName:           row.UserName,
		TaskID:             row.TaskID,
		TaskName:           row.TaskName,
		SessionType:        row.SessionType,
		Project:            row.Project,
		Status:             timer.Status(row.Status),
		StartTime:          row.StartTime,
		AccumulatedMinutes: row.AccumulatedMinutes,
		LastResumeTime:     row.LastResumeTime,
		RecordID:           row.RecordID,
	}
	if row.PauseStartedAt != nil {
		t := *row.PauseStartedAt
		s.PauseStartedAt = &t
	}
	return s
}

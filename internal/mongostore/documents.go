package mongostore

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/balkashynov/pomo/internal/timer"
)

type taskDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	TaskID    string             `bson:"task_id"`
	UserID    string             `bson:"user_id"`
	TaskName  string             `bson:"task_name"`
	Status    string             `bson:"status"`
	StartTime time.Time          `bson:"start_time"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

type sessionDocument struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	SessionID       string             `bson:"session_id"`
	UserID          string             `bson:"user_id"`
	TaskID          string             `bson:"task_id"`
	SessionType     string             `bson:"session_type"`
	Status          string             `bson:"status"`
	StartTime       time.Time          `bson:"start_time"`
	EndTime         *time.Time         `bson:"end_time,omitempty"`
	DurationMinutes float64            `bson:"duration_minutes"`
	Interrupted     bool               `bson:"interrupted"`
	UpdatedAt       time.Time          `bson:"updated_at"`
}

func (doc taskDocument) toRecord() timer.TaskRecord {
	return timer.TaskRecord{
		RecordID:  doc.ID.Hex(),
		TaskID:    doc.TaskID,
		UserID:    doc.UserID,
		TaskName:  doc.TaskName,
		Status:    doc.Status,
		StartTime: doc.StartTime.UTC(),
	}
}

func fromSessionRecord(rec timer.SessionRecord) sessionDocument {
	doc := sessionDocument{
		SessionID:       rec.SessionID,
		UserID:          rec.UserID,
		TaskID:          rec.TaskID,
		SessionType:     rec.SessionType,
		Status:          rec.Status,
		StartTime:       rec.StartTime.UTC(),
		DurationMinutes: rec.DurationMinutes,
		Interrupted:     rec.Interrupted,
	}
	if rec.EndTime != nil {
		at := rec.EndTime.UTC()
		doc.EndTime = &at
	}
	return doc
}

func (doc sessionDocument) toRecord() timer.SessionRecord {
	var endTime *time.Time
	if doc.EndTime != nil {
		at := doc.EndTime.UTC()
		endTime = &at
	}
	return timer.SessionRecord{
		RecordID:        doc.ID.Hex(),
		SessionID:       doc.SessionID,
		UserID:          doc.UserID,
		TaskID:          doc.TaskID,
		SessionType:     doc.SessionType,
		Status:          doc.Status,
		StartTime:       doc.StartTime.UTC(),
		EndTime:         endTime,
		DurationMinutes: doc.DurationMinutes,
		Interrupted:     doc.Interrupted,
	}
}

// Package mongostore keeps task and session records in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/balkashynov/pomo/internal/timer"
)

const (
	defaultTasksCollection    = "tasks"
	defaultSessionsCollection = "sessions"
	defaultOpTimeout          = 5 * time.Second
)

// Options configures the Mongo record store.
type Options struct {
	Client             *mongodriver.Client
	Database           string
	TasksCollection    string
	SessionsCollection string
	Timeout            time.Duration
}

// Store implements timer.RecordStore on MongoDB. Record ids are the hex form
// of the document ObjectID.
type Store struct {
	mongo    *mongodriver.Client
	tasks    collection
	sessions collection
	timeout  time.Duration
}

// Connect dials MongoDB at uri.
func Connect(ctx context.Context, uri string) (*mongodriver.Client, error) {
	client, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	return client, nil
}

// New returns a Store backed by MongoDB and makes sure its indexes exist.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	tasksCollection := opts.TasksCollection
	if tasksCollection == "" {
		tasksCollection = defaultTasksCollection
	}
	sessionsCollection := opts.SessionsCollection
	if sessionsCollection == "" {
		sessionsCollection = defaultSessionsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)
	tasks := mongoCollection{coll: db.Collection(tasksCollection)}
	sessions := mongoCollection{coll: db.Collection(sessionsCollection)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, tasks, sessions); err != nil {
		return nil, err
	}
	return newStoreWithCollections(opts.Client, tasks, sessions, timeout)
}

// Ping checks that the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.mongo == nil {
		return errors.New("mongo client not configured")
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

func (s *Store) FindTaskRecord(ctx context.Context, taskID, userID string) (timer.TaskRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc taskDocument
	if err := s.tasks.FindOne(ctx, bson.M{"task_id": taskID, "user_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return timer.TaskRecord{}, timer.ErrRecordNotFound
		}
		return timer.TaskRecord{}, err
	}
	return doc.toRecord(), nil
}

// CreateTaskRecord inserts the task unless the user already has a record for
// it, in which case the existing record is returned unchanged.
func (s *Store) CreateTaskRecord(ctx context.Context, rec timer.TaskRecord) (timer.TaskRecord, error) {
	if rec.TaskID == "" || rec.UserID == "" {
		return timer.TaskRecord{}, errors.New("task id and user id are required")
	}
	filter := bson.M{"task_id": rec.TaskID, "user_id": rec.UserID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"task_id":    rec.TaskID,
			"user_id":    rec.UserID,
			"task_name":  rec.TaskName,
			"status":     rec.Status,
			"start_time": rec.StartTime.UTC(),
			"updated_at": time.Now().UTC(),
		},
	}
	if err := s.upsert(ctx, s.tasks, filter, update); err != nil {
		return timer.TaskRecord{}, err
	}
	return s.FindTaskRecord(ctx, rec.TaskID, rec.UserID)
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID, userID, status string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"task_id": taskID, "user_id": userID}
	update := bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}}
	res, err := s.tasks.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return timer.ErrRecordNotFound
	}
	return nil
}

// CreateSessionRecord inserts the session record keyed by session id. Retrying
// after a lost reply returns the record created by the first attempt.
func (s *Store) CreateSessionRecord(ctx context.Context, rec timer.SessionRecord) (timer.SessionRecord, error) {
	if rec.SessionID == "" {
		return timer.SessionRecord{}, errors.New("session id is required")
	}
	doc := fromSessionRecord(rec)
	filter := bson.M{"session_id": rec.SessionID}
	insert := bson.M{
		"session_id":       doc.SessionID,
		"user_id":          doc.UserID,
		"task_id":          doc.TaskID,
		"session_type":     doc.SessionType,
		"status":           doc.Status,
		"start_time":       doc.StartTime,
		"duration_minutes": doc.DurationMinutes,
		"interrupted":      doc.Interrupted,
		"updated_at":       time.Now().UTC(),
	}
	if doc.EndTime != nil {
		insert["end_time"] = *doc.EndTime
	}
	if err := s.upsert(ctx, s.sessions, filter, bson.M{"$setOnInsert": insert}); err != nil {
		return timer.SessionRecord{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var out sessionDocument
	if err := s.sessions.FindOne(ctx, filter).Decode(&out); err != nil {
		return timer.SessionRecord{}, err
	}
	return out.toRecord(), nil
}

// FindSessionRecord looks up a session record by session id.
func (s *Store) FindSessionRecord(ctx context.Context, sessionID string) (timer.SessionRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc sessionDocument
	if err := s.sessions.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return timer.SessionRecord{}, timer.ErrRecordNotFound
		}
		return timer.SessionRecord{}, err
	}
	return doc.toRecord(), nil
}

func (s *Store) UpdateSessionRecord(ctx context.Context, recordID string, update timer.SessionUpdate) error {
	id, err := primitive.ObjectIDFromHex(recordID)
	if err != nil {
		return fmt.Errorf("invalid session record id %q: %w", recordID, timer.ErrRecordNotFound)
	}
	set := bson.M{"updated_at": time.Now().UTC()}
	if update.Status != "" {
		set["status"] = update.Status
	}
	if update.EndTime != nil {
		set["end_time"] = update.EndTime.UTC()
	}
	if update.DurationMinutes != nil {
		set["duration_minutes"] = *update.DurationMinutes
	}
	if update.Interrupted != nil {
		set["interrupted"] = *update.Interrupted
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.sessions.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return timer.ErrRecordNotFound
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, c collection, filter, update bson.M) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := c.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func ensureIndexes(ctx context.Context, tasksColl, sessionsColl collection) error {
	taskIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "task_id", Value: 1},
			{Key: "user_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := tasksColl.Indexes().CreateOne(ctx, taskIndex); err != nil {
		return err
	}
	sessionIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := sessionsColl.Indexes().CreateOne(ctx, sessionIndex); err != nil {
		return err
	}
	userIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "start_time", Value: -1},
		},
	}
	if _, err := sessionsColl.Indexes().CreateOne(ctx, userIndex); err != nil {
		return err
	}
	return nil
}

func newStoreWithCollections(client *mongodriver.Client, tasks, sessions collection, timeout time.Duration) (*Store, error) {
	if tasks == nil || sessions == nil {
		return nil, errors.New("collections are required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{mongo: client, tasks: tasks, sessions: sessions, timeout: timeout}, nil
}

package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type (
	testClock struct {
		mu  sync.Mutex
		now time.Time
	}

	memStore struct {
		mu       sync.Mutex
		tasks    map[string]TaskRecord
		sessions map[string]SessionRecord
		seq      int

		failFind          error
		failCreateTask    error
		failUpdateTask    error
		failCreateSession error
		failUpdateSession error

		taskUpdates []string

		// afterCreateSession runs once the record is stored, outside the lock.
		afterCreateSession func(SessionRecord)
	}

	recordingNotifier struct {
		mu     sync.Mutex
		events []Event
		err    error
	}

	countingRecorder struct {
		mu          sync.Mutex
		transitions map[Operation]int
		failures    map[Operation]int
		persistence map[Operation]int
		minutes     []float64
	}
)

var errStoreDown = errors.New("store down")

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMemStore() *memStore {
	return &memStore{
		tasks:    make(map[string]TaskRecord),
		sessions: make(map[string]SessionRecord),
	}
}

func taskKey(taskID, userID string) string {
	return taskID + "/" + userID
}

func (s *memStore) FindTaskRecord(_ context.Context, taskID, userID string) (TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFind != nil {
		return TaskRecord{}, s.failFind
	}
	t, ok := s.tasks[taskKey(taskID, userID)]
	if !ok {
		return TaskRecord{}, ErrRecordNotFound
	}
	return t, nil
}

func (s *memStore) CreateTaskRecord(_ context.Context, task TaskRecord) (TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateTask != nil {
		return TaskRecord{}, s.failCreateTask
	}
	s.seq++
	task.RecordID = fmt.Sprintf("task-%d", s.seq)
	s.tasks[taskKey(task.TaskID, task.UserID)] = task
	return task, nil
}

func (s *memStore) UpdateTaskStatus(_ context.Context, taskID, userID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdateTask != nil {
		return s.failUpdateTask
	}
	t, ok := s.tasks[taskKey(taskID, userID)]
	if !ok {
		return ErrRecordNotFound
	}
	t.Status = status
	s.tasks[taskKey(taskID, userID)] = t
	s.taskUpdates = append(s.taskUpdates, status)
	return nil
}

func (s *memStore) CreateSessionRecord(_ context.Context, rec SessionRecord) (SessionRecord, error) {
	s.mu.Lock()
	if s.failCreateSession != nil {
		s.mu.Unlock()
		return SessionRecord{}, s.failCreateSession
	}
	s.seq++
	rec.RecordID = fmt.Sprintf("rec-%d", s.seq)
	s.sessions[rec.RecordID] = rec
	hook := s.afterCreateSession
	s.mu.Unlock()

	if hook != nil {
		hook(rec)
	}
	return rec, nil
}

func (s *memStore) FindSessionRecord(_ context.Context, sessionID string) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.sessions {
		if rec.SessionID == sessionID {
			return rec, nil
		}
	}
	return SessionRecord{}, ErrRecordNotFound
}

func (s *memStore) UpdateSessionRecord(_ context.Context, recordID string, u SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdateSession != nil {
		return s.failUpdateSession
	}
	rec, ok := s.sessions[recordID]
	if !ok {
		return ErrRecordNotFound
	}
	if u.Status != "" {
		rec.Status = u.Status
	}
	if u.EndTime != nil {
		rec.EndTime = u.EndTime
	}
	if u.DurationMinutes != nil {
		rec.DurationMinutes = *u.DurationMinutes
	}
	if u.Interrupted != nil {
		rec.Interrupted = *u.Interrupted
	}
	s.sessions[recordID] = rec
	return nil
}

func (s *memStore) session(recordID string) SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[recordID]
}

func (s *memStore) task(taskID, userID string) TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[taskKey(taskID, userID)]
}

func (n *recordingNotifier) Notify(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) kinds() []EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventKind, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		transitions: make(map[Operation]int),
		failures:    make(map[Operation]int),
		persistence: make(map[Operation]int),
	}
}

func (r *countingRecorder) RecordTransition(op Operation, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failures[op]++
		return
	}
	r.transitions[op]++
}

func (r *countingRecorder) RecordPersistenceFailure(op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persistence[op]++
}

func (r *countingRecorder) RecordSessionMinutes(_ Operation, minutes float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.minutes = append(r.minutes, minutes)
}

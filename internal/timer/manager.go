package timer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"
)

type (
	// Options configures a Manager. Store is required.
	Options struct {
		// Index holds the live sessions. Defaults to a new MemoryIndex.
		Index LiveIndex
		// Store receives the durable task and session records.
		Store RecordStore
		// Notifier receives lifecycle events. Defaults to a no-op notifier.
		Notifier Notifier
		// Recorder receives metrics. Defaults to a no-op recorder.
		Recorder Recorder
		// Now returns the current time. Defaults to time.Now.
		Now func() time.Time
		// NewID generates session identifiers. Defaults to uuid.NewString.
		NewID func() string
	}

	// Manager runs the session state machine.
	Manager struct {
		index    LiveIndex
		store    RecordStore
		notifier Notifier
		recorder Recorder
		now      func() time.Time
		newID    func() string
	}

	// StartRequest holds the inputs of Start. UserID, TaskID, TaskName and
	// SessionType are required.
	StartRequest struct {
		UserID      string
		UserName    string
		TaskID      string
		TaskName    string
		SessionType string
		Project     string
	}

	// StartResult is returned by Start.
	StartResult struct {
		SessionID    string
		StartTime    time.Time
		RecordID     string
		TaskRecordID string
		// Warning holds the store failures that followed the transition.
		Warning error
	}

	// PauseResult is returned by Pause.
	PauseResult struct {
		PausedAt           time.Time
		AccumulatedMinutes float64
		Warning            error
	}

	// ResumeResult is returned by Resume.
	ResumeResult struct {
		ResumedAt time.Time
		Warning   error
	}

	// CompleteResult is returned by Complete.
	CompleteResult struct {
		SessionID string
		EndTime   time.Time
		// TotalMinutes is rounded to two decimals.
		TotalMinutes float64
		Auto         bool
		Warning      error
	}

	// ResetResult is returned by Reset.
	ResetResult struct {
		SessionID string
		EndTime   time.Time
		// CreditedMinutes is the duration kept on the cancelled record.
		CreditedMinutes float64
		Warning         error
	}
)

// NewManager returns a Manager using the given collaborators.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("record store is required")
	}
	m := &Manager{
		index:    opts.Index,
		store:    opts.Store,
		notifier: opts.Notifier,
		recorder: opts.Recorder,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if m.index == nil {
		m.index = NewMemoryIndex()
	}
	if m.notifier == nil {
		m.notifier = nopNotifier{}
	}
	if m.recorder == nil {
		m.recorder = nopRecorder{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m, nil
}

// Start creates a new Active session for the user, records it and its task in
// the store and emits a started event.
func (m *Manager) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	req = req.trimmed()
	if err := req.validate(); err != nil {
		m.recorder.RecordTransition(OpStart, err)
		return StartResult{}, err
	}

	now := m.now()
	s := Session{
		ID:             m.newID(),
		UserID:         req.UserID,
		UserName:       req.UserName,
		TaskID:         req.TaskID,
		TaskName:       req.TaskName,
		SessionType:    req.SessionType,
		Project:        req.Project,
		Status:         StatusActive,
		StartTime:      now,
		LastResumeTime: now,
	}
	if err := m.index.Insert(ctx, s); err != nil {
		m.recorder.RecordTransition(OpStart, err)
		return StartResult{}, err
	}
	m.recorder.RecordTransition(OpStart, nil)
	log.Debug(ctx, log.KV{K: "msg", V: "session started"}, log.KV{K: "session", V: s.ID}, log.KV{K: "user", V: s.UserID})

	res := StartResult{SessionID: s.ID, StartTime: now}
	var warnings []error

	taskRecordID, err := m.ensureTask(ctx, s)
	if err != nil {
		warnings = append(warnings, m.persistenceFailure(ctx, OpStart, "ensure task record", err))
	}
	res.TaskRecordID = taskRecordID

	rec, err := m.store.CreateSessionRecord(ctx, SessionRecord{
		SessionID:   s.ID,
		UserID:      s.UserID,
		TaskID:      s.TaskID,
		SessionType: s.SessionType,
		Status:      StatusActive.RecordStatus(),
		StartTime:   now,
	})
	if err != nil {
		warnings = append(warnings, m.persistenceFailure(ctx, OpStart, "create session record", err))
	} else {
		res.RecordID = rec.RecordID
		_, err := m.index.Transition(ctx, s.ID, func(live *Session) error {
			live.RecordID = rec.RecordID
			return nil
		})
		if err != nil {
			warnings = append(warnings, m.persistenceFailure(ctx, OpStart, "link session record", err))
		}
	}
	res.Warning = errors.Join(warnings...)

	s.RecordID = res.RecordID
	m.notify(ctx, s.event(EventStarted, now, false))
	return res, nil
}

// Pause closes the current active interval of an Active session owned by
// callerID.
func (m *Manager) Pause(ctx context.Context, sessionID, callerID string) (PauseResult, error) {
	var pausedAt time.Time
	s, err := m.index.Transition(ctx, sessionID, func(s *Session) error {
		if err := guard(s, callerID, StatusActive); err != nil {
			return err
		}
		pausedAt = m.now()
		s.AccumulatedMinutes += minutesBetween(s.LastResumeTime, pausedAt)
		s.Status = StatusPaused
		s.PauseStartedAt = &pausedAt
		return nil
	})
	m.recorder.RecordTransition(OpPause, err)
	if err != nil {
		return PauseResult{}, opError(OpPause, sessionID, err)
	}

	duration := RoundMinutes(s.AccumulatedMinutes)
	warning := m.persist(ctx, OpPause, s, SessionUpdate{
		Status:          StatusPaused.RecordStatus(),
		DurationMinutes: &duration,
	})
	m.notify(ctx, s.event(EventPaused, pausedAt, false))
	return PauseResult{PausedAt: pausedAt, AccumulatedMinutes: s.AccumulatedMinutes, Warning: warning}, nil
}

// Resume opens a new active interval on a Paused session owned by callerID.
func (m *Manager) Resume(ctx context.Context, sessionID, callerID string) (ResumeResult, error) {
	var resumedAt time.Time
	s, err := m.index.Transition(ctx, sessionID, func(s *Session) error {
		if err := guard(s, callerID, StatusPaused); err != nil {
			return err
		}
		resumedAt = m.now()
		s.Status = StatusActive
		s.LastResumeTime = resumedAt
		s.PauseStartedAt = nil
		return nil
	})
	m.recorder.RecordTransition(OpResume, err)
	if err != nil {
		return ResumeResult{}, opError(OpResume, sessionID, err)
	}

	warning := m.persist(ctx, OpResume, s, SessionUpdate{Status: StatusActive.RecordStatus()})
	m.notify(ctx, s.event(EventResumed, resumedAt, false))
	return ResumeResult{ResumedAt: resumedAt, Warning: warning}, nil
}

// Complete ends an Active session owned by callerID. Unless auto is set the
// session's task is marked completed in the store as well; auto marks a
// completion driven by the timer running out.
func (m *Manager) Complete(ctx context.Context, sessionID, callerID string, auto bool) (CompleteResult, error) {
	var endTime time.Time
	s, err := m.index.Transition(ctx, sessionID, func(s *Session) error {
		if err := guard(s, callerID, StatusActive); err != nil {
			return err
		}
		endTime = m.now()
		s.AccumulatedMinutes += minutesBetween(s.LastResumeTime, endTime)
		s.Status = StatusCompleted
		s.EndTime = &endTime
		return nil
	})
	m.recorder.RecordTransition(OpComplete, err)
	if err != nil {
		return CompleteResult{}, opError(OpComplete, sessionID, err)
	}

	total := RoundMinutes(s.AccumulatedMinutes)
	m.recorder.RecordSessionMinutes(OpComplete, total)
	warnings := []error{m.persist(ctx, OpComplete, s, SessionUpdate{
		Status:          StatusCompleted.RecordStatus(),
		EndTime:         &endTime,
		DurationMinutes: &total,
	})}
	if !auto {
		if err := m.store.UpdateTaskStatus(ctx, s.TaskID, s.UserID, TaskStatusCompleted); err != nil {
			warnings = append(warnings, m.persistenceFailure(ctx, OpComplete, "complete task record", err))
		}
	}
	m.notify(ctx, s.event(EventCompleted, endTime, auto))
	return CompleteResult{
		SessionID:    s.ID,
		EndTime:      endTime,
		TotalMinutes: total,
		Auto:         auto,
		Warning:      errors.Join(warnings...),
	}, nil
}

// Reset cancels an Active session owned by callerID. The cancelled record
// keeps the work time accumulated up to the reset, including the interrupted
// interval. The task record is left untouched.
func (m *Manager) Reset(ctx context.Context, sessionID, callerID string) (ResetResult, error) {
	var endTime time.Time
	s, err := m.index.Transition(ctx, sessionID, func(s *Session) error {
		if err := guard(s, callerID, StatusActive); err != nil {
			return err
		}
		endTime = m.now()
		s.AccumulatedMinutes += minutesBetween(s.LastResumeTime, endTime)
		s.Status = StatusCancelled
		s.EndTime = &endTime
		return nil
	})
	m.recorder.RecordTransition(OpReset, err)
	if err != nil {
		return ResetResult{}, opError(OpReset, sessionID, err)
	}

	credited := RoundMinutes(s.AccumulatedMinutes)
	m.recorder.RecordSessionMinutes(OpReset, credited)
	interrupted := true
	warning := m.persist(ctx, OpReset, s, SessionUpdate{
		Status:          StatusCancelled.RecordStatus(),
		EndTime:         &endTime,
		DurationMinutes: &credited,
		Interrupted:     &interrupted,
	})
	m.notify(ctx, s.event(EventReset, endTime, false))
	return ResetResult{SessionID: s.ID, EndTime: endTime, CreditedMinutes: credited, Warning: warning}, nil
}

// Get returns the live session with the given id if callerID owns it.
func (m *Manager) Get(ctx context.Context, sessionID, callerID string) (Session, error) {
	s, err := m.index.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if s.UserID != callerID {
		return Session{}, ErrNotFoundOrInvalidState
	}
	return s, nil
}

// ActiveFor returns the live session of the user, Active or Paused.
func (m *Manager) ActiveFor(ctx context.Context, userID string) (Session, error) {
	return m.index.FindByUser(ctx, userID)
}

// ensureTask creates the task record if the user has none for the task and
// marks it as being worked on otherwise.
func (m *Manager) ensureTask(ctx context.Context, s Session) (string, error) {
	task, err := m.store.FindTaskRecord(ctx, s.TaskID, s.UserID)
	switch {
	case err == nil:
		return task.RecordID, m.store.UpdateTaskStatus(ctx, s.TaskID, s.UserID, TaskStatusWorking)
	case errors.Is(err, ErrRecordNotFound):
		created, err := m.store.CreateTaskRecord(ctx, TaskRecord{
			TaskID:    s.TaskID,
			UserID:    s.UserID,
			TaskName:  s.TaskName,
			Status:    TaskStatusWorking,
			StartTime: s.StartTime,
		})
		if err != nil {
			return "", err
		}
		return created.RecordID, nil
	default:
		return "", err
	}
}

// persist updates the record of s and returns a *PersistenceError on failure.
// A session without a linked record id is looked up by session id when the
// store supports it.
func (m *Manager) persist(ctx context.Context, op Operation, s Session, update SessionUpdate) error {
	recordID := s.RecordID
	if recordID == "" {
		finder, ok := m.store.(SessionRecordFinder)
		if !ok {
			return m.persistenceFailure(ctx, op, "update session record", ErrNoRecord)
		}
		rec, err := finder.FindSessionRecord(ctx, s.ID)
		if errors.Is(err, ErrRecordNotFound) {
			err = ErrNoRecord
		}
		if err != nil {
			return m.persistenceFailure(ctx, op, "find session record", err)
		}
		recordID = rec.RecordID
	}
	if err := m.store.UpdateSessionRecord(ctx, recordID, update); err != nil {
		return m.persistenceFailure(ctx, op, "update session record", err)
	}
	return nil
}

func (m *Manager) persistenceFailure(ctx context.Context, op Operation, step string, err error) error {
	m.recorder.RecordPersistenceFailure(op)
	perr := &PersistenceError{Op: op, Step: step, Err: err}
	log.Warn(ctx, log.KV{K: "msg", V: "record store update failed"}, log.KV{K: "op", V: string(op)}, log.KV{K: "step", V: step}, log.KV{K: "err", V: err.Error()})
	return perr
}

func (m *Manager) notify(ctx context.Context, ev Event) {
	if err := m.notifier.Notify(ctx, ev); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "notification failed"}, log.KV{K: "event", V: string(ev.Kind)}, log.KV{K: "session", V: ev.SessionID})
	}
}

func (s Session) event(kind EventKind, at time.Time, auto bool) Event {
	return Event{
		Kind:               kind,
		Label:              kind.Label(),
		SessionID:          s.ID,
		UserID:             s.UserID,
		UserName:           s.UserName,
		TaskID:             s.TaskID,
		TaskName:           s.TaskName,
		Project:            s.Project,
		At:                 at,
		AccumulatedMinutes: RoundMinutes(s.AccumulatedMinutes),
		Auto:               auto,
	}
}

func guard(s *Session, callerID string, want Status) error {
	if s.UserID != callerID || s.Status != want {
		return ErrNotFoundOrInvalidState
	}
	return nil
}

func opError(op Operation, sessionID string, err error) error {
	return fmt.Errorf("%s session %s: %w", op, sessionID, err)
}

func (r StartRequest) trimmed() StartRequest {
	r.UserID = strings.TrimSpace(r.UserID)
	r.TaskID = strings.TrimSpace(r.TaskID)
	r.TaskName = strings.TrimSpace(r.TaskName)
	r.SessionType = strings.TrimSpace(r.SessionType)
	return r
}

func (r StartRequest) validate() error {
	switch {
	case r.UserID == "":
		return &ValidationError{Field: "user_id"}
	case r.TaskID == "":
		return &ValidationError{Field: "task_id"}
	case r.TaskName == "":
		return &ValidationError{Field: "task_name"}
	case r.SessionType == "":
		return &ValidationError{Field: "session_type"}
	}
	return nil
}

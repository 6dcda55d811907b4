package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type harness struct {
	mgr      *Manager
	index    *MemoryIndex
	store    *memStore
	notifier *recordingNotifier
	recorder *countingRecorder
	clock    *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		index:    NewMemoryIndex(),
		store:    newMemStore(),
		notifier: &recordingNotifier{},
		recorder: newCountingRecorder(),
		clock:    newTestClock(),
	}
	mgr, err := NewManager(Options{
		Index:    h.index,
		Store:    h.store,
		Notifier: h.notifier,
		Recorder: h.recorder,
		Now:      h.clock.Now,
	})
	require.NoError(t, err)
	h.mgr = mgr
	return h
}

func (h *harness) start(t *testing.T, userID, taskID, taskName string) StartResult {
	t.Helper()
	res, err := h.mgr.Start(context.Background(), StartRequest{
		UserID:      userID,
		TaskID:      taskID,
		TaskName:    taskName,
		SessionType: "work",
	})
	require.NoError(t, err)
	require.NoError(t, res.Warning)
	return res
}

func TestNewManagerRequiresStore(t *testing.T) {
	_, err := NewManager(Options{})
	require.Error(t, err)
}

func TestStartCreatesSessionAndRecords(t *testing.T) {
	h := newHarness(t)
	res := h.start(t, "u1", "TG-1", "Write report")

	require.NotEmpty(t, res.SessionID)
	require.Equal(t, h.clock.Now(), res.StartTime)
	require.NotEmpty(t, res.RecordID)
	require.NotEmpty(t, res.TaskRecordID)

	live, err := h.mgr.Get(context.Background(), res.SessionID, "u1")
	require.NoError(t, err)
	require.Equal(t, StatusActive, live.Status)
	require.Equal(t, res.StartTime, live.LastResumeTime)
	require.Zero(t, live.AccumulatedMinutes)
	require.Equal(t, res.RecordID, live.RecordID)
	require.Nil(t, live.PauseStartedAt)
	require.Nil(t, live.EndTime)

	rec := h.store.session(res.RecordID)
	require.Equal(t, "Started", rec.Status)
	require.Equal(t, "work", rec.SessionType)
	require.False(t, rec.Interrupted)

	task := h.store.task("TG-1", "u1")
	require.Equal(t, TaskStatusWorking, task.Status)
	require.Equal(t, "Write report", task.TaskName)

	require.Equal(t, []EventKind{EventStarted}, h.notifier.kinds())
}

func TestStartMarksExistingTaskWorking(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.CreateTaskRecord(context.Background(), TaskRecord{TaskID: "TG-1", UserID: "u1", TaskName: "Write report", Status: TaskStatusCompleted})
	require.NoError(t, err)

	res := h.start(t, "u1", "TG-1", "Write report")
	require.Equal(t, "task-1", res.TaskRecordID)
	require.Equal(t, TaskStatusWorking, h.store.task("TG-1", "u1").Status)
}

func TestStartValidation(t *testing.T) {
	cases := []struct {
		name  string
		req   StartRequest
		field string
	}{
		{"user", StartRequest{TaskID: "1", TaskName: "n", SessionType: "work"}, "user_id"},
		{"task id", StartRequest{UserID: "u", TaskName: "n", SessionType: "work"}, "task_id"},
		{"task name", StartRequest{UserID: "u", TaskID: "1", TaskName: "  ", SessionType: "work"}, "task_name"},
		{"session type", StartRequest{UserID: "u", TaskID: "1", TaskName: "n"}, "session_type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.mgr.Start(context.Background(), tc.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
			require.Zero(t, h.index.Len())
			require.Empty(t, h.notifier.kinds())
		})
	}
}

func TestStartDuplicateReturnsExistingSession(t *testing.T) {
	h := newHarness(t)
	first := h.start(t, "u1", "TG-1", "Write report")

	_, err := h.mgr.Start(context.Background(), StartRequest{UserID: "u1", TaskID: "TG-2", TaskName: "Other", SessionType: "work"})
	require.ErrorIs(t, err, ErrDuplicateActiveSession)
	var dup *DuplicateActiveSessionError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, first.SessionID, dup.SessionID)

	// Paused sessions are live too.
	_, err = h.mgr.Pause(context.Background(), first.SessionID, "u1")
	require.NoError(t, err)
	_, err = h.mgr.Start(context.Background(), StartRequest{UserID: "u1", TaskID: "TG-2", TaskName: "Other", SessionType: "work"})
	require.ErrorIs(t, err, ErrDuplicateActiveSession)
}

func TestDurationArithmetic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.start(t, "u1", "TG-1", "Write report")

	h.clock.Advance(600 * time.Second)
	paused, err := h.mgr.Pause(ctx, res.SessionID, "u1")
	require.NoError(t, err)
	require.InDelta(t, 10.0, paused.AccumulatedMinutes, 1e-9)
	require.Equal(t, h.clock.Now(), paused.PausedAt)
	require.Equal(t, "Paused", h.store.session(res.RecordID).Status)
	require.InDelta(t, 10.0, h.store.session(res.RecordID).DurationMinutes, 1e-9)

	h.clock.Advance(300 * time.Second)
	resumed, err := h.mgr.Resume(ctx, res.SessionID, "u1")
	require.NoError(t, err)
	require.Equal(t, h.clock.Now(), resumed.ResumedAt)
	require.Equal(t, "Started", h.store.session(res.RecordID).Status)

	live, err := h.mgr.Get(ctx, res.SessionID, "u1")
	require.NoError(t, err)
	require.Nil(t, live.PauseStartedAt)
	require.InDelta(t, 10.0, live.AccumulatedMinutes, 1e-9)

	h.clock.Advance(600 * time.Second)
	done, err := h.mgr.Complete(ctx, res.SessionID, "u1", false)
	require.NoError(t, err)
	require.NoError(t, done.Warning)
	require.Equal(t, 20.0, done.TotalMinutes)
	require.Equal(t, h.clock.Now(), done.EndTime)

	rec := h.store.session(res.RecordID)
	require.Equal(t, "Completed", rec.Status)
	require.Equal(t, 20.0, rec.DurationMinutes)
	require.NotNil(t, rec.EndTime)
	require.Equal(t, h.clock.Now(), *rec.EndTime)
}

func TestPersistedDurationIsRounded(t *testing.T) {
	h := newHarness(t)
	res := h.start(t, "u1", "TG-1", "Write report")

	h.clock.Advance(100 * time.Second)
	paused, err := h.mgr.Pause(context.Background(), res.SessionID, "u1")
	require.NoError(t, err)
	require.InDelta(t, 100.0/60, paused.AccumulatedMinutes, 1e-9)
	require.Equal(t, 1.67, h.store.session(res.RecordID).DurationMinutes)
}

func TestStateGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("pause twice", func(t *testing.T) {
		h := newHarness(t)
		res := h.start(t, "u1", "TG-1", "Write report")
		_, err := h.mgr.Pause(ctx, res.SessionID, "u1")
		require.NoError(t, err)
		_, err = h.mgr.Pause(ctx, res.SessionID, "u1")
		require.ErrorIs(t, err, ErrNotFoundOrInvalidState)
	})

	t.Run("resume twice", func(t *testing.T) {
		h := newHarness(t)
		res := h.start(t, "u1", "TG-1", "Write report")
		_, err := h.mgr.Pause(ctx, res.SessionID, "u1")
		require.NoError(t, err)
		_, err = h.mgr.Resume(ctx, res.SessionID, "u1")
		require.NoError(t, err)
		_, err = h.mgr.Resume(ctx, res.SessionID, "u1")
		require.ErrorIs(t, err, ErrNotFoundOrInvalidState)
	})

	t.Run("resume active", func(t *testing.T) {
		h := newHarness(t)
		res := h.start(t, "u1", "TG-1", "Write report")
		_, err := h.mgr.Resume(ctx, res.SessionID, "u1")
		require.ErrorIs(t, err, ErrNotFoundOrInvalidState)
	})

	t.Run("complete paused", func(t *testing.T) {
		h := newHarness(t)
		res := h.start(t, "u1", "TG-1", "Write report")
		_, err := h.mgr.Pause(ctx, res.SessionID, "u1")
		require.NoError(t, err)
		_, err = h.mgr.Complete(ctx, res.SessionID, "u1", false)
		require.ErrorIs(t, err, ErrNotFoundOrInvalidState)
		live, err := h.mgr.Get(ctx, res.SessionID, "u1")
		require.NoError(t, err)
		require.Equal(t, StatusPaused, live.Status)
	})

	t.Run("reset paused", func(t *testing.T) {
		h := newHarness(t)
		res := h.start(t, "u1", "TG-1", "Write report")
		_, err := h.mgr.Pause(ctx, res.SessionID, "u1")
		require.NoError(t, err)
		_, err = h.mgr.Reset(ctx, res.SessionID, "u1")
		require.ErrorIs(t, err, ErrNotFoundOrInvalidState)
	})

	t.Run("terminal sessions are gone", func(t *testing.T) {
		h := newHarness(t)
		res := h.start(t, "u1", "TG-1", "Write report")
		_, err := h.mgr.Complete(ctx, res.SessionID, "u1", true)
		require.NoError(t, err)
		_, err = h.mgr.Complete(ctx, res.SessionID, "u1", true)
		require.ErrorIs(t, err, ErrNotFoundOrInvalidState)
		_, err = h.mgr.Reset(ctx, res.SessionID, "u1")
		require.ErrorIs(t, err, ErrNotFoundOrInvalidState)
		_, err = h.mgr.Pause(ctx, res.SessionID, "u1")
		require.ErrorIs(t, err, ErrNotFoundOrInvalidState)
	})

	t.Run("unknown session", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.mgr.Pause(ctx, "missing", "u1")
		require.ErrorIs(t, err, ErrNotFoundOrInvalidState)
	})
}

func TestGuardFailuresHaveNoSideEffects(t *testing.T) {
	h := newHarness(t)
	res := h.start(t, "u1", "TG-1", "Write report")
	_, err := h.mgr.Resume(context.Background(), res.SessionID, "u1")
	require.Error(t, err)

	require.Equal(t, []EventKind{EventStarted}, h.notifier.kinds())
	require.Equal(t, "Started", h.store.session(res.RecordID).Status)
	require.Equal(t, 1, h.recorder.failures[OpResume])
}

func TestOwnership(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res := h.start(t, "owner", "TG-1", "Write report")

	_, err := h.mgr.Pause(ctx, res.SessionID, "intruder")
	require.ErrorIs(t, err, ErrNotFoundOrInvalidState)
	_, err = h.mgr.Complete(ctx, res.SessionID, "intruder", false)
	require.ErrorIs(t, err, ErrNotFoundOrInvalidState)
	_, err = h.mgr.Reset(ctx, res.SessionID, "intruder")
	require.ErrorIs(t, err, ErrNotFoundOrInvalidState)
	_, err = h.mgr.Get(ctx, res.SessionID, "intruder")
	require.ErrorIs(t, err, ErrNotFoundOrInvalidState)

	_, err = h.mgr.Pause(ctx, res.SessionID, "owner")
	require.NoError(t, err)
	_, err = h.mgr.Resume(ctx, res.SessionID, "intruder")
	require.ErrorIs(t, err, ErrNotFoundOrInvalidState)
}

func TestTerminalCleanupAllowsRestart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first := h.start(t, "u1", "TG-1", "Write report")
	_, err := h.mgr.Complete(ctx, first.SessionID, "u1", false)
	require.NoError(t, err)
	require.Zero(t, h.index.Len())
	_, err = h.mgr.ActiveFor(ctx, "u1")
	require.ErrorIs(t, err, ErrNotFoundOrInvalidState)

	second := h.start(t, "u1", "TG-1", "Write report")
	_, err = h.mgr.Reset(ctx, second.SessionID, "u1")
	require.NoError(t, err)

	third := h.start(t, "u1", "TG-1", "Write report")
	require.NotEqual(t, first.SessionID, third.SessionID)
}

func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	s1 := h.start(t, "alice", "TG-1", "Write report")
	s2 := h.start(t, "bob", "TG-2", "Review PR")
	require.NotEqual(t, s1.SessionID, s2.SessionID)

	_, err := h.mgr.Start(ctx, StartRequest{UserID: "alice", TaskID: "TG-3", TaskName: "Other", SessionType: "work"})
	var dup *DuplicateActiveSessionError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, s1.SessionID, dup.SessionID)

	h.clock.Advance(25 * time.Minute)
	_, err = h.mgr.Complete(ctx, s1.SessionID, "alice", false)
	require.NoError(t, err)
	require.Equal(t, TaskStatusCompleted, h.store.task("TG-1", "alice").Status)

	s3 := h.start(t, "alice", "TG-4", "Auto task")
	h.clock.Advance(25 * time.Minute)
	auto, err := h.mgr.Complete(ctx, s3.SessionID, "alice", true)
	require.NoError(t, err)
	require.True(t, auto.Auto)
	require.Equal(t, TaskStatusWorking, h.store.task("TG-4", "alice").Status)

	bob, err := h.mgr.ActiveFor(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, s2.SessionID, bob.ID)
}

func TestResetCreditsAccumulatedTime(t *testing.T) {
	h := newHarness(t)
	res := h.start(t, "u1", "TG-1", "Write report")
	before := h.store.task("TG-1", "u1").Status

	h.clock.Advance(5 * time.Minute)
	reset, err := h.mgr.Reset(context.Background(), res.SessionID, "u1")
	require.NoError(t, err)
	require.NoError(t, reset.Warning)
	require.Equal(t, 5.0, reset.CreditedMinutes)

	rec := h.store.session(res.RecordID)
	require.Equal(t, "Cancelled", rec.Status)
	require.True(t, rec.Interrupted)
	require.Equal(t, 5.0, rec.DurationMinutes)
	require.NotNil(t, rec.EndTime)
	require.Equal(t, before, h.store.task("TG-1", "u1").Status)
	require.Equal(t, []EventKind{EventStarted, EventReset}, h.notifier.kinds())
}

func TestPersistenceFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res := h.start(t, "u1", "TG-1", "Write report")

	h.store.failUpdateSession = errStoreDown
	h.clock.Advance(time.Minute)
	paused, err := h.mgr.Pause(ctx, res.SessionID, "u1")
	require.NoError(t, err)
	require.ErrorIs(t, paused.Warning, errStoreDown)
	var perr *PersistenceError
	require.ErrorAs(t, paused.Warning, &perr)
	require.Equal(t, OpPause, perr.Op)

	live, err := h.mgr.Get(ctx, res.SessionID, "u1")
	require.NoError(t, err)
	require.Equal(t, StatusPaused, live.Status)
	require.Equal(t, 1, h.recorder.persistence[OpPause])

	_, err = h.mgr.Resume(ctx, res.SessionID, "u1")
	require.NoError(t, err)
	h.store.failUpdateTask = errStoreDown
	done, err := h.mgr.Complete(ctx, res.SessionID, "u1", false)
	require.NoError(t, err)
	require.ErrorIs(t, done.Warning, errStoreDown)
	require.Zero(t, h.index.Len())
}

func TestStartPersistenceFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("session record", func(t *testing.T) {
		h := newHarness(t)
		h.store.failCreateSession = errStoreDown
		res, err := h.mgr.Start(ctx, StartRequest{UserID: "u1", TaskID: "TG-1", TaskName: "Write report", SessionType: "work"})
		require.NoError(t, err)
		require.ErrorIs(t, res.Warning, errStoreDown)
		require.Empty(t, res.RecordID)

		// The session is live but has nothing to update.
		h.store.failCreateSession = nil
		paused, err := h.mgr.Pause(ctx, res.SessionID, "u1")
		require.NoError(t, err)
		require.ErrorIs(t, paused.Warning, ErrNoRecord)
	})

	t.Run("task lookup", func(t *testing.T) {
		h := newHarness(t)
		h.store.failFind = errStoreDown
		res, err := h.mgr.Start(ctx, StartRequest{UserID: "u1", TaskID: "TG-1", TaskName: "Write report", SessionType: "work"})
		require.NoError(t, err)
		require.ErrorIs(t, res.Warning, errStoreDown)
		require.NotEmpty(t, res.RecordID)
		require.Empty(t, res.TaskRecordID)
	})
}

func TestSessionEndingBeforeRecordLink(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var (
		reset    ResetResult
		resetErr error
	)
	h.store.afterCreateSession = func(rec SessionRecord) {
		h.clock.Advance(2 * time.Minute)
		reset, resetErr = h.mgr.Reset(ctx, rec.SessionID, rec.UserID)
	}

	res, err := h.mgr.Start(ctx, StartRequest{UserID: "u1", TaskID: "TG-1", TaskName: "Write report", SessionType: "work"})
	require.NoError(t, err)
	require.ErrorIs(t, res.Warning, ErrNotFoundOrInvalidState)
	require.NotEmpty(t, res.RecordID)

	require.NoError(t, resetErr)
	require.NoError(t, reset.Warning)
	rec := h.store.session(res.RecordID)
	require.Equal(t, "Cancelled", rec.Status)
	require.True(t, rec.Interrupted)
	require.Equal(t, 2.0, rec.DurationMinutes)
	require.NotNil(t, rec.EndTime)
	require.Zero(t, h.index.Len())
}

func TestNotifierFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("webhook down")

	res := h.start(t, "u1", "TG-1", "Write report")
	h.clock.Advance(time.Minute)
	done, err := h.mgr.Complete(context.Background(), res.SessionID, "u1", true)
	require.NoError(t, err)
	require.NoError(t, done.Warning)
	require.Equal(t, []EventKind{EventStarted, EventCompleted}, h.notifier.kinds())
}

func TestEventsCarrySessionFields(t *testing.T) {
	h := newHarness(t)
	res, err := h.mgr.Start(context.Background(), StartRequest{
		UserID:      "u1",
		UserName:    "Jane Doe",
		TaskID:      "TG-1",
		TaskName:    "Write report",
		SessionType: "work",
		Project:     "pomo",
	})
	require.NoError(t, err)
	h.clock.Advance(90 * time.Second)
	_, err = h.mgr.Pause(context.Background(), res.SessionID, "u1")
	require.NoError(t, err)

	ev := h.notifier.events[1]
	require.Equal(t, EventPaused, ev.Kind)
	require.Equal(t, "Session paused", ev.Label)
	require.Equal(t, res.SessionID, ev.SessionID)
	require.Equal(t, "Jane Doe", ev.UserName)
	require.Equal(t, "pomo", ev.Project)
	require.Equal(t, 1.5, ev.AccumulatedMinutes)
	require.Equal(t, h.clock.Now(), ev.At)
}

func TestConcurrentPausesCountOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res := h.start(t, "u1", "TG-1", "Write report")
	h.clock.Advance(10 * time.Minute)

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.mgr.Pause(ctx, res.SessionID, "u1"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	live, err := h.mgr.Get(ctx, res.SessionID, "u1")
	require.NoError(t, err)
	require.InDelta(t, 10.0, live.AccumulatedMinutes, 1e-9)
}

func TestConcurrentStartsForOneUser(t *testing.T) {
	h := newHarness(t)
	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.mgr.Start(context.Background(), StartRequest{UserID: "u1", TaskID: "TG-1", TaskName: "Write report", SessionType: "work"})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, successes)
	require.Equal(t, 1, h.index.Len())
}

func TestRecorderSeesOutcomes(t *testing.T) {
	h := newHarness(t)
	res := h.start(t, "u1", "TG-1", "Write report")
	_, err := h.mgr.Start(context.Background(), StartRequest{UserID: "u1", TaskID: "TG-1", TaskName: "Write report", SessionType: "work"})
	require.Error(t, err)
	h.clock.Advance(3 * time.Minute)
	_, err = h.mgr.Complete(context.Background(), res.SessionID, "u1", false)
	require.NoError(t, err)

	require.Equal(t, 1, h.recorder.transitions[OpStart])
	require.Equal(t, 1, h.recorder.failures[OpStart])
	require.Equal(t, 1, h.recorder.transitions[OpComplete])
	require.Equal(t, []float64{3}, h.recorder.minutes)
}

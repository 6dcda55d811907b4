// Package nocodb stores task and session records in NocoDB tables through
// its v2 REST API.
package nocodb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/balkashynov/pomo/internal/timer"
)

// ErrInvalidFilterValue is returned for ids that contain where clause syntax.
var ErrInvalidFilterValue = errors.New("value cannot be used in a nocodb filter")

const (
	// filterSyntax holds the characters NocoDB parses inside a where clause.
	filterSyntax = "(),~"
	lookupLimit  = "25"
)

type (
	// Config locates the NocoDB tables.
	Config struct {
		// BaseURL is the NocoDB server, e.g. http://localhost:8080.
		BaseURL string
		// Token is sent in the xc-token header.
		Token         string
		TasksTable    string
		SessionsTable string
		// HTTPClient defaults to a client with a 10s timeout.
		HTTPClient *http.Client
	}

	// Store implements timer.RecordStore on NocoDB.
	Store struct {
		base     string
		token    string
		tasks    string
		sessions string
		http     *http.Client
	}

	// APIError is returned for non-2xx NocoDB responses.
	APIError struct {
		Method     string
		Path       string
		StatusCode int
		Body       string
	}

	taskRow struct {
		ID        int64  `json:"Id,omitempty"`
		TaskID    string `json:"task_id"`
		UserID    string `json:"user_id"`
		TaskName  string `json:"task_name"`
		StartTime string `json:"start_time,omitempty"`
		Status    string `json:"status"`
	}

	sessionRow struct {
		ID              int64   `json:"Id,omitempty"`
		SessionID       string  `json:"session_id"`
		UserID          string  `json:"user_id"`
		TaskID          string  `json:"task_id"`
		SessionType     string  `json:"session_type"`
		StartTime       string  `json:"start_time"`
		EndTime         string  `json:"end_time,omitempty"`
		DurationMinutes float64 `json:"duration_minutes"`
		Status          string  `json:"status"`
		Interrupted     bool    `json:"interrupted"`
	}

	listResponse struct {
		List []taskRow `json:"list"`
	}

	sessionListResponse struct {
		List []sessionRow `json:"list"`
	}

	idResponse struct {
		ID int64 `json:"Id"`
	}
)

func (e *APIError) Error() string {
	return fmt.Sprintf("nocodb %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// New validates cfg and returns a store.
func New(cfg Config) (*Store, error) {
	switch {
	case cfg.BaseURL == "":
		return nil, errors.New("nocodb base url is required")
	case cfg.TasksTable == "":
		return nil, errors.New("nocodb tasks table is required")
	case cfg.SessionsTable == "":
		return nil, errors.New("nocodb sessions table is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Store{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		tasks:    cfg.TasksTable,
		sessions: cfg.SessionsTable,
		http:     client,
	}, nil
}

// FindTaskRecord looks up the task owned by userID.
func (s *Store) FindTaskRecord(ctx context.Context, taskID, userID string) (timer.TaskRecord, error) {
	row, err := s.findTask(ctx, taskID, userID)
	if err != nil {
		return timer.TaskRecord{}, err
	}
	return row.record(), nil
}

// CreateTaskRecord inserts a task row.
func (s *Store) CreateTaskRecord(ctx context.Context, rec timer.TaskRecord) (timer.TaskRecord, error) {
	row := taskRow{
		TaskID:    rec.TaskID,
		UserID:    rec.UserID,
		TaskName:  rec.TaskName,
		StartTime: formatTime(rec.StartTime),
		Status:    rec.Status,
	}
	var out idResponse
	if err := s.do(ctx, http.MethodPost, s.tasks, nil, row, &out); err != nil {
		return timer.TaskRecord{}, err
	}
	rec.RecordID = strconv.FormatInt(out.ID, 10)
	return rec, nil
}

// UpdateTaskStatus sets the status of the task owned by userID.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID, userID, status string) error {
	row, err := s.findTask(ctx, taskID, userID)
	if err != nil {
		return err
	}
	patch := []map[string]any{{"Id": row.ID, "task_id": taskID, "status": status}}
	return s.do(ctx, http.MethodPatch, s.tasks, nil, patch, nil)
}

// CreateSessionRecord inserts a session row.
func (s *Store) CreateSessionRecord(ctx context.Context, rec timer.SessionRecord) (timer.SessionRecord, error) {
	row := sessionRow{
		SessionID:       rec.SessionID,
		UserID:          rec.UserID,
		TaskID:          rec.TaskID,
		SessionType:     rec.SessionType,
		StartTime:       formatTime(rec.StartTime),
		DurationMinutes: rec.DurationMinutes,
		Status:          rec.Status,
		Interrupted:     rec.Interrupted,
	}
	if rec.EndTime != nil {
		row.EndTime = formatTime(*rec.EndTime)
	}
	var out idResponse
	if err := s.do(ctx, http.MethodPost, s.sessions, nil, row, &out); err != nil {
		return timer.SessionRecord{}, err
	}
	rec.RecordID = strconv.FormatInt(out.ID, 10)
	return rec, nil
}

// FindSessionRecord looks up a session row by session id.
func (s *Store) FindSessionRecord(ctx context.Context, sessionID string) (timer.SessionRecord, error) {
	if err := checkFilterValues(sessionID); err != nil {
		return timer.SessionRecord{}, err
	}
	q := url.Values{
		"where": {fmt.Sprintf("(session_id,eq,%s)", sessionID)},
		"limit": {lookupLimit},
	}
	var out sessionListResponse
	if err := s.do(ctx, http.MethodGet, s.sessions, q, nil, &out); err != nil {
		return timer.SessionRecord{}, err
	}
	for _, row := range out.List {
		if row.SessionID == sessionID {
			return row.record(), nil
		}
	}
	return timer.SessionRecord{}, timer.ErrRecordNotFound
}

// UpdateSessionRecord patches the non-nil fields of update.
func (s *Store) UpdateSessionRecord(ctx context.Context, recordID string, update timer.SessionUpdate) error {
	id, err := strconv.ParseInt(recordID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid session record id %q: %w", recordID, timer.ErrRecordNotFound)
	}
	fields := map[string]any{"Id": id}
	if update.Status != "" {
		fields["status"] = update.Status
	}
	if update.EndTime != nil {
		fields["end_time"] = formatTime(*update.EndTime)
	}
	if update.DurationMinutes != nil {
		fields["duration_minutes"] = *update.DurationMinutes
	}
	if update.Interrupted != nil {
		fields["interrupted"] = *update.Interrupted
	}
	return s.do(ctx, http.MethodPatch, s.sessions, nil, []map[string]any{fields}, nil)
}

// Ping lists a single task row to check connectivity and credentials.
func (s *Store) Ping(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, s.tasks, url.Values{"limit": {"1"}}, nil, &listResponse{})
}

// findTask returns the row matching both ids exactly. Values that would change
// the meaning of the where clause are rejected before any request is made.
func (s *Store) findTask(ctx context.Context, taskID, userID string) (taskRow, error) {
	if err := checkFilterValues(taskID, userID); err != nil {
		return taskRow{}, err
	}
	q := url.Values{
		"where": {fmt.Sprintf("(task_id,eq,%s)~and(user_id,eq,%s)", taskID, userID)},
		"limit": {lookupLimit},
	}
	var out listResponse
	if err := s.do(ctx, http.MethodGet, s.tasks, q, nil, &out); err != nil {
		return taskRow{}, err
	}
	for _, row := range out.List {
		if row.TaskID == taskID && row.UserID == userID {
			return row, nil
		}
	}
	return taskRow{}, timer.ErrRecordNotFound
}

func checkFilterValues(values ...string) error {
	for _, v := range values {
		if strings.ContainsAny(v, filterSyntax) {
			return fmt.Errorf("%w: %q", ErrInvalidFilterValue, v)
		}
	}
	return nil
}

func (s *Store) do(ctx context.Context, method, table string, query url.Values, body, out any) error {
	path := "/api/v2/tables/" + url.PathEscape(table) + "/records"
	u := s.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", method, err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("xc-token", s.token)
	}

	log.Debug(ctx, log.KV{K: "nocodb", V: method + " " + path})
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("nocodb %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("nocodb %s %s: %w", method, path, timer.ErrRecordNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode nocodb response: %w", err)
	}
	return nil
}

func (r taskRow) record() timer.TaskRecord {
	rec := timer.TaskRecord{
		RecordID: strconv.FormatInt(r.ID, 10),
		TaskID:   r.TaskID,
		UserID:   r.UserID,
		TaskName: r.TaskName,
		Status:   r.Status,
	}
	if t, err := time.Parse(time.RFC3339Nano, r.StartTime); err == nil {
		rec.StartTime = t
	}
	return rec
}

func (r sessionRow) record() timer.SessionRecord {
	rec := timer.SessionRecord{
		RecordID:        strconv.FormatInt(r.ID, 10),
		SessionID:       r.SessionID,
		UserID:          r.UserID,
		TaskID:          r.TaskID,
		SessionType:     r.SessionType,
		Status:          r.Status,
		DurationMinutes: r.DurationMinutes,
		Interrupted:     r.Interrupted,
	}
	if t, err := time.Parse(time.RFC3339Nano, r.StartTime); err == nil {
		rec.StartTime = t
	}
	if t, err := time.Parse(time.RFC3339Nano, r.EndTime); err == nil {
		rec.EndTime = &t
	}
	return rec
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

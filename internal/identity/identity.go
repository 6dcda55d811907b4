// Package identity resolves the user on whose behalf pomo acts.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTaigaURL is the Taiga API used when none is configured.
const DefaultTaigaURL = "https://api.taiga.io/api/v1"

// ErrUnauthenticated is returned when no identity can be established.
var ErrUnauthenticated = errors.New("authentication required")

type (
	// User is the resolved caller. ID is what sessions are owned by.
	User struct {
		ID   string
		Name string
	}

	// Resolver returns the current user.
	Resolver interface {
		Resolve(ctx context.Context) (User, error)
	}

	// Static resolves to a fixed, configured user.
	Static struct {
		User User
	}

	// Taiga resolves the owner of an API token through GET /users/me.
	Taiga struct {
		baseURL string
		token   string
		http    *http.Client
	}

	taigaUser struct {
		ID       json.Number `json:"id"`
		FullName string      `json:"full_name"`
		Username string      `json:"username"`
	}

	taigaError struct {
		Message string `json:"_error_message"`
	}
)

func (s Static) Resolve(context.Context) (User, error) {
	if strings.TrimSpace(s.User.ID) == "" {
		return User{}, fmt.Errorf("%w: no user id configured", ErrUnauthenticated)
	}
	return s.User, nil
}

// NewTaiga returns a resolver that authenticates token against the Taiga API
// at baseURL, DefaultTaigaURL when empty.
func NewTaiga(baseURL, token string, client *http.Client) *Taiga {
	if baseURL == "" {
		baseURL = DefaultTaigaURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Taiga{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: client}
}

// Resolve maps the Taiga id to User.ID and the full name, or the username
// when the full name is empty, to User.Name.
func (t *Taiga) Resolve(ctx context.Context) (User, error) {
	if t.token == "" {
		return User{}, fmt.Errorf("%w: no taiga token configured", ErrUnauthenticated)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/users/me", nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("taiga: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return User{}, fmt.Errorf("taiga: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := "invalid or expired token"
		var te taigaError
		if json.Unmarshal(body, &te) == nil && te.Message != "" {
			msg = te.Message
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return User{}, fmt.Errorf("%w: %s", ErrUnauthenticated, msg)
		}
		return User{}, fmt.Errorf("taiga: status %d: %s", resp.StatusCode, msg)
	}

	var u taigaUser
	if err := json.Unmarshal(body, &u); err != nil {
		return User{}, fmt.Errorf("taiga: decode user: %w", err)
	}
	if u.ID == "" {
		return User{}, fmt.Errorf("%w: taiga returned no user id", ErrUnauthenticated)
	}
	if _, err := strconv.ParseInt(u.ID.String(), 10, 64); err != nil {
		return User{}, fmt.Errorf("taiga: unexpected user id %q", u.ID)
	}
	name := u.FullName
	if name == "" {
		name = u.Username
	}
	return User{ID: u.ID.String(), Name: name}, nil
}

// Package redisindex keeps live sessions in Redis so that several pomo
// instances share the one-live-session-per-user guarantee.
package redisindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/balkashynov/pomo/internal/timer"
)

type (
	// Index implements timer.LiveIndex on Redis. The user key is claimed with
	// SETNX; session updates run inside WATCH/MULTI and are retried when the
	// watched key changes.
	Index struct {
		rdb        redis.UniversalClient
		prefix     string
		maxRetries int
	}

	// Option configures an Index.
	Option func(*Index)

	getter interface {
		Get(ctx context.Context, key string) *redis.StringCmd
	}
)

const defaultPrefix = "pomo:live"

// WithPrefix sets the key prefix. Defaults to "pomo:live".
func WithPrefix(prefix string) Option {
	return func(x *Index) { x.prefix = prefix }
}

// WithMaxRetries bounds optimistic transaction retries. Defaults to 16.
func WithMaxRetries(n int) Option {
	return func(x *Index) { x.maxRetries = n }
}

// New returns an index backed by rdb.
func New(rdb redis.UniversalClient, opts ...Option) *Index {
	x := &Index{rdb: rdb, prefix: defaultPrefix, maxRetries: 16}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Insert claims the user key and stores the session.
func (x *Index) Insert(ctx context.Context, s timer.Session) error {
	if s.ID == "" || s.UserID == "" {
		return errors.New("session id and user id are required")
	}
	if !s.Status.Live() {
		return fmt.Errorf("cannot index session in status %s", s.Status)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := x.claimUser(ctx, s.UserID, s.ID); err != nil {
		return err
	}

	ok, err := x.rdb.SetNX(ctx, x.sessionKey(s.ID), data, 0).Result()
	if err != nil || !ok {
		x.rdb.Del(context.WithoutCancel(ctx), x.userKey(s.UserID))
		if err != nil {
			return fmt.Errorf("store session %s: %w", s.ID, err)
		}
		return fmt.Errorf("session id %s already in use", s.ID)
	}
	return nil
}

// claimUser sets the user key to sessionID. A claim released between SETNX
// and the read of its owner is claimed again.
func (x *Index) claimUser(ctx context.Context, userID, sessionID string) error {
	key := x.userKey(userID)
	for i := 0; i <= x.maxRetries; i++ {
		ok, err := x.rdb.SetNX(ctx, key, sessionID, 0).Result()
		if err != nil {
			return fmt.Errorf("claim user %s: %w", userID, err)
		}
		if ok {
			return nil
		}
		existing, err := x.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read user %s: %w", userID, err)
		}
		return &timer.DuplicateActiveSessionError{SessionID: existing}
	}
	return fmt.Errorf("claim user %s: gave up after %d attempts", userID, x.maxRetries+1)
}

// Transition applies fn to the stored session inside an optimistic
// transaction. Terminal sessions are removed together with the user claim.
func (x *Index) Transition(ctx context.Context, id string, fn func(*timer.Session) error) (timer.Session, error) {
	key := x.sessionKey(id)
	var out timer.Session
	txf := func(tx *redis.Tx) error {
		cur, err := x.load(ctx, tx, key)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(&next); err != nil {
			return err
		}
		next.ID, next.UserID, next.StartTime = cur.ID, cur.UserID, cur.StartTime

		var data []byte
		if !next.Status.Terminal() {
			if data, err = json.Marshal(next); err != nil {
				return fmt.Errorf("encode session: %w", err)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next.Status.Terminal() {
				pipe.Del(ctx, key, x.userKey(next.UserID))
				return nil
			}
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}

	for range x.maxRetries {
		err := x.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return timer.Session{}, err
		}
		return out, nil
	}
	return timer.Session{}, fmt.Errorf("session %s: too many concurrent updates", id)
}

// Get returns the live session with the given id.
func (x *Index) Get(ctx context.Context, id string) (timer.Session, error) {
	return x.load(ctx, x.rdb, x.sessionKey(id))
}

// FindByUser returns the live session claimed by userID.
func (x *Index) FindByUser(ctx context.Context, userID string) (timer.Session, error) {
	id, err := x.rdb.Get(ctx, x.userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return timer.Session{}, timer.ErrNotFoundOrInvalidState
	}
	if err != nil {
		return timer.Session{}, fmt.Errorf("read user %s: %w", userID, err)
	}
	return x.Get(ctx, id)
}

// Ping checks that Redis is reachable.
func (x *Index) Ping(ctx context.Context) error {
	return x.rdb.Ping(ctx).Err()
}

func (x *Index) load(ctx context.Context, c getter, key string) (timer.Session, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return timer.Session{}, timer.ErrNotFoundOrInvalidState
	}
	if err != nil {
		return timer.Session{}, fmt.Errorf("read %s: %w", key, err)
	}
	var s timer.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return timer.Session{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return s, nil
}

func (x *Index) userKey(userID string) string {
	return x.prefix + ":user:" + userID
}

func (x *Index) sessionKey(id string) string {
	return x.prefix + ":session:" + id
}

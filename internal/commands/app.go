package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"
	"gorm.io/gorm"

	"github.com/balkashynov/pomo/internal/config"
	"github.com/balkashynov/pomo/internal/db"
	"github.com/balkashynov/pomo/internal/identity"
	"github.com/balkashynov/pomo/internal/metrics"
	"github.com/balkashynov/pomo/internal/mongostore"
	"github.com/balkashynov/pomo/internal/nocodb"
	"github.com/balkashynov/pomo/internal/notify"
	"github.com/balkashynov/pomo/internal/redisindex"
	"github.com/balkashynov/pomo/internal/timer"
)

// app holds everything a session command needs
type app struct {
	cfg      *config.Config
	user     identity.User
	manager  *timer.Manager
	recorder *metrics.Recorder
	pingers  map[string]timer.Pinger
	// history is set when records live in the local database
	history *db.RecordStore
	closers []func(context.Context) error
}

// newResolver picks the identity provider from the configuration
func newResolver(cfg *config.Config) identity.Resolver {
	if cfg.Identity.Provider == config.IdentityTaiga {
		return identity.NewTaiga(cfg.Identity.TaigaURL, cfg.Identity.TaigaToken, nil)
	}
	return identity.Static{User: identity.User{ID: cfg.User.ID, Name: cfg.User.Name}}
}

// openApp resolves the caller and wires the record store, live index and
// notifier selected by cfg
func openApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, pingers: map[string]timer.Pinger{}, recorder: metrics.NewRecorder()}
	defer func() {
		if err != nil {
			a.Close(ctx)
		}
	}()

	if a.user, err = newResolver(cfg).Resolve(ctx); err != nil {
		return nil, err
	}

	var sqlite *gorm.DB
	openSQLite := func() (*gorm.DB, error) {
		if sqlite != nil {
			return sqlite, nil
		}
		gdb, err := db.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		sqlite = gdb
		a.closers = append(a.closers, func(context.Context) error { return db.Close(gdb) })
		return gdb, nil
	}

	store, err := a.openStore(ctx, openSQLite)
	if err != nil {
		return nil, err
	}
	index, err := a.openIndex(openSQLite)
	if err != nil {
		return nil, err
	}
	notifier, err := a.openNotifier()
	if err != nil {
		return nil, err
	}

	a.manager, err = timer.NewManager(timer.Options{
		Index:    index,
		Store:    store,
		Notifier: notifier,
		Recorder: a.recorder,
	})
	if err != nil {
		return nil, err
	}
	log.Debug(ctx, log.KV{K: "msg", V: "app ready"}, log.KV{K: "store", V: cfg.Store.Backend}, log.KV{K: "index", V: cfg.Index.Backend}, log.KV{K: "user", V: a.user.ID})
	return a, nil
}

func (a *app) openStore(ctx context.Context, openSQLite func() (*gorm.DB, error)) (timer.RecordStore, error) {
	cfg := a.cfg.Store
	switch cfg.Backend {
	case config.BackendNocoDB:
		s, err := nocodb.New(nocodb.Config{
			BaseURL:       cfg.NocoDB.URL,
			Token:         cfg.NocoDB.Token,
			TasksTable:    cfg.NocoDB.TasksTable,
			SessionsTable: cfg.NocoDB.SessionsTable,
		})
		if err != nil {
			return nil, err
		}
		a.pingers["nocodb"] = s
		return s, nil
	case config.BackendMongo:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Mongo.Timeout)
		defer cancel()
		client, err := mongostore.Connect(connectCtx, cfg.Mongo.URI)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Disconnect)
		s, err := mongostore.New(mongostore.Options{Client: client, Database: cfg.Mongo.Database, Timeout: cfg.Mongo.Timeout})
		if err != nil {
			return nil, err
		}
		a.pingers["mongo"] = s
		return s, nil
	default:
		gdb, err := openSQLite()
		if err != nil {
			return nil, err
		}
		s := db.NewRecordStore(gdb)
		a.history = s
		a.pingers["sqlite"] = s
		return s, nil
	}
}

func (a *app) openIndex(openSQLite func() (*gorm.DB, error)) (timer.LiveIndex, error) {
	cfg := a.cfg.Index
	switch cfg.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		x := redisindex.New(rdb, redisindex.WithPrefix(cfg.Redis.Prefix))
		a.pingers["redis"] = x
		return x, nil
	case config.BackendMemory:
		return timer.NewMemoryIndex(), nil
	default:
		gdb, err := openSQLite()
		if err != nil {
			return nil, err
		}
		return db.NewLiveIndex(gdb), nil
	}
}

func (a *app) openNotifier() (timer.Notifier, error) {
	cfg := a.cfg.Notify
	var next timer.Notifier = notify.Log{}
	if cfg.DiscordWebhook != "" {
		d, err := notify.NewDiscord(cfg.DiscordWebhook, nil)
		if err != nil {
			return nil, err
		}
		next = d
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	dispatcher, err := notify.NewDispatcher(next, cfg.Workers, notify.WithMaxRetries(uint64(retries)))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return dispatcher.Close(ctx)
	})
	return dispatcher, nil
}

// Close flushes pending notifications and releases connections
func (a *app) Close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Error(ctx, fmt.Errorf("close: %w", err))
	}
}

package notify

import (
	"context"

	"goa.design/clue/log"

	"github.com/balkashynov/pomo/internal/timer"
)

// Log writes events to the context logger. It is used when no webhook is
// configured.
type Log struct{}

func (Log) Notify(ctx context.Context, ev timer.Event) error {
	log.Info(ctx,
		log.KV{K: "msg", V: ev.Label},
		log.KV{K: "event", V: string(ev.Kind)},
		log.KV{K: "session", V: ev.SessionID},
		log.KV{K: "user", V: ev.UserID},
		log.KV{K: "task", V: ev.TaskID},
		log.KV{K: "minutes", V: ev.AccumulatedMinutes},
		log.KV{K: "auto", V: ev.Auto},
	)
	return nil
}

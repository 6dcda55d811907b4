package config

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaults registers every key so that environment overrides apply to it
func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("user.id", "")
	v.SetDefault("user.name", "")

	v.SetDefault("identity.provider", IdentityStatic)
	v.SetDefault("identity.taiga_url", "https://api.taiga.io/api/v1")
	v.SetDefault("identity.taiga_token", "")

	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.sqlite_path", "")
	v.SetDefault("store.nocodb.url", "")
	v.SetDefault("store.nocodb.token", "")
	v.SetDefault("store.nocodb.tasks_table", "")
	v.SetDefault("store.nocodb.sessions_table", "")
	v.SetDefault("store.mongo.uri", "")
	v.SetDefault("store.mongo.database", "pomo")
	v.SetDefault("store.mongo.timeout", 5*time.Second)

	v.SetDefault("index.backend", BackendSQLite)
	v.SetDefault("index.redis.addr", "")
	v.SetDefault("index.redis.password", "")
	v.SetDefault("index.redis.db", 0)
	v.SetDefault("index.redis.prefix", "pomo:live")

	v.SetDefault("notify.discord_webhook", "")
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.max_retries", 3)

	v.SetDefault("focus.minutes", 25)
	v.SetDefault("focus.metrics_addr", "")
}

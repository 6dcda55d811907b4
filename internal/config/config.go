package config

import "time"

// Backends
const (
	BackendSQLite = "sqlite"
	BackendNocoDB = "nocodb"
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
	BackendMemory = "memory"

	IdentityStatic = "static"
	IdentityTaiga  = "taiga"
)

// Config represents the full pomo configuration
type Config struct {
	// Debug enables debug logs
	Debug bool `yaml:"debug" mapstructure:"debug"`

	// User is the identity used by the static provider
	User UserConfig `yaml:"user" mapstructure:"user"`

	// Identity selects how the caller is resolved
	Identity IdentityConfig `yaml:"identity" mapstructure:"identity"`

	// Store selects the system of record for tasks and sessions
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Index selects where live sessions are kept
	Index IndexConfig `yaml:"index" mapstructure:"index"`

	// Notify configures lifecycle notifications
	Notify NotifyConfig `yaml:"notify" mapstructure:"notify"`

	// Focus configures the focus command
	Focus FocusConfig `yaml:"focus" mapstructure:"focus"`
}

// UserConfig holds the static identity
type UserConfig struct {
	ID   string `yaml:"id" mapstructure:"id"`
	Name string `yaml:"name" mapstructure:"name"`
}

// IdentityConfig configures identity resolution
type IdentityConfig struct {
	Provider   string `yaml:"provider" mapstructure:"provider"`
	TaigaURL   string `yaml:"taiga_url" mapstructure:"taiga_url"`
	TaigaToken string `yaml:"taiga_token" mapstructure:"taiga_token"`
}

// StoreConfig configures the record store
type StoreConfig struct {
	Backend    string       `yaml:"backend" mapstructure:"backend"`
	SQLitePath string       `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	NocoDB     NocoDBConfig `yaml:"nocodb" mapstructure:"nocodb"`
	Mongo      MongoConfig  `yaml:"mongo" mapstructure:"mongo"`
}

// NocoDBConfig locates the NocoDB tables
type NocoDBConfig struct {
	URL           string `yaml:"url" mapstructure:"url"`
	Token         string `yaml:"token" mapstructure:"token"`
	TasksTable    string `yaml:"tasks_table" mapstructure:"tasks_table"`
	SessionsTable string `yaml:"sessions_table" mapstructure:"sessions_table"`
}

// MongoConfig locates the MongoDB database
type MongoConfig struct {
	URI      string        `yaml:"uri" mapstructure:"uri"`
	Database string        `yaml:"database" mapstructure:"database"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// IndexConfig configures the live session index
type IndexConfig struct {
	Backend string      `yaml:"backend" mapstructure:"backend"`
	Redis   RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig locates the Redis server
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// NotifyConfig configures notifications
type NotifyConfig struct {
	DiscordWebhook string `yaml:"discord_webhook" mapstructure:"discord_webhook"`
	Workers        int    `yaml:"workers" mapstructure:"workers"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// FocusConfig configures the focus command
type FocusConfig struct {
	Minutes     int    `yaml:"minutes" mapstructure:"minutes"`
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
}

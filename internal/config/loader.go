// Package config loads pomo settings from ~/.pomo/config.yaml and POMO_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. POMO_USER_ID.
const EnvPrefix = "POMO"

// Load reads the configuration file at path, or the global config file when
// path is empty, and applies environment overrides. A missing global file is
// not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = GlobalConfigPath()
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = filepath.Join(PomoPath(), "pomo.db")
	}
	if cfg.User.ID == "" {
		cfg.User.ID = os.Getenv("USER")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend names and the settings each backend needs
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendSQLite:
	case BackendNocoDB:
		if c.Store.NocoDB.URL == "" || c.Store.NocoDB.TasksTable == "" || c.Store.NocoDB.SessionsTable == "" {
			errs = append(errs, errors.New("store.nocodb needs url, tasks_table and sessions_table"))
		}
	case BackendMongo:
		if c.Store.Mongo.URI == "" {
			errs = append(errs, errors.New("store.mongo.uri is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q (use sqlite, nocodb or mongo)", c.Store.Backend))
	}

	switch c.Index.Backend {
	case BackendSQLite, BackendMemory:
	case BackendRedis:
		if c.Index.Redis.Addr == "" {
			errs = append(errs, errors.New("index.redis.addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown index backend %q (use sqlite, redis or memory)", c.Index.Backend))
	}

	switch c.Identity.Provider {
	case IdentityStatic, IdentityTaiga:
	default:
		errs = append(errs, fmt.Errorf("unknown identity provider %q (use static or taiga)", c.Identity.Provider))
	}

	if c.Focus.Minutes <= 0 {
		errs = append(errs, errors.New("focus.minutes must be positive"))
	}
	return errors.Join(errs...)
}

// GlobalConfigPath returns the path to the global config file
func GlobalConfigPath() string {
	return filepath.Join(PomoPath(), "config.yaml")
}

// PomoPath returns the path to the pomo directory
func PomoPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pomo")
}

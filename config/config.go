// Package config loads batchq configuration from layered sources.
//
// Precedence, highest first:
//  1. Command-line flags (--workers 4)
//  2. Environment variables (BATCHQ_MAX_WORKERS=4)
//  3. YAML config file
//  4. Defaults
//
// Environment variables drop the BATCHQ_ prefix and are lowercased; a
// double underscore separates nested keys:
//
//	BATCHQ_MAX_WORKERS  -> max_workers
//	BATCHQ_LOG__LEVEL   -> log.level
//	BATCHQ_REDIS__ADDR  -> redis.addr
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/xraph/batch"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "BATCHQ_"

// Config is the full configuration of the batchq command.
type Config struct {
	batch.Config `koanf:",squash"`

	Log   LogConfig   `koanf:"log"`
	Redis RedisConfig `koanf:"redis"`
	Audit AuditConfig `koanf:"audit"`
}

// LogConfig controls the command's logger.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `koanf:"level"`
	// File additionally receives JSON logs when set.
	File string `koanf:"file"`
}

// RedisConfig selects a Redis checkpoint store instead of the state
// directory. An empty Addr keeps the file store.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	Namespace string `koanf:"namespace"`
}

// AuditConfig enables the job audit trail.
type AuditConfig struct {
	// File receives one JSON line per job lifecycle event when set.
	File string `koanf:"file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Config: batch.DefaultConfig(),
		Log:    LogConfig{Level: "info"},
		Redis:  RedisConfig{Namespace: "default"},
	}
}

// DefaultMap flattens Default into koanf keys for the confmap provider.
func DefaultMap() map[string]any {
	def := Default()
	return map[string]any{
		"max_workers":      def.MaxWorkers,
		"state_dir":        def.StateDir,
		"auto_save":        def.AutoSave,
		"enable_recovery":  def.EnableRecovery,
		"progress_history": def.ProgressHistory,
		"max_retry_delay":  def.MaxRetryDelay,
		"shutdown_timeout": def.ShutdownTimeout,
		"event_buffer":     def.EventBuffer,
		"patterns_file":    def.PatternsFile,

		"log.level": def.Log.Level,
		"log.file":  def.Log.File,

		"redis.addr":      def.Redis.Addr,
		"redis.password":  def.Redis.Password,
		"redis.db":        def.Redis.DB,
		"redis.namespace": def.Redis.Namespace,

		"audit.file": def.Audit.File,
	}
}

// flagKeys maps flag names to configuration keys. Flags missing from
// the table are not configuration.
var flagKeys = map[string]string{
	"workers":      "max_workers",
	"state-dir":    "state_dir",
	"no-autosave":  "auto_save",
	"no-recovery":  "enable_recovery",
	"patterns":     "patterns_file",
	"log-level":    "log.level",
	"log-file":     "log.file",
	"redis-addr":   "redis.addr",
	"redis-ns":     "redis.namespace",
	"max-retry":    "max_retry_delay",
	"shutdown-in":  "shutdown_timeout",
	"history-size": "progress_history",
	"audit-file":   "audit.file",
}

// negated flags store the inverse of their configuration key.
var negated = map[string]bool{
	"no-autosave": true,
	"no-recovery": true,
}

// BindFlags defines the configuration flags on fs.
func BindFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.IntP("workers", "w", def.MaxWorkers, "number of concurrent workers")
	fs.String("state-dir", def.StateDir, "directory for recovery checkpoints")
	fs.Bool("no-autosave", false, "only checkpoint on shutdown")
	fs.Bool("no-recovery", false, "disable session checkpoints")
	fs.String("patterns", "", "YAML file replacing the built-in error patterns")
	fs.String("log-level", def.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-file", "", "also write JSON logs to this file")
	fs.String("redis-addr", "", "keep checkpoints in Redis at this address")
	fs.String("redis-ns", def.Redis.Namespace, "Redis checkpoint namespace")
	fs.Duration("max-retry", def.MaxRetryDelay, "cap on the retry backoff")
	fs.Duration("shutdown-in", def.ShutdownTimeout, "how long shutdown waits for running jobs")
	fs.Int("history-size", def.ProgressHistory, "completed-job durations kept for statistics")
	fs.String("audit-file", "", "append a JSON line per job event to this file")
}

// Load merges the defaults, the YAML file at path (if path is not
// empty), the environment and the changed flags of fs (if not nil), then
// validates the result.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(DefaultMap(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config: load environment: %w", err)
	}
	if fs != nil {
		p := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			v := posflag.FlagVal(fs, f)
			if negated[f.Name] {
				b, _ := v.(bool)
				return key, !b
			}
			return key, v
		})
		if err := k.Load(p, nil); err != nil {
			return Config{}, fmt.Errorf("config: load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks the manager settings and the command settings.
func (c Config) Validate() error {
	var errs []error
	if err := c.Config.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Redis.Addr != "" && c.Redis.Namespace == "" {
		errs = append(errs, errors.New("config: redis.namespace must not be empty"))
	}
	return errors.Join(errs...)
}

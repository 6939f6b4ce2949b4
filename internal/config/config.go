package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/hexanator/internal/auth"
	"github.com/loykin/hexanator/internal/cron"
	"github.com/loykin/hexanator/internal/env"
	"github.com/loykin/hexanator/internal/logger"
	"github.com/loykin/hexanator/internal/probe"
	hxtls "github.com/loykin/hexanator/internal/tls"
)

// EnvPrefix prefixes environment overrides, e.g. HEXANATOR_LEDGER_DSN.
const EnvPrefix = "HEXANATOR"

// Config is the complete runtime configuration shared by the supervisor,
// the recorder child and the control API.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger" mapstructure:"ledger"`
	DataDir  string         `toml:"data_dir" mapstructure:"data_dir"`
	Host     string         `toml:"host" mapstructure:"host"`
	Health   HealthConfig   `toml:"health" mapstructure:"health"`
	Backoff  probe.Schedule `toml:"backoff" mapstructure:"backoff"`
	Stop     StopConfig     `toml:"stop" mapstructure:"stop"`
	Log      LogConfig      `toml:"log" mapstructure:"log"`
	History  HistoryConfig  `toml:"history" mapstructure:"history"`
	Server   ServerConfig   `toml:"server" mapstructure:"server"`
	Metrics  MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	Env      []string       `toml:"env" mapstructure:"env"`
	EnvFiles []string       `toml:"env_files" mapstructure:"env_files"`
	// ReconcileJobs are run by `hexanator serve` on their schedules.
	ReconcileJobs []ReconcileJobConfig `toml:"reconcile_jobs" mapstructure:"reconcile_jobs"`
}

type LedgerConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type HealthConfig struct {
	Path    string        `toml:"path" mapstructure:"path"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type StopConfig struct {
	Grace    time.Duration `toml:"grace" mapstructure:"grace"`
	KillWait time.Duration `toml:"kill_wait" mapstructure:"kill_wait"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	File       string `toml:"file" mapstructure:"file"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type HistoryConfig struct {
	// DSN is one sink DSN or a comma separated list.
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen   string        `toml:"listen" mapstructure:"listen"`
	BasePath string        `toml:"base_path" mapstructure:"base_path"`
	TLS      hxtls.Options `toml:"tls" mapstructure:"tls"`
	Auth     auth.Config   `toml:"auth" mapstructure:"auth"`
}

type ReconcileJobConfig struct {
	Name     string `toml:"name" mapstructure:"name"`
	Schedule string `toml:"schedule" mapstructure:"schedule"`
	File     string `toml:"file" mapstructure:"file"`
	URLDir   string `toml:"url_dir" mapstructure:"url_dir"`
}

// Job converts the entry into a schedulable job.
func (r ReconcileJobConfig) Job() *cron.Job {
	return &cron.Job{Name: r.Name, Schedule: r.Schedule, File: r.File, URLDir: r.URLDir}
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
	// Listen serves /metrics on its own address; empty mounts it on the control API.
	Listen string `toml:"listen" mapstructure:"listen"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ledger.dsn", "sqlite:///tmp/server.db")
	v.SetDefault("data_dir", "/tmp/server.data")
	v.SetDefault("host", "localhost")
	v.SetDefault("health.path", probe.DefaultHealthPath)
	v.SetDefault("health.timeout", probe.DefaultHealthTimeout)
	v.SetDefault("backoff.initial", probe.DefaultInitialDelay)
	v.SetDefault("backoff.max", probe.DefaultMaxDelay)
	v.SetDefault("backoff.factor", probe.DefaultFactor)
	v.SetDefault("stop.grace", time.Second)
	v.SetDefault("stop.kill_wait", time.Second)
	v.SetDefault("log.level", logger.LevelInfo)
	v.SetDefault("log.format", logger.FormatText)
	v.SetDefault("log.color", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("server.auth.username", "")
	v.SetDefault("server.auth.password_hash", "")
	v.SetDefault("server.auth.jwt_secret", "")
	v.SetDefault("server.auth.token_ttl", auth.DefaultTokenTTL)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	cfg, err := Load("")
	if err != nil {
		// defaults alone always decode
		panic(err)
	}
	return cfg
}

// Load reads the optional TOML file at path, applies HEXANATOR_* environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the supervisor cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Ledger.DSN) == "" {
		errs = append(errs, errors.New("ledger.dsn is empty"))
	}
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data_dir is empty"))
	}
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host is empty"))
	}
	if !strings.HasPrefix(c.Health.Path, "/") {
		errs = append(errs, fmt.Errorf("health.path %q must start with /", c.Health.Path))
	}
	for key, d := range map[string]time.Duration{
		"health.timeout":  c.Health.Timeout,
		"backoff.initial": c.Backoff.Initial,
		"backoff.max":     c.Backoff.Max,
		"stop.grace":      c.Stop.Grace,
		"stop.kill_wait":  c.Stop.KillWait,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}
	if c.Backoff.Max < c.Backoff.Initial {
		errs = append(errs, fmt.Errorf("backoff.max %s is below backoff.initial %s", c.Backoff.Max, c.Backoff.Initial))
	}
	if c.Backoff.Factor < 1 {
		errs = append(errs, fmt.Errorf("backoff.factor must be >= 1, got %v", c.Backoff.Factor))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case logger.FormatText, logger.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if c.Server.Auth.Enabled && (c.Server.Auth.Username == "" || c.Server.Auth.PasswordHash == "") {
		errs = append(errs, errors.New("server.auth requires username and password_hash"))
	}
	if c.Server.TLS.Enabled && c.Server.TLS.Dir == "" && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires cert_file and key_file, or dir"))
	}
	for _, j := range c.ReconcileJobs {
		if err := j.Job().Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logger converts the log section into a logger configuration.
func (c Config) Logger() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      c.Log.Level,
			Format:     c.Log.Format,
			Color:      c.Log.Color,
			TimeStamps: true,
		},
		File: logger.FileConfig{
			Dir:        c.Log.Dir,
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// HistoryDSNs splits History.DSN into individual sink DSNs.
func (c Config) HistoryDSNs() []string {
	var out []string
	for _, d := range strings.Split(c.History.DSN, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// ChildEnv returns the environment for launched servers, or nil to inherit
// the supervisor's environment unchanged.
func (c Config) ChildEnv() ([]string, error) {
	if len(c.Env) == 0 && len(c.EnvFiles) == 0 {
		return nil, nil
	}
	return env.Compose(os.Environ(), c.EnvFiles, c.Env)
}

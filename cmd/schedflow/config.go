package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/rendis/schedflow/internal/engine"
)

// Config holds all schedflow process configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	ListenAddr        string   `json:"listen_addr"`
	DBPath            string   `json:"db_path"`
	LogLevel          string   `json:"log_level"`
	PoolSize          int      `json:"pool_size"`
	MaxDelay          Duration `json:"max_delay"`
	MaxSteps          int      `json:"max_steps"`
	SchedulerInterval Duration `json:"scheduler_interval"`
	OTLPEndpoint      string   `json:"otlp_endpoint"`
	ServiceName       string   `json:"service_name"`
}

// Duration reads "30s"-style strings or integer nanoseconds from JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", b)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func defaultConfig() Config {
	return Config{
		ListenAddr:        ":4100",
		DBPath:            filepath.Join(schedflowDir(), "schedflow.db"),
		LogLevel:          "info",
		PoolSize:          4,
		MaxDelay:          Duration(engine.DefaultMaxDelay),
		MaxSteps:          engine.DefaultMaxSteps,
		SchedulerInterval: Duration(time.Second),
		ServiceName:       "schedflow",
	}
}

func schedflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".schedflow"
	}
	return filepath.Join(home, ".schedflow")
}

func settingsPath() string {
	return filepath.Join(schedflowDir(), "settings.json")
}

// loadConfig layers defaults, the settings file and SCHEDFLOW_* variables.
// A missing settings file is not an error; a malformed one is.
func loadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if v := getenv("SCHEDFLOW_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("SCHEDFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("SCHEDFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("SCHEDFLOW_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := getenv("SCHEDFLOW_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MaxDelay = Duration(d)
		}
	}
	if v := getenv("SCHEDFLOW_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSteps = n
		}
	}
	if v := getenv("SCHEDFLOW_SCHEDULER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SchedulerInterval = Duration(d)
		}
	}
	if v := getenv("SCHEDFLOW_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := getenv("SCHEDFLOW_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}

	return cfg, nil
}

// applyFlags overrides cfg with every global flag the user set explicitly.
func applyFlags(cfg *Config, cmd *cli.Command) {
	if cmd.IsSet("listen") {
		cfg.ListenAddr = cmd.String("listen")
	}
	if cmd.IsSet("db") {
		cfg.DBPath = cmd.String("db")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("pool-size") {
		cfg.PoolSize = cmd.Int("pool-size")
	}
	if cmd.IsSet("max-delay") {
		cfg.MaxDelay = Duration(cmd.Duration("max-delay"))
	}
	if cmd.IsSet("max-steps") {
		cfg.MaxSteps = cmd.Int("max-steps")
	}
	if cmd.IsSet("otlp-endpoint") {
		cfg.OTLPEndpoint = cmd.String("otlp-endpoint")
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "Path to settings.json", Value: settingsPath()},
		&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "HTTP listen address"},
		&cli.StringFlag{Name: "db", Usage: "Path to the libSQL database file"},
		&cli.StringFlag{Name: "log-level", Usage: "Log level (debug, info, warn, error)"},
		&cli.IntFlag{Name: "pool-size", Usage: "Concurrent scheduled runs"},
		&cli.DurationFlag{Name: "max-delay", Usage: "Longest delay a node may sleep"},
		&cli.IntFlag{Name: "max-steps", Usage: "Step ceiling per run"},
		&cli.StringFlag{Name: "otlp-endpoint", Usage: "OTLP/HTTP collector, empty disables tracing"},
	}
}

// dbURL turns a file path into the DSN go-libsql expects.
func dbURL(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path
}

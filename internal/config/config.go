package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the anomaly engine.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Alarm   AlarmConfig   `yaml:"alarm"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Export  ExportConfig  `yaml:"export"`
	Cache   CacheConfig   `yaml:"cache"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AlertsConfig controls rule-pack loading.
type AlertsConfig struct {
	Path string `yaml:"path"`
}

// AlarmConfig selects the alarm backend and shapes registration churn.
// Backend is one of "timer" (in-process), "remote" (gRPC alarm daemon)
// or "none".
type AlarmConfig struct {
	Backend          string        `yaml:"backend"`
	MinUpdateTimeSec uint32        `yaml:"minUpdateTimeSec"`
	RemoteAddress    string        `yaml:"remoteAddress"`
	RemoteTimeout    time.Duration `yaml:"remoteTimeout"`
	CatchUpInterval  time.Duration `yaml:"catchUpInterval"`
}

// IngestConfig points the engine at its event source. Path "-" reads
// JSONL events from stdin.
type IngestConfig struct {
	Path string `yaml:"path"`
}

// ExportConfig controls the JSON anomaly export stream. An empty path
// disables the exporter.
type ExportConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls Valkey-backed persistence of refractory windows.
type CacheConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Addr              string        `yaml:"addr"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	DB                int           `yaml:"db"`
	DialTimeout       time.Duration `yaml:"dialTimeout"`
	ReadTimeout       time.Duration `yaml:"readTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	MaxRetries        int           `yaml:"maxRetries"`
	TLS               bool          `yaml:"tls"`
	RefractoryTimeout time.Duration `yaml:"refractoryTimeout"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_ANOMALY_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Alerts:  AlertsConfig{Path: "configs/alerts/default.yaml"},
		Alarm: AlarmConfig{
			Backend:          "timer",
			MinUpdateTimeSec: 5,
			RemoteTimeout:    2 * time.Second,
			CatchUpInterval:  time.Second,
		},
		Ingest: IngestConfig{Path: "-"},
		Cache: CacheConfig{
			Enabled:           false,
			DialTimeout:       2 * time.Second,
			ReadTimeout:       500 * time.Millisecond,
			WriteTimeout:      500 * time.Millisecond,
			MaxRetries:        2,
			RefractoryTimeout: 500 * time.Millisecond,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_ANOMALY_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_ANOMALY_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_ANOMALY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_ANOMALY_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_ANOMALY_ALERTS_PATH"); v != "" {
		cfg.Alerts.Path = v
	}
	if v := os.Getenv("MIRADOR_ANOMALY_ALARM_BACKEND"); v != "" {
		cfg.Alarm.Backend = v
	}
	if v := os.Getenv("MIRADOR_ANOMALY_ALARM_MIN_UPDATE_SEC"); v != "" {
		if sec, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Alarm.MinUpdateTimeSec = uint32(sec)
		}
	}
	if v := os.Getenv("MIRADOR_ANOMALY_ALARM_REMOTE_ADDRESS"); v != "" {
		cfg.Alarm.RemoteAddress = v
	}
	if v := os.Getenv("MIRADOR_ANOMALY_ALARM_REMOTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alarm.RemoteTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_ANOMALY_ALARM_CATCH_UP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alarm.CatchUpInterval = d
		}
	}
	if v := os.Getenv("MIRADOR_ANOMALY_INGEST_PATH"); v != "" {
		cfg.Ingest.Path = v
	}
	if v := os.Getenv("MIRADOR_ANOMALY_EXPORT_PATH"); v != "" {
		cfg.Export.Path = v
	}
	if v := os.Getenv("MIRADOR_ANOMALY_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_ANOMALY_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_ANOMALY_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_ANOMALY_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_ANOMALY_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_ANOMALY_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("MIRADOR_ANOMALY_CACHE_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.DialTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_ANOMALY_CACHE_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ReadTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_ANOMALY_CACHE_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.WriteTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_ANOMALY_CACHE_MAX_RETRIES"); v != "" {
		if retry, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxRetries = retry
		}
	}
	if v := os.Getenv("MIRADOR_ANOMALY_CACHE_REFRACTORY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.RefractoryTimeout = d
		}
	}
}

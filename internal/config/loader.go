package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "sentinel.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SENTINEL_PORT")
	setString(&cfg.Server.CORSOrigin, "SENTINEL_CORS_ORIGIN")
	setString(&cfg.Server.AdminTokenHash, "SENTINEL_ADMIN_TOKEN_HASH")

	setString(&cfg.Logging.Level, "SENTINEL_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SENTINEL_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SENTINEL_LOG_ASYNC")
	setInt(&cfg.Logging.QueueSize, "SENTINEL_LOG_QUEUE_SIZE")

	setInt(&cfg.Bus.QueueSize, "SENTINEL_BUS_QUEUE_SIZE")
	setInt(&cfg.Bus.HistorySize, "SENTINEL_BUS_HISTORY_SIZE")

	setDuration(&cfg.Agents.Sensor.Interval, "SENTINEL_SENSOR_INTERVAL")
	setDuration(&cfg.Agents.Analyzer.Interval, "SENTINEL_ANALYZER_INTERVAL")
	setDuration(&cfg.Agents.Remediator.Interval, "SENTINEL_REMEDIATOR_INTERVAL")
	setDuration(&cfg.Agents.Communicator.Interval, "SENTINEL_COMMUNICATOR_INTERVAL")

	setDuration(&cfg.Supervisor.HealthInterval, "SENTINEL_HEALTH_INTERVAL")
	setDuration(&cfg.Supervisor.HeartbeatThreshold, "SENTINEL_HEARTBEAT_THRESHOLD")
	setDuration(&cfg.Supervisor.BackoffBase, "SENTINEL_BACKOFF_BASE")
	setDuration(&cfg.Supervisor.BackoffCap, "SENTINEL_BACKOFF_CAP")
	setInt(&cfg.Supervisor.MaxRestarts, "SENTINEL_MAX_RESTARTS")
	setDuration(&cfg.Supervisor.ShutdownGrace, "SENTINEL_SHUTDOWN_GRACE")

	setString(&cfg.Decision.LLM.URL, "SENTINEL_LLM_URL")
	setString(&cfg.Decision.LLM.Model, "SENTINEL_LLM_MODEL")
	setDuration(&cfg.Decision.LLM.Timeout, "SENTINEL_LLM_TIMEOUT")
	setInt(&cfg.Decision.LLM.RetryAttempts, "SENTINEL_LLM_RETRIES")
	setDuration(&cfg.Decision.LLM.RetryDelay, "SENTINEL_LLM_RETRY_DELAY")
	setInt(&cfg.Decision.RateLimit, "SENTINEL_DECISION_RATE_LIMIT")
	setDuration(&cfg.Decision.RateWindow, "SENTINEL_DECISION_RATE_WINDOW")
	setInt(&cfg.Decision.Breaker.MaxFailures, "SENTINEL_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Decision.Breaker.Timeout, "SENTINEL_BREAKER_TIMEOUT")
	setInt(&cfg.Decision.TripAfter, "SENTINEL_DECISION_TRIP_AFTER")
	setDuration(&cfg.Decision.ProbeInterval, "SENTINEL_DECISION_PROBE_INTERVAL")
	setInt64(&cfg.Decision.CacheSizeMB, "SENTINEL_DECISION_CACHE_SIZE_MB")
	setDuration(&cfg.Decision.CacheTTL, "SENTINEL_DECISION_CACHE_TTL")

	setDuration(&cfg.Safety.Cooldown, "SENTINEL_SAFETY_COOLDOWN")
	setInt(&cfg.Safety.MaxConcurrent, "SENTINEL_SAFETY_MAX_CONCURRENT")
	setInt(&cfg.Safety.MaxAttempts, "SENTINEL_SAFETY_MAX_ATTEMPTS")
	setDuration(&cfg.Safety.ExecuteTimeout, "SENTINEL_SAFETY_EXECUTE_TIMEOUT")

	setFloat64(&cfg.Thresholds.CPUWarning, "SENTINEL_CPU_WARNING")
	setFloat64(&cfg.Thresholds.CPUCritical, "SENTINEL_CPU_CRITICAL")
	setFloat64(&cfg.Thresholds.MemoryWarning, "SENTINEL_MEMORY_WARNING")
	setFloat64(&cfg.Thresholds.MemoryCritical, "SENTINEL_MEMORY_CRITICAL")
	setFloat64(&cfg.Thresholds.DiskWarning, "SENTINEL_DISK_WARNING")
	setFloat64(&cfg.Thresholds.DiskCritical, "SENTINEL_DISK_CRITICAL")

	setList(&cfg.Monitor.Mounts, "SENTINEL_MONITOR_MOUNTS")
	setList(&cfg.Monitor.Services, "SENTINEL_MONITOR_SERVICES")

	setBool(&cfg.Postgres.Enabled, "SENTINEL_PG_ENABLED")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SENTINEL_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SENTINEL_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SENTINEL_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SENTINEL_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SENTINEL_PG_HEALTH_CHECK")

	setBool(&cfg.NATS.Enabled, "SENTINEL_NATS_ENABLED")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "SENTINEL_NATS_SUBJECT_PREFIX")

	setBool(&cfg.Telemetry.Enabled, "SENTINEL_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set and internally consistent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Bus.QueueSize < 1 {
		return errors.New("bus.queue_size must be >= 1")
	}
	if cfg.Bus.HistorySize < 1 {
		return errors.New("bus.history_size must be >= 1")
	}
	if cfg.Supervisor.BackoffBase <= 0 {
		return errors.New("supervisor.backoff_base must be > 0")
	}
	if cfg.Supervisor.BackoffCap < cfg.Supervisor.BackoffBase {
		return errors.New("supervisor.backoff_cap must be >= backoff_base")
	}
	if cfg.Supervisor.MaxRestarts < 1 {
		return errors.New("supervisor.max_restarts must be >= 1")
	}
	if len(cfg.Decision.Providers) == 0 {
		return errors.New("decision.providers must not be empty")
	}
	if cfg.Decision.Breaker.MaxFailures < 1 {
		return errors.New("decision.breaker.max_failures must be >= 1")
	}
	if cfg.Decision.RateLimit < 1 {
		return errors.New("decision.rate_limit must be >= 1")
	}
	if cfg.Safety.MaxConcurrent < 1 {
		return errors.New("safety.max_concurrent must be >= 1")
	}
	if cfg.Safety.MaxAttempts < 1 {
		return errors.New("safety.max_attempts must be >= 1")
	}
	if cfg.Postgres.Enabled && cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required when postgres.enabled")
	}
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return errors.New("nats.url is required when nats.enabled")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

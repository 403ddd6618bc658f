package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// recognizedKeys is the full environment-key surface the core
// understands. Anything else bearing one of recognizedPrefixes is
// logged as a warning by Load, never rejected.
var recognizedKeys = map[string]bool{
	"WORKER_CAPACITY":                   true,
	"WORKER_TIMEOUT_SECONDS":            true,
	"WORKER_MAX_RETRIES":                true,
	"WORKER_RETRY_BACKOFF_SECONDS":      true,
	"WORKER_HEARTBEAT_INTERVAL_SECONDS": true,
	"WORKER_DEAD_TIMEOUT_SECONDS":       true,
	"TASK_DEFAULT_PRIORITY":             true,
	"SCHEDULER_POLL_INTERVAL":           true,
	"DLQ_ENABLED":                       true,
	"BREAKER_FAILURE_THRESHOLD":         true,
	"BREAKER_RECOVERY_TIMEOUT":          true,
}

var recognizedPrefixes = []string{"WORKER_", "TASK_", "SCHEDULER_", "DLQ_", "BREAKER_"}

// Config is the fully-resolved set of defaults handed to the
// constructors of worker.Controller, retry.Config, scheduler.Config
// and breaker.Registry.
type Config struct {
	WorkerCapacity          int
	WorkerTimeoutSeconds    int
	WorkerMaxRetries        uint32
	RetryBackoffSeconds     int
	HeartbeatInterval       time.Duration
	WorkerDeadTimeout       time.Duration
	TaskDefaultPriority     int
	SchedulerPollInterval   time.Duration
	DLQEnabled              bool
	BreakerFailureThreshold uint32
	BreakerRecoveryTimeout  time.Duration
}

func defaults() *Config {
	return &Config{
		WorkerCapacity:          4,
		WorkerTimeoutSeconds:    300,
		WorkerMaxRetries:        3,
		RetryBackoffSeconds:     1,
		HeartbeatInterval:       10 * time.Second,
		WorkerDeadTimeout:       60 * time.Second,
		TaskDefaultPriority:     5,
		SchedulerPollInterval:   60 * time.Second,
		DLQEnabled:              true,
		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  30 * time.Second,
	}
}

// Load reads the recognized environment keys into a Config, falling
// back to defaults() for anything unset, and logs a warning for any
// environment variable that looks like it belongs to this surface
// (shares one of the recognized prefixes) but is not a name the core
// understands.
func Load(log *slog.Logger) *Config {
	v := viper.New()
	for key := range recognizedKeys {
		_ = v.BindEnv(key)
	}

	cfg := defaults()
	if v.IsSet("WORKER_CAPACITY") {
		cfg.WorkerCapacity = v.GetInt("WORKER_CAPACITY")
	}
	if v.IsSet("WORKER_TIMEOUT_SECONDS") {
		cfg.WorkerTimeoutSeconds = v.GetInt("WORKER_TIMEOUT_SECONDS")
	}
	if v.IsSet("WORKER_MAX_RETRIES") {
		cfg.WorkerMaxRetries = uint32(v.GetInt("WORKER_MAX_RETRIES"))
	}
	if v.IsSet("WORKER_RETRY_BACKOFF_SECONDS") {
		cfg.RetryBackoffSeconds = v.GetInt("WORKER_RETRY_BACKOFF_SECONDS")
	}
	if v.IsSet("WORKER_HEARTBEAT_INTERVAL_SECONDS") {
		cfg.HeartbeatInterval = time.Duration(v.GetInt("WORKER_HEARTBEAT_INTERVAL_SECONDS")) * time.Second
	}
	if v.IsSet("WORKER_DEAD_TIMEOUT_SECONDS") {
		cfg.WorkerDeadTimeout = time.Duration(v.GetInt("WORKER_DEAD_TIMEOUT_SECONDS")) * time.Second
	}
	if v.IsSet("TASK_DEFAULT_PRIORITY") {
		cfg.TaskDefaultPriority = v.GetInt("TASK_DEFAULT_PRIORITY")
	}
	if v.IsSet("SCHEDULER_POLL_INTERVAL") {
		cfg.SchedulerPollInterval = time.Duration(v.GetInt("SCHEDULER_POLL_INTERVAL")) * time.Second
	}
	if v.IsSet("DLQ_ENABLED") {
		cfg.DLQEnabled = v.GetBool("DLQ_ENABLED")
	}
	if v.IsSet("BREAKER_FAILURE_THRESHOLD") {
		cfg.BreakerFailureThreshold = uint32(v.GetInt("BREAKER_FAILURE_THRESHOLD"))
	}
	if v.IsSet("BREAKER_RECOVERY_TIMEOUT") {
		cfg.BreakerRecoveryTimeout = time.Duration(v.GetInt("BREAKER_RECOVERY_TIMEOUT")) * time.Second
	}

	warnUnrecognized(log)
	return cfg
}

// warnUnrecognized scans the process environment for variables that
// share a recognized prefix but are not themselves a recognized key,
// logging one warning per such variable. It never causes Load to fail.
func warnUnrecognized(log *slog.Logger) {
	if log == nil {
		return
	}
	for _, kv := range os.Environ() {
		name, _, found := strings.Cut(kv, "=")
		if !found || recognizedKeys[name] {
			continue
		}
		for _, prefix := range recognizedPrefixes {
			if strings.HasPrefix(name, prefix) {
				log.Warn("unrecognized configuration key", "key", name)
				break
			}
		}
	}
}

// Package config loads the environment-key surface recognized by the
// core into the literal config structs each component already takes
// (worker.SweepConfig, retry.Config, scheduler.Config, breaker
// defaults). No component parses the environment itself, the way the
// teacher's WorkerConfig/BackoffConfig/CleanConfig are always built by
// the caller; this package is that caller for deployments driven by
// environment variables, via github.com/spf13/viper.
//
// Unknown keys are warned about via the injected logger, never
// rejected: an operator rolling forward with a newer key than this
// build recognizes should not be blocked.
package config

// Package config loads the tunables the MVCC engine, its WAL, and its
// storage layer need at startup, following the teacher's flat
// Config-struct-plus-LoadFromEnv pattern (originally config/config.go)
// narrowed to the knobs this engine actually has.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the engine's full runtime configuration.
type Config struct {
	Transaction TransactionConfig `yaml:"transaction"`
	WAL         WALConfig         `yaml:"wal"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// TransactionConfig governs isolation, locking, deadlock detection and GC
// (components C, E, F, and the old-version sweep in §4).
type TransactionConfig struct {
	DefaultIsolation string        `yaml:"default_isolation" env:"MVCC_DEFAULT_ISOLATION"`
	LockTimeout      time.Duration `yaml:"lock_timeout" env:"MVCC_LOCK_TIMEOUT"`
	DeadlockInterval time.Duration `yaml:"deadlock_check_interval" env:"MVCC_DEADLOCK_CHECK_INTERVAL"`
	GCSweepInterval  time.Duration `yaml:"gc_sweep_interval" env:"MVCC_GC_SWEEP_INTERVAL"`
	SchedulerWorkers int           `yaml:"scheduler_workers" env:"MVCC_SCHEDULER_WORKERS"`
	YieldEveryNRows  int           `yaml:"yield_every_n_rows" env:"MVCC_YIELD_EVERY_N_ROWS"`
}

// WALConfig governs the redo-log collaborator the engine calls Append/Sync
// on at commit time (§4.C); the engine never replays it (out of scope, see
// the Non-goals this repo carries forward).
type WALConfig struct {
	Dir          string        `yaml:"dir" env:"MVCC_WAL_DIR"`
	SyncMode     string        `yaml:"sync_mode" env:"MVCC_WAL_SYNC_MODE"`
	SyncInterval time.Duration `yaml:"sync_interval" env:"MVCC_WAL_SYNC_INTERVAL"`
	BufferBytes  int           `yaml:"buffer_bytes" env:"MVCC_WAL_BUFFER_BYTES"`
}

// StorageConfig governs the ordered-map backing store and its value codec.
type StorageConfig struct {
	Codec      string `yaml:"codec" env:"MVCC_STORAGE_CODEC"`
	BufferSize int64  `yaml:"buffer_size" env:"MVCC_STORAGE_BUFFER_SIZE"`
}

// LoggingConfig is the ambient fmt/log-based logging surface (the teacher
// repo has no structured logging dependency to carry forward, see
// DESIGN.md).
type LoggingConfig struct {
	Level  string `yaml:"level" env:"MVCC_LOG_LEVEL"`
	Output string `yaml:"output" env:"MVCC_LOG_OUTPUT"`
}

// DefaultConfig returns a configuration with sane defaults for local use and
// for the demo binary.
func DefaultConfig() *Config {
	return &Config{
		Transaction: TransactionConfig{
			DefaultIsolation: "read_committed",
			LockTimeout:      5 * time.Second,
			DeadlockInterval: 200 * time.Millisecond,
			GCSweepInterval:  30 * time.Second,
			SchedulerWorkers: 8,
			YieldEveryNRows:  128,
		},
		WAL: WALConfig{
			Dir:          "./wal",
			SyncMode:     "fsync",
			SyncInterval: 5 * time.Millisecond,
			BufferBytes:  64 * 1024,
		},
		Storage: StorageConfig{
			Codec:      "snappy",
			BufferSize: 64 * 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
	}
}

// LoadFromEnv overlays environment variables onto c, matching the teacher's
// convention of one MVCC_* variable per field.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("MVCC_DEFAULT_ISOLATION"); v != "" {
		c.Transaction.DefaultIsolation = v
	}
	if v := os.Getenv("MVCC_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Transaction.LockTimeout = d
		}
	}
	if v := os.Getenv("MVCC_DEADLOCK_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Transaction.DeadlockInterval = d
		}
	}
	if v := os.Getenv("MVCC_GC_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Transaction.GCSweepInterval = d
		}
	}
	if v := os.Getenv("MVCC_SCHEDULER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Transaction.SchedulerWorkers = n
		}
	}
	if v := os.Getenv("MVCC_YIELD_EVERY_N_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Transaction.YieldEveryNRows = n
		}
	}

	if v := os.Getenv("MVCC_WAL_DIR"); v != "" {
		c.WAL.Dir = v
	}
	if v := os.Getenv("MVCC_WAL_SYNC_MODE"); v != "" {
		c.WAL.SyncMode = v
	}
	if v := os.Getenv("MVCC_WAL_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.WAL.SyncInterval = d
		}
	}
	if v := os.Getenv("MVCC_WAL_BUFFER_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WAL.BufferBytes = n
		}
	}

	if v := os.Getenv("MVCC_STORAGE_CODEC"); v != "" {
		c.Storage.Codec = v
	}
	if v := os.Getenv("MVCC_STORAGE_BUFFER_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Storage.BufferSize = n
		}
	}

	if v := os.Getenv("MVCC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MVCC_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}

	return nil
}

// Validate checks that the configuration is internally consistent before
// the engine starts.
func (c *Config) Validate() error {
	if _, err := ParseIsolation(c.Transaction.DefaultIsolation); err != nil {
		return err
	}
	if c.Transaction.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive")
	}
	if c.Transaction.SchedulerWorkers <= 0 {
		return fmt.Errorf("scheduler workers must be positive")
	}
	if c.Transaction.YieldEveryNRows <= 0 {
		return fmt.Errorf("yield_every_n_rows must be positive")
	}
	if c.WAL.Dir == "" {
		return fmt.Errorf("wal directory cannot be empty")
	}
	switch strings.ToLower(c.WAL.SyncMode) {
	case "fsync", "interval", "none":
	default:
		return fmt.Errorf("invalid wal sync mode: %q", c.WAL.SyncMode)
	}
	return nil
}

// ParseIsolation maps a config string onto an IsolationLevel value (kept as
// a plain int here so this package has no import dependency on mvcc; the
// mvcc package converts it to its own IsolationLevel type).
func ParseIsolation(s string) (int, error) {
	switch strings.ToLower(s) {
	case "read_uncommitted":
		return 0, nil
	case "read_committed":
		return 1, nil
	case "repeatable_read":
		return 2, nil
	case "serializable":
		return 3, nil
	default:
		return 0, fmt.Errorf("invalid isolation level: %q", s)
	}
}

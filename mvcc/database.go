package mvcc

import (
	"fmt"

	"mvccdb/config"
	"mvccdb/storage"
	"mvccdb/wal"
)

// Database is the top-level handle a caller opens once per process (§6
// Upward interfaces). It wires the Engine to a WAL manager and a default
// value codec chosen from config, and owns the engine's background GC
// sweep for the lifetime of the process.
//
// Grounded on the teacher's DefaultTransactionManager construction in
// transaction/manager.go and cmd/mantisDB/main.go's wiring of manager +
// storage + config into one entry point.
type Database struct {
	cfg    *config.Config
	engine *Engine
	codec  storage.Codec
}

// Open builds a Database from cfg: a WAL manager (file-backed unless
// cfg.WAL.SyncMode is "none", in which case a no-op manager is used), the
// value codec named in cfg.Storage.Codec, and an Engine sized to
// cfg.Transaction.SchedulerWorkers and cfg.Transaction.YieldEveryNRows. It
// starts the periodic old-version GC sweep and the periodic deadlock sweep
// (cfg.Transaction.DeadlockInterval) immediately.
func Open(cfg *config.Config) (*Database, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	codec, err := storage.CodecByName(cfg.Storage.Codec)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var walMgr wal.Manager
	if cfg.WAL.SyncMode == "none" {
		walMgr = wal.NewNoopManager()
	} else {
		fileCfg := wal.DefaultFileManagerConfig()
		fileCfg.WALDir = cfg.WAL.Dir
		fileCfg.SyncInterval = cfg.WAL.SyncInterval
		fileCfg.BufferSize = cfg.WAL.BufferBytes
		switch cfg.WAL.SyncMode {
		case "fsync":
			fileCfg.SyncMode = wal.SyncModeSync
		case "interval":
			fileCfg.SyncMode = wal.SyncModeAsync
		default:
			fileCfg.SyncMode = wal.SyncModeBatch
		}
		fm, err := wal.NewFileManager(fileCfg)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		walMgr = fm
	}

	engine := NewEngine(walMgr, cfg.Transaction.SchedulerWorkers, cfg.Transaction.YieldEveryNRows)
	engine.StartGC(cfg.Transaction.GCSweepInterval)
	engine.scheduler.startDeadlockSweep(cfg.Transaction.DeadlockInterval)

	return &Database{cfg: cfg, engine: engine, codec: codec}, nil
}

// DefaultIsolation returns the isolation level configured as this
// database's default for Begin calls that don't override it.
func (db *Database) DefaultIsolation() IsolationLevel {
	n, err := config.ParseIsolation(db.cfg.Transaction.DefaultIsolation)
	if err != nil {
		return ReadCommitted
	}
	return IsolationLevel(n)
}

// Begin starts a new transaction at the database's default isolation
// level. autoCommit controls whether Commit requests a synchronous redo-log
// flush (§4.C).
func (db *Database) Begin(autoCommit bool) *Transaction {
	return db.engine.Begin(db.DefaultIsolation(), autoCommit)
}

// BeginWithIsolation starts a new transaction at an explicit isolation
// level, overriding the database's default.
func (db *Database) BeginWithIsolation(isolation IsolationLevel, autoCommit bool) *Transaction {
	return db.engine.Begin(isolation, autoCommit)
}

// NewSession wraps txn in a Session bound to the database's configured lock
// timeout, ready to be driven by Execute.
func (db *Database) NewSession(txn *Transaction) *Session {
	return NewSession(txn, db.cfg.Transaction.LockTimeout)
}

// Execute drives y to completion on behalf of sess through the database's
// scheduler (component G/§5) and returns when the statement finishes. The
// calling goroutine blocks until then; while the statement is parked on a
// row-lock conflict it holds no scheduler worker slot.
func (db *Database) Execute(sess *Session, y *Yieldable) error {
	return db.engine.scheduler.Drive(sess, y)
}

// Codec returns the value-compression codec this database was opened with.
func (db *Database) Codec() storage.Codec { return db.codec }

// Close stops the GC sweep and closes the WAL manager.
func (db *Database) Close() error {
	db.engine.Close()
	if db.engine.wal != nil {
		return db.engine.wal.Close()
	}
	return nil
}

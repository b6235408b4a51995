package mvcc

import "mvccdb/wal"

// walCommitRecord builds the redo-log record the core appends at the
// prepare-commit moment (§4.C step 3). The core never writes row payloads
// to the log itself — the storage layer's own write path is responsible
// for that; the core only needs the log to know a transaction committed at
// a given timestamp, so recovery can replay up to it. CommitTS is a
// dedicated WALEntry field (wal/entry.go) rather than smuggled through the
// Operation payload, since a commit record carries no key/value to log.
func walCommitRecord(txnID, commitTS uint64) *wal.WALEntry {
	return &wal.WALEntry{
		TxnID:    txnID,
		CommitTS: commitTS,
		Operation: wal.Operation{
			Type: wal.OpCommit,
		},
	}
}

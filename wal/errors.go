package wal

import "errors"

// Sentinel errors the redo-log surface can return. Narrowed to the three
// this package can actually produce: DeserializeWALEntry returns the first
// two, and FileManager.Append (see DESIGN.md) wraps ErrWALWriteFailed;
// the rotation/retention/corruption-recovery errors the teacher's fuller
// WAL carried (file-full, corrupted, not-found, rotation, cleanup, bad LSN)
// have no caller left once that machinery was dropped as out of scope.
var (
	ErrInvalidWALEntry  = errors.New("invalid WAL entry format")
	ErrChecksumMismatch = errors.New("WAL entry checksum mismatch")
	ErrWALWriteFailed   = errors.New("failed to write to WAL")
)

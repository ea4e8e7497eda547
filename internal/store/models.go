// Package store implements the Recording Store: durable persistence of
// recordings in an embedded SQL database with forward-only schema
// migrations and zstd-compressed MIDI blobs.
package store

import (
	"errors"
	"time"
)

// RecordingID identifies a recording row. It is stable for the lifetime of
// the row.
type RecordingID int64

// RecordingInfo is a recording's metadata, without the MIDI payload.
type RecordingInfo struct {
	ID            RecordingID
	Name          string
	CreatedAt     time.Time
	LengthSeconds float64
	NoteCount     int
}

// ErrNotFound is returned when an operation references a RecordingID that
// does not exist.
var ErrNotFound = errors.New("store: recording not found")

// ErrSchemaTooNew is returned by Open when the on-disk database's migration
// version exceeds the version this build knows how to read.
var ErrSchemaTooNew = errors.New("store: database schema is newer than this build supports")

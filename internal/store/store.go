package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	_ "modernc.org/sqlite"

	"autorec/internal/midi"
)

// Store is the Recording Store of spec §4.3: a connection pool over an
// embedded SQL database holding zstd-compressed MIDI blobs plus metadata.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (creating if necessary) autorec.db inside dir, migrates it to
// the latest schema, and returns a ready Store. dir must already exist.
func Open(ctx context.Context, dir string, log *zap.Logger) (*Store, error) {
	dbPath := filepath.Join(dir, "autorec.db")

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(DELETE)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one file handle

	if err := migrate(ctx, db, dbPath, dir, log); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertRecording serializes events to a Standard MIDI File, compresses it,
// derives duration and note count, and persists it as a new row.
func (s *Store) InsertRecording(ctx context.Context, events []midi.TimedEvent) (RecordingInfo, error) {
	raw, err := midi.EncodeSMF(events)
	if err != nil {
		return RecordingInfo{}, fmt.Errorf("store: encode recording: %w", err)
	}

	decoded, err := midi.DecodeSMF(raw)
	if err != nil {
		return RecordingInfo{}, fmt.Errorf("store: verify encoded recording: %w", err)
	}

	compressed, err := compress(raw)
	if err != nil {
		return RecordingInfo{}, fmt.Errorf("store: compress recording: %w", err)
	}

	createdAt := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings (created_at, name, midi, length_seconds, note_count) VALUES (?, '', ?, ?, ?)`,
		createdAt.Format(time.RFC3339), compressed, decoded.LengthSeconds, decoded.NoteCount)
	if err != nil {
		return RecordingInfo{}, fmt.Errorf("store: insert recording: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return RecordingInfo{}, fmt.Errorf("store: read inserted id: %w", err)
	}

	return RecordingInfo{
		ID:            RecordingID(id),
		Name:          "",
		CreatedAt:     createdAt,
		LengthSeconds: decoded.LengthSeconds,
		NoteCount:     decoded.NoteCount,
	}, nil
}

// GetRecordingInfos lists every recording's metadata, newest first.
func (s *Store) GetRecordingInfos(ctx context.Context) ([]RecordingInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at, length_seconds, note_count FROM recordings ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: query recordings: %w", err)
	}
	defer rows.Close()

	var infos []RecordingInfo
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan recording: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// GetRecordingInfoByID fetches one recording's metadata.
func (s *Store) GetRecordingInfoByID(ctx context.Context, id RecordingID) (RecordingInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, length_seconds, note_count FROM recordings WHERE id = ?`, id)
	info, err := scanInfo(row)
	if err == sql.ErrNoRows {
		return RecordingInfo{}, ErrNotFound
	}
	if err != nil {
		return RecordingInfo{}, fmt.Errorf("store: query recording %d: %w", id, err)
	}
	return info, nil
}

// GetRecordingMIDI fetches and decompresses a recording's raw SMF bytes.
// Decompression failure indicates the stored blob is corrupt, a data
// invariant violation rather than a recoverable condition.
func (s *Store) GetRecordingMIDI(ctx context.Context, id RecordingID) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT midi FROM recordings WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query midi for %d: %w", id, err)
	}

	raw, err := decompress(blob)
	if err != nil {
		panic(fmt.Sprintf("store: corrupt midi blob for recording %d: %v", id, err))
	}
	return raw, nil
}

// DeleteRecordingByID removes a recording. ErrNotFound if no row matched.
func (s *Store) DeleteRecordingByID(ctx context.Context, id RecordingID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete recording %d: %w", id, err)
	}
	return requireRowsAffected(res)
}

// RenameRecordingByID renames a recording; newName may be empty.
// ErrNotFound if no row matched.
func (s *Store) RenameRecordingByID(ctx context.Context, id RecordingID, newName string) (RecordingInfo, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE recordings SET name = ? WHERE id = ?`, newName, id)
	if err != nil {
		return RecordingInfo{}, fmt.Errorf("store: rename recording %d: %w", id, err)
	}
	if err := requireRowsAffected(res); err != nil {
		return RecordingInfo{}, err
	}
	return s.GetRecordingInfoByID(ctx, id)
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanInfo(row scannable) (RecordingInfo, error) {
	var (
		id            int64
		name          string
		createdAtText string
		lengthSeconds float64
		noteCount     int64
	)
	if err := row.Scan(&id, &name, &createdAtText, &lengthSeconds, &noteCount); err != nil {
		return RecordingInfo{}, err
	}
	createdAt, err := time.Parse(time.RFC3339, createdAtText)
	if err != nil {
		return RecordingInfo{}, fmt.Errorf("parse created_at %q: %w", createdAtText, err)
	}
	return RecordingInfo{
		ID:            RecordingID(id),
		Name:          name,
		CreatedAt:     createdAt,
		LengthSeconds: lengthSeconds,
		NoteCount:     int(noteCount),
	}, nil
}

// zstdLevel is compression level 5.
var zstdLevel = zstd.EncoderLevelFromZstd(5)

func compress(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

func decompress(blob []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(blob, nil)
}

// prependTempo inserts an explicit canonical Tempo meta-event at the head of
// a legacy SMF's first track, which relied on the format's implicit default
// tempo. The resulting bytes are re-serialized from scratch, matching the
// layout EncodeSMF produces.
func prependTempo(raw []byte) ([]byte, error) {
	s, err := smf.ReadFrom(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read legacy smf: %w", err)
	}
	if len(s.Tracks) == 0 {
		return nil, fmt.Errorf("legacy smf has no tracks")
	}

	var track smf.Track
	track.Add(0, smf.MetaTempo(float64(midi.BPM)))
	for _, ev := range s.Tracks[0] {
		if isEndOfTrack(ev.Message) {
			continue
		}
		track.Add(ev.Delta, ev.Message)
	}
	track.Close(0)

	out := smf.New()
	out.TimeFormat = smf.MetricTicks(midi.PPQ)
	if err := out.Add(track); err != nil {
		return nil, fmt.Errorf("rebuild smf: %w", err)
	}

	var buf bytes.Buffer
	if _, err := out.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write smf: %w", err)
	}
	return buf.Bytes(), nil
}

func isEndOfTrack(msg gomidi.Message) bool {
	return len(msg) >= 2 && msg[0] == 0xFF && msg[1] == 0x2F
}

package store

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"autorec/internal/midi"
)

// writeLegacyMIDIFile writes a pre-v1 .mid file: no explicit Tempo
// meta-event, the format's implicit default tempo was relied upon.
func writeLegacyMIDIFile(t *testing.T, dir, name string, totalTicks uint32) {
	t.Helper()

	var track smf.Track
	track.Add(0, gomidi.NoteOn(0, 60, 100))
	track.Add(totalTicks, gomidi.NoteOff(0, 60))
	track.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(midi.PPQ)
	require.NoError(t, s.Add(track))

	var buf bytes.Buffer
	_, err := s.WriteTo(&buf)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644))
}

// TestMigrationsBringLegacyDataForward exercises a fresh data directory
// containing one legacy *.mid file through all three migrations in a
// single Open call, mirroring what happens the first time this build runs
// against an old install.
func TestMigrationsBringLegacyDataForward(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeLegacyMIDIFile(t, dir, "20240101-000000.mid", 192)

	s, err := Open(ctx, dir, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	infos, err := s.GetRecordingInfos(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)

	info := infos[0]
	assert.Equal(t, "", info.Name)
	assert.Equal(t, 1, info.NoteCount)
	// v1 stores the length the pre-v2 formula produced (1.25 s for 192
	// ticks); v2's 96/120 correction then yields the canonical 192/192 = 1.0.
	assert.InDelta(t, 1.0, info.LengthSeconds, 1e-9)

	raw, err := s.GetRecordingMIDI(ctx, info.ID)
	require.NoError(t, err)
	decoded, err := midi.DecodeSMF(raw)
	require.NoError(t, err)
	assert.Len(t, decoded.Events, 2)

	var version sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM migrations`)
	require.NoError(t, row.Scan(&version))
	assert.True(t, version.Valid)
	assert.Equal(t, int64(latestSchemaVersion), version.Int64)

	// The legacy file itself is left on disk; only the filename column is
	// dropped from the table.
	_, err = os.Stat(filepath.Join(dir, "20240101-000000.mid"))
	assert.NoError(t, err)
}

func TestMigrationsAreIdempotentOnReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeLegacyMIDIFile(t, dir, "20240101-000000.mid", 192)

	s1, err := Open(ctx, dir, zap.NewNop())
	require.NoError(t, err)
	s1.Close()

	entriesAfterFirst, err := os.ReadDir(dir)
	require.NoError(t, err)
	backupCountAfterFirst := countBackupFiles(entriesAfterFirst)

	s2, err := Open(ctx, dir, zap.NewNop())
	require.NoError(t, err)
	defer s2.Close()

	infos, err := s2.GetRecordingInfos(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.InDelta(t, 1.0, infos[0].LengthSeconds, 1e-9)

	entriesAfterSecond, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, backupCountAfterFirst, countBackupFiles(entriesAfterSecond),
		"reopening an already-migrated database must not take new backups")
}

func countBackupFiles(entries []os.DirEntry) int {
	n := 0
	for _, e := range entries {
		if bytes.Contains([]byte(e.Name()), []byte("autorec.db.v")) {
			n++
		}
	}
	return n
}

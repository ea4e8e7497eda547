package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"autorec/internal/midi"
	"autorec/internal/store"
)

func notesEvents(notes ...uint8) []midi.TimedEvent {
	var events []midi.TimedEvent
	var tick uint32
	for _, n := range notes {
		events = append(events, midi.TimedEvent{Timestamp: tick, Payload: midi.NewNoteOn(0, n, 100)})
		tick += 1
		events = append(events, midi.TimedEvent{Timestamp: tick, Payload: midi.NewNoteOff(0, n)})
		tick += 1
	}
	return events
}

func TestClassifyRecordingGroupsByNameAndSortsDescending(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	// Two recordings named "X" (same notes as the query, so a perfect
	// match once grouped) and one named "Y" (disjoint notes, orthogonal
	// histogram).
	query, err := st.InsertRecording(ctx, notesEvents(60, 62, 64))
	require.NoError(t, err)

	x1, err := st.InsertRecording(ctx, notesEvents(60, 62))
	require.NoError(t, err)
	_, err = st.RenameRecordingByID(ctx, x1.ID, "X")
	require.NoError(t, err)

	x2, err := st.InsertRecording(ctx, notesEvents(64))
	require.NoError(t, err)
	_, err = st.RenameRecordingByID(ctx, x2.ID, "X")
	require.NoError(t, err)

	y, err := st.InsertRecording(ctx, notesEvents(1, 2, 3))
	require.NoError(t, err)
	_, err = st.RenameRecordingByID(ctx, y.ID, "Y")
	require.NoError(t, err)

	// An unnamed recording must be excluded entirely.
	_, err = st.InsertRecording(ctx, notesEvents(60))
	require.NoError(t, err)

	c := &Coordinator{store: st}
	results, err := c.ClassifyRecording(ctx, query.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "X", results[0].Name)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9, "grouped X histogram exactly matches the query")
	assert.Equal(t, "Y", results[1].Name)
	assert.Less(t, results[1].Score, results[0].Score)
}

func TestClassifyRecordingExcludesZeroMagnitudeGroups(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	query, err := st.InsertRecording(ctx, notesEvents(60))
	require.NoError(t, err)

	// A named recording with no NoteOn events at all (e.g. only control
	// changes) has a zero-magnitude histogram; its cosine similarity is
	// 0/0 = NaN and must be filtered out, not reported as a score.
	silent, err := st.InsertRecording(ctx, []midi.TimedEvent{
		{Timestamp: 0, Payload: midi.NewControlChange(0, 64, 127)},
	})
	require.NoError(t, err)
	_, err = st.RenameRecordingByID(ctx, silent.ID, "silent")
	require.NoError(t, err)

	c := &Coordinator{store: st}
	results, err := c.ClassifyRecording(ctx, query.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestClassifyRecordingTieBreaksByNameAscending(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	query, err := st.InsertRecording(ctx, notesEvents(60, 62))
	require.NoError(t, err)

	b, err := st.InsertRecording(ctx, notesEvents(60, 62))
	require.NoError(t, err)
	_, err = st.RenameRecordingByID(ctx, b.ID, "B")
	require.NoError(t, err)

	a, err := st.InsertRecording(ctx, notesEvents(60, 62))
	require.NoError(t, err)
	_, err = st.RenameRecordingByID(ctx, a.ID, "A")
	require.NoError(t, err)

	c := &Coordinator{store: st}
	results, err := c.ClassifyRecording(ctx, query.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "A", results[0].Name)
	assert.Equal(t, "B", results[1].Name)
}

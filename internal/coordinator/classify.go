package coordinator

import (
	"context"
	"fmt"
	"math"
	"sort"

	"autorec/internal/midi"
	"autorec/internal/store"
)

// Similarity is one entry of ClassifyRecording's result: a named group of
// recordings and its cosine similarity to the queried recording's NoteOn
// histogram.
type Similarity struct {
	Name  string
	Score float64
}

const histogramBins = 128

type histogram [histogramBins]float64

// ClassifyRecording computes a 128-bin NoteOn-key histogram for id and for
// every other named recording (grouped by name, id excluded from its own
// group), then returns each group's cosine similarity to id sorted by
// descending score.
func (c *Coordinator) ClassifyRecording(ctx context.Context, id store.RecordingID) ([]Similarity, error) {
	query, err := c.noteHistogram(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("coordinator: classify %d: %w", id, err)
	}

	infos, err := c.store.GetRecordingInfos(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: classify %d: %w", id, err)
	}

	groups := make(map[string]*histogram)
	for _, info := range infos {
		if info.Name == "" || info.ID == id {
			continue
		}
		h, err := c.noteHistogram(ctx, info.ID)
		if err != nil {
			return nil, fmt.Errorf("coordinator: classify %d: %w", id, err)
		}
		g, ok := groups[info.Name]
		if !ok {
			g = &histogram{}
			groups[info.Name] = g
		}
		for i := range g {
			g[i] += h[i]
		}
	}

	var results []Similarity
	for name, g := range groups {
		score := cosineSimilarity(query, *g)
		if math.IsNaN(score) {
			continue // zero-magnitude histogram: no meaningful direction to compare
		}
		results = append(results, Similarity{Name: name, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Name < results[j].Name // deterministic tie-break
	})

	return results, nil
}

func (c *Coordinator) noteHistogram(ctx context.Context, id store.RecordingID) (histogram, error) {
	raw, err := c.store.GetRecordingMIDI(ctx, id)
	if err != nil {
		return histogram{}, err
	}
	decoded, err := midi.DecodeSMF(raw)
	if err != nil {
		return histogram{}, err
	}

	var h histogram
	for _, evt := range decoded.Events {
		if evt.Payload.Kind == midi.NoteOn {
			h[evt.Payload.Note]++
		}
	}
	return h, nil
}

func cosineSimilarity(a, b histogram) float64 {
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

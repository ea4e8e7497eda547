package midi

import (
	"bytes"
	"errors"
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// ErrEmptyRecording is returned by EncodeSMF when given zero events; a
// recording with no events never reaches the Recording Store.
var ErrEmptyRecording = errors.New("midi: recording has no events")

// EncodeSMF serializes a captured event sequence into a standard MIDI file,
// prefixed with the canonical tempo meta-event so playback at 120 BPM / 96
// PPQ matches the wall-clock durations the events were captured with.
func EncodeSMF(events []TimedEvent) ([]byte, error) {
	if len(events) == 0 {
		return nil, ErrEmptyRecording
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(PPQ)

	var track smf.Track
	track.Add(0, smf.MetaTempo(float64(BPM)))

	var lastTick uint32
	for _, evt := range events {
		delta := evt.Timestamp - lastTick
		track.Add(delta, encodeMessage(evt.Payload))
		lastTick = evt.Timestamp
	}
	track.Close(0)

	if err := s.Add(track); err != nil {
		return nil, fmt.Errorf("midi: build smf track: %w", err)
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("midi: write smf: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodedRecording is the result of decoding a standard MIDI file: its
// events plus the derived length and note count the Recording Store
// persists alongside the blob.
type DecodedRecording struct {
	Events       []TimedEvent
	LengthSeconds float64
	NoteCount     int
}

// DecodeSMF parses a standard MIDI file previously produced by EncodeSMF (or
// a legacy recording carrying the same tempo convention) back into a
// sequence of timed events.
func DecodeSMF(data []byte) (*DecodedRecording, error) {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("midi: read smf: %w", err)
	}

	var events []TimedEvent
	var noteCount int
	var maxTick uint32

	for _, track := range s.Tracks {
		var currentTick uint32
		for _, ev := range track {
			currentTick += ev.Delta

			var channel, note, velocity, controller, value uint8
			switch {
			case ev.Message.GetNoteOn(&channel, &note, &velocity):
				events = append(events, TimedEvent{Timestamp: currentTick, Payload: NewNoteOn(channel, note, velocity)})
				noteCount++
			case ev.Message.GetNoteOff(&channel, &note, &velocity):
				events = append(events, TimedEvent{Timestamp: currentTick, Payload: NewNoteOff(channel, note)})
			case ev.Message.GetControlChange(&channel, &controller, &value):
				events = append(events, TimedEvent{Timestamp: currentTick, Payload: NewControlChange(channel, controller, value)})
			default:
				continue
			}
			if currentTick > maxTick {
				maxTick = currentTick
			}
		}
	}

	return &DecodedRecording{
		Events:        events,
		LengthSeconds: TicksToSeconds(maxTick),
		NoteCount:     noteCount,
	}, nil
}

func encodeMessage(evt Event) gomidi.Message {
	switch evt.Kind {
	case NoteOn:
		return gomidi.NoteOn(evt.Channel, evt.Note, evt.Velocity)
	case NoteOff:
		return gomidi.NoteOff(evt.Channel, evt.Note)
	case ControlChange:
		return gomidi.ControlChange(evt.Channel, evt.Controller, evt.Value)
	default:
		panic(fmt.Sprintf("midi: unhandled event kind %v", evt.Kind))
	}
}

// buildGMResetSMF builds a one-track standard MIDI file whose only event is
// the General MIDI reset SysEx message, used by Player to flush a canceled
// playback.
func buildGMResetSMF() []byte {
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(PPQ)

	var track smf.Track
	track.Add(0, gomidi.SysEx(GMReset))
	track.Close(0)
	_ = s.Add(track)

	var buf bytes.Buffer
	_, _ = s.WriteTo(&buf)
	return buf.Bytes()
}

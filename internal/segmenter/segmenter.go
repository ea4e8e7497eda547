// Package segmenter splits a single device's continuous MIDI stream into
// discrete songs, the Recording Segmenter of spec §4.2.
//
// The original implementation ended a song after a flat 5-second silence in
// the event stream. That is wrong whenever the silence is a held chord or a
// depressed sustain pedal: no new events arrive, yet the player has not
// stopped playing. This segmenter instead tracks which keys and sustain
// pedals are currently down and only starts the idle countdown once the
// keyboard itself is at rest, falling back to a hard ceiling so a stuck key
// can never pin a song open forever.
package segmenter

import (
	"context"
	"time"

	"autorec/internal/midi"
)

// IdleTimeout is how long the keyboard must be at rest before a song ends.
const IdleTimeout = 5 * time.Second

// MaxIdlePeriods bounds how many consecutive IdleTimeout windows a song may
// survive while the keyboard reports itself as not-at-rest (held notes,
// latched sustain). This guards against a stuck key or a pedal that never
// reports its release, which would otherwise keep a song open indefinitely.
const MaxIdlePeriods = 6

// sustainThreshold is the CC64 (damper pedal) value at and above which the
// pedal is considered down.
const sustainThreshold = 64

type noteKey struct {
	channel uint8
	note    uint8
}

// KeyboardState tracks which keys are currently held and which channels have
// their sustain pedal latched, the information needed to tell genuine
// silence apart from a sustained chord.
type KeyboardState struct {
	pressed map[noteKey]struct{}
	sustain map[uint8]struct{}
}

// NewKeyboardState returns an at-rest KeyboardState.
func NewKeyboardState() *KeyboardState {
	return &KeyboardState{
		pressed: make(map[noteKey]struct{}),
		sustain: make(map[uint8]struct{}),
	}
}

// Update folds one event into the state.
func (k *KeyboardState) Update(evt midi.Event) {
	switch evt.Kind {
	case midi.NoteOn:
		k.pressed[noteKey{evt.Channel, evt.Note}] = struct{}{}
	case midi.NoteOff:
		delete(k.pressed, noteKey{evt.Channel, evt.Note})
	case midi.ControlChange:
		if evt.Controller != 64 {
			return
		}
		if evt.Value >= sustainThreshold {
			k.sustain[evt.Channel] = struct{}{}
		} else {
			delete(k.sustain, evt.Channel)
		}
	}
}

// IsIdle reports whether no keys are held and no channel has its sustain
// pedal latched.
func (k *KeyboardState) IsIdle() bool {
	return len(k.pressed) == 0 && len(k.sustain) == 0
}

// Song is one complete recording: its events, timestamps normalized so the
// first event of the song is at tick 0.
type Song struct {
	Events []midi.TimedEvent
}

// Source is the subset of *midi.Recorder the segmenter depends on, so tests
// can supply a fake.
type Source interface {
	Next() (*midi.TimedEvent, error)
}

// Segmenter consumes one device's event stream and splits it into Songs.
type Segmenter struct {
	source Source
}

// New wraps a device's event source.
func New(source Source) *Segmenter {
	return &Segmenter{source: source}
}

// pumpResult carries one Source.Next() outcome to the reader goroutine's
// consumer.
type pumpResult struct {
	evt *midi.TimedEvent
	err error
}

// Next blocks until a complete song has been captured, the context is
// canceled, or the underlying source ends (device disconnect). Per spec
// §4.2, a disconnect while idle-waiting for the first note of a new song
// yields no song (nil, nil); a disconnect mid-song still finishes and
// returns the song captured so far (non-nil, nil error) — only the
// idle-timeout path distinguishes "keep waiting" from "end the song" by
// keyboard state, a disconnect always ends it outright. onStart, if
// non-nil, is invoked exactly once, the moment the first event of a new
// song arrives — before the idle countdown begins — so callers can
// publish a "recording started" signal without waiting for the whole song
// to finish.
//
// Next owns a single background goroutine pumping s.source.Next() for the
// duration of one song; callers must not invoke Next concurrently, nor call
// it again after a non-nil error.
func (s *Segmenter) Next(ctx context.Context, onStart func()) (*Song, error) {
	pump := make(chan pumpResult)
	go func() {
		for {
			evt, err := s.source.Next()
			select {
			case pump <- pumpResult{evt, err}:
			case <-ctx.Done():
				return
			}
			if evt == nil || err != nil {
				return
			}
		}
	}()

	first, ended, err := recvWithTimeout(ctx, pump, 0) // no timeout while waiting for the first note
	if err != nil {
		return nil, err
	}
	if ended || first == nil {
		return nil, nil // stream ended (or was canceled) before any song began
	}
	if onStart != nil {
		onStart()
	}
	return recordSong(ctx, pump, *first)
}

// recordSong mirrors original_source/src/recorder.rs's record_song: a
// genuine read error aborts immediately (the Rust original propagates it
// with `?`, discarding whatever was captured), while the idle timeout and a
// disconnected/ended stream both just break the loop and return the song
// captured so far — the original's `Ok(events)` at the end of the function
// is unconditional with respect to which branch broke out of it.
func recordSong(ctx context.Context, pump <-chan pumpResult, first midi.TimedEvent) (*Song, error) {
	startTick := first.Timestamp
	first.Timestamp = 0

	events := []midi.TimedEvent{first}
	keys := NewKeyboardState()
	keys.Update(first.Payload)

	idlePeriods := 0

	for {
		evt, ended, err := recvWithTimeout(ctx, pump, IdleTimeout)
		if err != nil {
			return nil, err
		}
		if ended {
			// Disconnect (ctx canceled) or the source itself ending: finish
			// with whatever was captured, same as an idle timeout that ran
			// out the hard ceiling — the song is not discarded.
			break
		}

		if evt == nil {
			if keys.IsIdle() {
				break
			}
			idlePeriods++
			if idlePeriods >= MaxIdlePeriods {
				break
			}
			continue
		}

		idlePeriods = 0
		evt.Timestamp -= startTick
		keys.Update(evt.Payload)
		events = append(events, *evt)
	}

	return &Song{Events: events}, nil
}

// recvWithTimeout waits up to timeout (or indefinitely, if timeout == 0) for
// the next pump result. evt == nil, ended == false means the timeout
// elapsed with no event — a candidate idle period, not a stream end. ended
// == true means the context was canceled or the source ended the stream
// with no error; callers must stop looping unconditionally rather than
// consult keyboard state. err is reserved for genuine source errors, which
// take priority over ended and must always be checked first.
func recvWithTimeout(ctx context.Context, pump <-chan pumpResult, timeout time.Duration) (evt *midi.TimedEvent, ended bool, err error) {
	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, true, nil
	case <-timerC:
		return nil, false, nil
	case r, ok := <-pump:
		if !ok {
			return nil, true, nil
		}
		if r.err != nil {
			return nil, false, r.err
		}
		if r.evt == nil {
			return nil, true, nil
		}
		return r.evt, false, nil
	}
}

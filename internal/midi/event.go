// Package midi wraps the host MIDI sequencer: device discovery, note/controller
// capture, and scheduled playback of recorded songs.
package midi

import "fmt"

// DeviceID identifies a device on the sequencer bus. It is stable for as long
// as the underlying port exists.
type DeviceID struct {
	Client int
	Port   int
}

func (d DeviceID) String() string {
	return fmt.Sprintf("%d:%d", d.Client, d.Port)
}

// DeviceInfo is a snapshot of a device's human-readable names, taken at
// connect time.
type DeviceInfo struct {
	ClientName string
	PortName   string
}

// EventKind distinguishes the variants of MidiEvent.
type EventKind int

const (
	NoteOn EventKind = iota
	NoteOff
	ControlChange
)

// Event is a tagged-union MIDI message: a NoteOn, NoteOff, or ControlChange.
// Only the fields relevant to Kind are meaningful.
type Event struct {
	Kind       EventKind
	Channel    uint8
	Note       uint8 // NoteOn, NoteOff
	Velocity   uint8 // NoteOn only
	Controller uint8 // ControlChange only
	Value      uint8 // ControlChange only
}

// NewNoteOn normalizes velocity-0 NoteOn into NoteOff, per spec.
func NewNoteOn(channel, note, velocity uint8) Event {
	if velocity == 0 {
		return Event{Kind: NoteOff, Channel: channel, Note: note}
	}
	return Event{Kind: NoteOn, Channel: channel, Note: note, Velocity: velocity}
}

func NewNoteOff(channel, note uint8) Event {
	return Event{Kind: NoteOff, Channel: channel, Note: note}
}

func NewControlChange(channel, controller, value uint8) Event {
	return Event{Kind: ControlChange, Channel: channel, Controller: controller, Value: value}
}

// TimedEvent pairs an Event with a tick timestamp. The first event of a song
// carries timestamp 0; subsequent timestamps are monotonically non-decreasing.
type TimedEvent struct {
	Timestamp uint32
	Payload   Event
}

// Timing constants, part of the on-disk MIDI format (spec §3).
const (
	PPQ              = 96
	BPM              = 120
	TempoMicroseconds = 500000 // microseconds per quarter note at 120 BPM
)

// TicksToSeconds converts a tick duration to seconds using the canonical
// PPQ/BPM constants: seconds = ticks / 192.
func TicksToSeconds(ticks uint32) float64 {
	return float64(ticks) / 192.0
}

// GMReset is the General MIDI universal SysEx reset message.
var GMReset = []byte{0xF0, 0x7E, 0x7F, 0x09, 0x01, 0xF7}

package midi

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// recorderSeq hands out unique, application-owned registry claim names for
// recording sessions, so a claim can never collide with a source device's
// own client name.
var recorderSeq int64

// Recorder is a lazy sequence of *TimedEvent over a single source device.
// Next returns nil once Close has been called; calling Next again afterwards
// is a programmer error. The Recorder does not itself detect the source port
// going away: the ListenTo callback simply stops firing, and Next keeps
// blocking until Close.
type Recorder struct {
	start time.Time
	stop  func()

	events    chan TimedEvent
	done      chan struct{}
	ended     bool
	closeOnce sync.Once
}

// NewRecorder opens a Recorder against the given input port, claiming an
// application-owned identifier in the registry so the Device Listener won't
// mistake this recording session for a newly-connected device. The claimed
// name is generated rather than the source device's own client name: were
// it the device's own name, a disconnect followed by a quick reconnect of
// that same device — before this session's Close() runs and releases the
// claim — would leave the reconnect invisible to the listener's IsKnown
// check, since the claim would still read as "known" for the old name.
func NewRecorder(registry *Registry, source drivers.In) (*Recorder, error) {
	claimName := fmt.Sprintf("autorec-recorder-%d", atomic.AddInt64(&recorderSeq, 1))
	claim := registry.Claim(claimName)

	r := &Recorder{
		start:  time.Now(),
		events: make(chan TimedEvent, 256),
		done:   make(chan struct{}),
	}

	stop, err := gomidi.ListenTo(source, func(msg gomidi.Message, _ int32) {
		evt, ok := mapMessage(msg)
		if !ok {
			return
		}
		select {
		case r.events <- TimedEvent{Timestamp: r.tickNow(), Payload: evt}:
		default:
			// Backpressure: drop rather than block the driver's callback goroutine.
		}
	})
	if err != nil {
		claim.Close()
		return nil, errBackend(err)
	}

	r.stop = func() {
		stop()
		claim.Close()
	}

	return r, nil
}

func (r *Recorder) tickNow() uint32 {
	elapsed := time.Since(r.start)
	ticks := elapsed.Seconds() * float64(BPM) * float64(PPQ) / 60.0
	return uint32(ticks)
}

// TickToDuration converts a tick count to wall-clock duration using the
// canonical PPQ/BPM formula: ticks / 192 seconds.
func (r *Recorder) TickToDuration(ticks uint32) time.Duration {
	return time.Duration(TicksToSeconds(ticks) * float64(time.Second))
}

// Next returns the next captured event, or nil once the Recorder has been
// closed. It must not be called again after returning nil.
func (r *Recorder) Next() (*TimedEvent, error) {
	if r.ended {
		panic("midi: Recorder.Next called after end of stream")
	}
	select {
	case evt := <-r.events:
		return &evt, nil
	case <-r.done:
		r.ended = true
		return nil, nil
	}
}

// Close tears down the recorder's underlying client and releases its
// registry claim. Safe to call multiple times.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		if r.stop != nil {
			r.stop()
		}
		close(r.done)
	})
}

// mapMessage converts a raw driver message to a domain Event, normalizing
// NoteOn-with-zero-velocity into NoteOff. Unrecognized message types are
// dropped (ok == false).
func mapMessage(msg gomidi.Message) (Event, bool) {
	var channel, note, velocity, controller, value uint8

	if msg.GetNoteOn(&channel, &note, &velocity) {
		return NewNoteOn(channel, note, velocity), true
	}
	if msg.GetNoteOff(&channel, &note, &velocity) {
		return NewNoteOff(channel, note), true
	}
	if msg.GetControlChange(&channel, &controller, &value) {
		return NewControlChange(channel, controller, value), true
	}
	return Event{}, false
}

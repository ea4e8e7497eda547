package midi

import (
	"container/list"
	"errors"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// ErrBackend wraps unrecoverable failures from the underlying MIDI driver.
var ErrBackend = errors.New("midi: backend error")

// pollInterval is how often the Device Listener re-enumerates input ports to
// synthesize hotplug events. gitlab.com/gomidi/midi/v2's rtmidi backend does
// not expose OS-level port-start/port-exit notifications the way a raw ALSA
// sequencer client does, so hotplug is approximated by diffing successive
// port snapshots — the same technique the teacher's cmd/miditest pollDevices
// helper already uses.
const pollInterval = 500 * time.Millisecond

// DeviceEventKind distinguishes Connected from Disconnected.
type DeviceEventKind int

const (
	Connected DeviceEventKind = iota
	Disconnected
)

// DeviceEvent reports a device connecting to or disconnecting from the
// sequencer bus.
type DeviceEvent struct {
	Kind   DeviceEventKind
	Device DeviceID
	Info   DeviceInfo // zero value when Kind == Disconnected
}

// Listener is the Device Listener of spec §4.1.2: a lazy sequence of
// DeviceEvent values, backed by polling of the host's MIDI input ports.
type Listener struct {
	registry  *Registry
	listNames func() []string // port names currently present; swappable in tests

	mu      sync.Mutex
	active  map[string]DeviceID // port name -> assigned id, for ports we've announced
	nextID  int
	prefill *list.List // *DeviceEvent queue, drained before polling begins
}

// NewListener opens the Device Listener, enumerating currently-present
// readable MIDI ports as a prefill of synthetic Connected events.
func NewListener(registry *Registry) (*Listener, error) {
	return newListener(registry, readableMidiPortNames), nil
}

// newListener builds a Listener against an injectable port lister, so tests
// can exercise the prefill/poll diffing logic against a fake device set
// without a real MIDI backend.
func newListener(registry *Registry, listNames func() []string) *Listener {
	l := &Listener{
		registry:  registry,
		listNames: listNames,
		active:    make(map[string]DeviceID),
		prefill:   list.New(),
	}

	for _, name := range listNames() {
		id := l.assignID(name)
		l.active[name] = id
		info := DeviceInfo{ClientName: name, PortName: name}
		l.prefill.PushBack(&DeviceEvent{Kind: Connected, Device: id, Info: info})
	}

	return l
}

// Next blocks until the next DeviceEvent is available. Duplicate Connected
// events for an already-active device are dropped, as are Disconnected
// events for a device that was never reported as connected.
func (l *Listener) Next() (DeviceEvent, error) {
	for {
		l.mu.Lock()
		if elem := l.prefill.Front(); elem != nil {
			l.prefill.Remove(elem)
			evt := elem.Value.(*DeviceEvent)
			l.mu.Unlock()
			return *evt, nil
		}
		l.mu.Unlock()

		evt, ok, err := l.poll()
		if err != nil {
			return DeviceEvent{}, err
		}
		if ok {
			return evt, nil
		}
		time.Sleep(pollInterval)
	}
}

// poll takes one snapshot of readable ports and reports at most one
// synthesized event by diffing against the previously-seen set.
func (l *Listener) poll() (DeviceEvent, bool, error) {
	names := l.listNames()

	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		seen[name] = struct{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, name := range names {
		if l.registry.IsKnown(name) {
			continue
		}
		if _, already := l.active[name]; already {
			continue
		}
		id := l.assignID(name)
		l.active[name] = id
		return DeviceEvent{
			Kind:   Connected,
			Device: id,
			Info:   DeviceInfo{ClientName: name, PortName: name},
		}, true, nil
	}

	for name, id := range l.active {
		if _, stillThere := seen[name]; !stillThere {
			delete(l.active, name)
			return DeviceEvent{Kind: Disconnected, Device: id}, true, nil
		}
	}

	return DeviceEvent{}, false, nil
}

func (l *Listener) assignID(name string) DeviceID {
	if id, ok := l.active[name]; ok {
		return id
	}
	id := DeviceID{Client: l.nextID, Port: 0}
	l.nextID++
	return id
}

// readableMidiPortNames enumerates the names of every MIDI input port the
// driver reports. No filtering is applied: virtual, loopback and system
// ports are included alongside hardware devices.
func readableMidiPortNames() []string {
	ports := gomidi.GetInPorts()
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.String()
	}
	return names
}

// FindInPort looks up a currently-present input port by the same name the
// Device Listener reports it under.
func FindInPort(name string) (drivers.In, bool) {
	for _, p := range gomidi.GetInPorts() {
		if p.String() == name {
			return p, true
		}
	}
	return nil, false
}

// FindOutPort looks up a currently-present output port by name, for
// targeting playback at a device's own output.
func FindOutPort(name string) (drivers.Out, bool) {
	for _, p := range gomidi.GetOutPorts() {
		if p.String() == name {
			return p, true
		}
	}
	return nil, false
}

func errBackend(err error) error {
	return &backendError{cause: err}
}

type backendError struct{ cause error }

func (e *backendError) Error() string        { return "midi: backend error: " + e.cause.Error() }
func (e *backendError) Unwrap() error         { return e.cause }
func (e *backendError) Is(target error) bool { return target == ErrBackend }

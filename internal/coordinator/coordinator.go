package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"autorec/internal/config"
	"autorec/internal/midi"
	"autorec/internal/playback"
	"autorec/internal/segmenter"
	"autorec/internal/store"
)

// ErrNoListeningDevice is returned by PlayRecording when no device is
// currently attached for capture — playback always targets the listening
// device's own output port.
var ErrNoListeningDevice = errors.New("coordinator: no device is currently attached")

// Coordinator is the application's reactive core (spec §4.5).
type Coordinator struct {
	cfg *config.Config
	log *zap.Logger

	registry *midi.Registry
	listener *midi.Listener
	store    *store.Store
	queue    *playback.Queue[store.RecordingID]
	bus      *changeBus

	mu        sync.Mutex
	listening *listening

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New wires together a fresh Coordinator: opens the Recording Store,
// registers the Sequencer Backend's device listener, and starts the
// long-lived device and player loops. Call Close to stop them.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Coordinator, error) {
	st, err := store.Open(ctx, cfg.DataDirectory, log)
	if err != nil {
		return nil, fmt.Errorf("coordinator: open store: %w", err)
	}

	registry := midi.NewRegistry()
	listener, err := midi.NewListener(registry)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("coordinator: open device listener: %w", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	c := &Coordinator{
		cfg:       cfg,
		log:       log,
		registry:  registry,
		listener:  listener,
		store:     st,
		bus:       newChangeBus(),
		runCtx:    runCtx,
		runCancel: runCancel,
	}
	c.queue = playback.New[store.RecordingID](func(outputPort string) playback.Player {
		return midi.NewPlayer(outputPort)
	})

	c.wg.Add(2)
	go c.deviceLoop()
	go c.playerLoop()

	return c, nil
}

// Close stops the long-lived loops and releases the store handle.
func (c *Coordinator) Close() error {
	c.runCancel()
	c.wg.Wait()
	return c.store.Close()
}

// Subscribe returns a channel of StateChange events. Callers should call
// Unsubscribe when done to free the slot.
func (c *Coordinator) Subscribe() chan StateChange {
	return c.bus.subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (c *Coordinator) Unsubscribe(ch chan StateChange) {
	c.bus.unsubscribe(ch)
}

// QueryRecordings lists every recording's metadata, newest first.
func (c *Coordinator) QueryRecordings(ctx context.Context) ([]store.RecordingInfo, error) {
	return c.store.GetRecordingInfos(ctx)
}

// DeleteRecording removes a recording and publishes RecordDelete.
func (c *Coordinator) DeleteRecording(ctx context.Context, id store.RecordingID) error {
	if err := c.store.DeleteRecordingByID(ctx, id); err != nil {
		return err
	}
	c.bus.publish(StateChange{Kind: RecordDelete, RecordingID: id})
	return nil
}

// RenameRecording renames a recording and publishes RecordUpdate. newName
// may be empty.
func (c *Coordinator) RenameRecording(ctx context.Context, id store.RecordingID, newName string) (store.RecordingInfo, error) {
	info, err := c.store.RenameRecordingByID(ctx, id, newName)
	if err != nil {
		return store.RecordingInfo{}, err
	}
	c.bus.publish(StateChange{Kind: RecordUpdate, Recording: info})
	return info, nil
}

// PlayRecording fetches a recording's MIDI bytes and feeds them to the
// Playback Queue, targeting the currently listening device's own output
// port. Fails with ErrNoListeningDevice if nothing is attached. Per spec
// §4.5, this runs under the Coordinator's single state mutex for its whole
// duration, including the MIDI fetch and the hand-off to the Playback Queue
// (which waits for a preempted playback's cleanup): callers must treat
// all Coordinator methods as mutually exclusive so this serializes against
// a concurrent PlayRecording or a device disconnect.
func (c *Coordinator) PlayRecording(ctx context.Context, id store.RecordingID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listening == nil {
		return ErrNoListeningDevice
	}

	data, err := c.store.GetRecordingMIDI(ctx, id)
	if err != nil {
		return err
	}

	return c.queue.Play(id, c.listening.info.ClientName, data)
}

// StopPlaying cancels any active playback, waiting for its GM Reset flush
// to complete. No-op if nothing is playing.
func (c *Coordinator) StopPlaying() {
	c.queue.Stop()
}

// PlayingRecording reports the token of the active playback, if any.
func (c *Coordinator) PlayingRecording() (store.RecordingID, bool) {
	return c.queue.Current()
}

// deviceLoop is the long-lived Device loop of spec §4.5: it reads
// DeviceEvents and, on a match, attaches a Recorder+Segmenter task.
func (c *Coordinator) deviceLoop() {
	defer c.wg.Done()

	events := make(chan midi.DeviceEvent)
	errs := make(chan error, 1)
	go func() {
		for {
			evt, err := c.listener.Next()
			if err != nil {
				errs <- err
				return
			}
			select {
			case events <- evt:
			case <-c.runCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-c.runCtx.Done():
			return
		case err := <-errs:
			c.log.Error("device listener failed, capture disabled", zap.Error(err))
			return
		case evt := <-events:
			switch evt.Kind {
			case midi.Connected:
				c.handleDeviceConnected(evt.Device, evt.Info)
			case midi.Disconnected:
				c.handleDeviceDisconnected(evt.Device)
			}
		}
	}
}

func (c *Coordinator) handleDeviceConnected(device midi.DeviceID, info midi.DeviceInfo) {
	if !strings.Contains(info.ClientName, c.cfg.MIDIDevice) {
		c.log.Debug("ignoring unmatched device", zap.String("client", info.ClientName))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listening != nil {
		c.log.Info("matching device connected while already recording",
			zap.String("client", info.ClientName),
			zap.String("recording_from", c.listening.info.ClientName))
		return
	}

	port, ok := midi.FindInPort(info.ClientName)
	if !ok {
		c.log.Error("matched device vanished before recorder could attach", zap.String("client", info.ClientName))
		return
	}

	recorder, err := midi.NewRecorder(c.registry, port)
	if err != nil {
		c.log.Error("failed to open recorder", zap.String("client", info.ClientName), zap.Error(err))
		return
	}

	sessionCtx, cancel := context.WithCancel(c.runCtx)
	c.listening = &listening{device: device, info: info, cancel: cancel}
	c.bus.publish(StateChange{Kind: ListenBegin, Device: device, DeviceInfo: info})

	c.wg.Add(1)
	go c.recordSession(sessionCtx, recorder)
}

// handleDeviceDisconnected cancels the in-flight recordSession for device,
// if it is the one currently being captured from. The recorder's ListenTo
// callback stops firing silently when its port disappears, so cancellation
// via the session's context is the only signal that unblocks the
// segmenter's pump goroutine.
func (c *Coordinator) handleDeviceDisconnected(device midi.DeviceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listening != nil && c.listening.device == device {
		c.listening.cancel()
	}
}

// recordSession runs the Recording Segmenter against one device's Recorder
// until the device disconnects, persisting each finished song. A disconnect
// mid-song (the session ctx canceled by handleDeviceDisconnected) still
// yields a non-nil Song from seg.Next, which is persisted exactly like a
// song that ended via idle timeout — per spec §4.2 a disconnect only ends
// the session's loop early, it does not discard the song in flight. Because
// ctx is already canceled by the time that final song is returned,
// persistence uses c.runCtx (canceled only on Coordinator.Close) instead of
// ctx, so the insert isn't rejected for racing a context that's already done.
func (c *Coordinator) recordSession(ctx context.Context, recorder *midi.Recorder) {
	defer c.wg.Done()
	defer recorder.Close()

	seg := segmenter.New(recorder)

	for {
		song, err := seg.Next(ctx, func() {
			c.bus.publish(StateChange{Kind: RecordBegin})
		})
		if err != nil {
			c.log.Error("segmenter failed", zap.Error(err))
			break
		}
		if song == nil {
			break // end of stream: device disconnected before any song began
		}

		info, err := c.store.InsertRecording(c.runCtx, song.Events)
		if err != nil {
			c.log.Error("failed to store recording", zap.Error(err))
			c.bus.publish(StateChange{Kind: RecordError, Message: err.Error()})
		} else {
			c.bus.publish(StateChange{Kind: RecordEnd, Recording: info})
		}

		if ctx.Err() != nil {
			break // device disconnected mid-song: this was the last one
		}
	}

	c.mu.Lock()
	c.listening = nil
	c.mu.Unlock()
	c.bus.publish(StateChange{Kind: ListenEnd})
}

// playerLoop is the long-lived Player loop of spec §4.5: it forwards
// Playback Queue events onto the StateChange topic.
func (c *Coordinator) playerLoop() {
	defer c.wg.Done()

	events := c.queue.Subscribe()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case evt := <-events:
			switch evt.Kind {
			case playback.PlaybackStart:
				c.bus.publish(StateChange{Kind: PlayBegin, RecordingID: evt.Token})
			case playback.PlaybackStop:
				c.bus.publish(StateChange{Kind: PlayEnd})
			}
		}
	}
}

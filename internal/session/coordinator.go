// Package session owns the single recording session: it reacts to viewer
// commands, drives the recognition bridge and keeps viewers informed of the
// recording state.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-scribe/internal/hub"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/transcript"
)

// Recognition starts and stops capture plus speech recognition.
type Recognition interface {
	Begin(ctx context.Context, onFragment func(string), onError func(error)) (*stt.Handles, error)
	End(h *stt.Handles)
}

// Analyzer consumes final transcript fragments.
type Analyzer interface {
	OnFragment(recordingID, fragment string)
	Close(ctx context.Context) error
}

type Options struct {
	ResetOnStart bool
}

// Status is a point-in-time view of the session.
type Status struct {
	Recording        bool       `json:"recording"`
	RecordingID      string     `json:"recording_id,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	Fragments        int        `json:"fragments"`
	TranscriptLength int        `json:"transcript_length"`
	Viewers          int        `json:"viewers"`
}

// Coordinator is Idle while handles is nil and Recording otherwise.
type Coordinator struct {
	ctx      context.Context
	hub      *hub.Hub
	bridge   Recognition
	analyzer Analyzer
	acc      *transcript.Accumulator
	opts     Options
	log      *slog.Logger

	mu        sync.Mutex
	handles   *stt.Handles
	startedAt time.Time

	// read lock-free by broadcast sinks running under mu
	recordingID atomic.Value
}

// New builds a coordinator. ctx bounds every recording it starts.
func New(ctx context.Context, h *hub.Hub, bridge Recognition, analyzer Analyzer, acc *transcript.Accumulator, opts Options, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		ctx:      ctx,
		hub:      h,
		bridge:   bridge,
		analyzer: analyzer,
		acc:      acc,
		opts:     opts,
		log:      logger.With(slog.String("component", "session")),
	}
}

// Connect registers v and sends it the current recording state.
func (c *Coordinator) Connect(v hub.Viewer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hub.SendTo(v, protocol.StatusEvent(c.handles != nil))
	c.hub.Register(v)
}

func (c *Coordinator) Disconnect(v hub.Viewer) {
	c.hub.Unregister(v)
}

// HandleCommand applies cmd and acknowledges the resulting state to v.
// Redundant and unknown commands change nothing but are still acknowledged.
// v may be nil when the command did not come from a viewer.
func (c *Coordinator) HandleCommand(v hub.Viewer, cmd protocol.Command) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch cmd.Command {
	case protocol.CommandStartRecording:
		c.startLocked()
	case protocol.CommandStopRecording:
		c.stopLocked()
	default:
		c.log.Debug("ignoring unknown command", slog.String("command", cmd.Command))
	}
	recording := c.handles != nil
	if v != nil {
		c.hub.SendTo(v, protocol.StatusEvent(recording))
	}
	return recording
}

func (c *Coordinator) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles != nil
}

// RecordingID returns the current recording's ID, or "" when idle. It is
// safe to call from a hub sink.
func (c *Coordinator) RecordingID() string {
	id, _ := c.recordingID.Load().(string)
	return id
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	s := Status{
		Recording:        c.handles != nil,
		RecordingID:      c.RecordingID(),
		Fragments:        c.acc.Fragments(),
		TranscriptLength: c.acc.Len(),
	}
	if s.Recording {
		started := c.startedAt
		s.StartedAt = &started
	}
	c.mu.Unlock()
	s.Viewers = c.hub.Count()
	return s
}

// Close stops any active recording and drains the analyzer.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
	return c.analyzer.Close(ctx)
}

func (c *Coordinator) startLocked() {
	if c.handles != nil {
		return
	}
	id := uuid.NewString()
	log := c.log.With(slog.String("recording_id", id))
	if c.opts.ResetOnStart {
		c.acc.Reset()
	}
	// fragments wait until viewers have been told recording started
	started := make(chan struct{})
	defer close(started)
	h, err := c.bridge.Begin(c.ctx,
		func(fragment string) {
			<-started
			c.analyzer.OnFragment(id, fragment)
		},
		func(err error) { go c.recognitionFailed(id, err) },
	)
	if err != nil {
		log.Error("failed to start recording", slogError(err))
		return
	}
	c.handles = h
	c.recordingID.Store(id)
	c.startedAt = time.Now().UTC()
	log.Info("recording started")
	c.hub.Broadcast(protocol.StatusEvent(true))
}

func (c *Coordinator) stopLocked() {
	if c.handles == nil {
		return
	}
	h := c.handles
	c.handles = nil
	c.bridge.End(h)
	c.log.Info("recording stopped",
		slog.String("recording_id", c.RecordingID()),
		slog.Duration("duration", time.Since(c.startedAt)))
	c.hub.Broadcast(protocol.StatusEvent(false))
	c.recordingID.Store("")
}

// recognitionFailed returns the session to Idle unless the recording that
// failed has already been stopped or replaced.
func (c *Coordinator) recognitionFailed(id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handles == nil || c.RecordingID() != id {
		return
	}
	if errors.Is(err, stt.ErrSourceEnded) {
		c.log.Info("recognition source ended", slog.String("recording_id", id))
	} else {
		c.log.Warn("recognition failed, stopping recording", slog.String("recording_id", id), slogError(err))
	}
	c.stopLocked()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

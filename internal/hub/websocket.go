package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

var (
	ErrViewerClosed = errors.New("viewer connection closed")
	ErrSendBuffer   = errors.New("viewer send buffer full")
)

// WSOptions tunes a websocket viewer.
type WSOptions struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// CommandHandler receives decoded inbound commands from a viewer.
type CommandHandler func(v Viewer, cmd protocol.Command)

// WSViewer adapts a gorilla websocket connection to Viewer. Writes happen
// on a dedicated pump so Send never blocks the broadcaster.
type WSViewer struct {
	id     string
	conn   *websocket.Conn
	opts   WSOptions
	log    *slog.Logger
	out    chan protocol.Event
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func NewWSViewer(conn *websocket.Conn, opts WSOptions, logger *slog.Logger) *WSViewer {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	id := uuid.NewString()
	return &WSViewer{
		id:   id,
		conn: conn,
		opts: opts,
		log:  logger.With(slog.String("viewer", id)),
		out:  make(chan protocol.Event, opts.SendBuffer),
		done: make(chan struct{}),
	}
}

func (v *WSViewer) ID() string { return v.id }

func (v *WSViewer) Open() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return !v.closed
}

// Send queues evt for the write pump.
func (v *WSViewer) Send(evt protocol.Event) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return ErrViewerClosed
	}
	select {
	case v.out <- evt:
		return nil
	default:
		return ErrSendBuffer
	}
}

// Close terminates the connection. Safe to call more than once.
func (v *WSViewer) Close() {
	v.once.Do(func() {
		v.mu.Lock()
		v.closed = true
		close(v.done)
		v.mu.Unlock()
		_ = v.conn.Close()
	})
}

// Run starts the write pump and blocks reading inbound commands until the
// connection closes. Malformed messages are logged and skipped.
func (v *WSViewer) Run(onCommand CommandHandler) {
	go v.writePump()
	defer v.Close()

	for {
		_, data, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				v.log.Warn("viewer read failed", slogError(err))
			}
			return
		}
		var cmd protocol.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			v.log.Warn("malformed viewer command", slogError(err))
			continue
		}
		v.log.Debug("viewer command", slog.String("command", cmd.Command))
		onCommand(v, cmd)
	}
}

func (v *WSViewer) writePump() {
	var ping <-chan time.Time
	if v.opts.PingInterval > 0 {
		ticker := time.NewTicker(v.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case <-v.done:
			return
		case evt := <-v.out:
			data, err := json.Marshal(evt)
			if err != nil {
				v.log.Warn("failed to encode viewer event", slogError(err))
				continue
			}
			_ = v.conn.SetWriteDeadline(time.Now().Add(v.opts.WriteTimeout))
			if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				v.log.Debug("viewer write failed", slogError(err))
				v.Close()
				return
			}
		case <-ping:
			deadline := time.Now().Add(v.opts.WriteTimeout)
			if err := v.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				v.Close()
				return
			}
		}
	}
}

// Package hub fans viewer events out to every connected real-time client.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Viewer is a connected real-time client.
type Viewer interface {
	ID() string
	Open() bool
	Send(evt protocol.Event) error
}

// Sink observes every broadcast event.
type Sink func(evt protocol.Event)

// Hub holds the viewer set. Membership is weak: a viewer is dropped as
// soon as a send to it fails.
type Hub struct {
	log     *slog.Logger
	mu      sync.RWMutex
	viewers map[string]Viewer
	sinks   []Sink

	viewerGauge metric.Int64UpDownCounter
	broadcasts  metric.Int64Counter
}

func New(logger *slog.Logger) *Hub {
	h := &Hub{
		log:     logger.With(slog.String("component", "hub")),
		viewers: make(map[string]Viewer),
	}
	meter := otel.Meter("github.com/loqalabs/loqa-scribe/hub")
	if g, err := meter.Int64UpDownCounter("scribe.viewers", metric.WithDescription("Connected viewers")); err == nil {
		h.viewerGauge = g
	}
	if c, err := meter.Int64Counter("scribe.broadcasts", metric.WithDescription("Events broadcast to viewers")); err == nil {
		h.broadcasts = c
	}
	return h
}

// AddSink registers fn to observe every broadcast.
func (h *Hub) AddSink(fn Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, fn)
}

func (h *Hub) Register(v Viewer) {
	h.mu.Lock()
	_, exists := h.viewers[v.ID()]
	h.viewers[v.ID()] = v
	h.mu.Unlock()
	if !exists {
		h.addViewers(1)
		h.log.Info("viewer connected", slog.String("viewer", v.ID()))
	}
}

func (h *Hub) Unregister(v Viewer) {
	h.mu.Lock()
	_, exists := h.viewers[v.ID()]
	delete(h.viewers, v.ID())
	h.mu.Unlock()
	if exists {
		h.addViewers(-1)
		h.log.Info("viewer disconnected", slog.String("viewer", v.ID()))
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Broadcast delivers evt once to every open viewer registered at call time.
func (h *Hub) Broadcast(evt protocol.Event) {
	h.mu.RLock()
	snapshot := make([]Viewer, 0, len(h.viewers))
	for _, v := range h.viewers {
		snapshot = append(snapshot, v)
	}
	sinks := append([]Sink(nil), h.sinks...)
	h.mu.RUnlock()

	for _, v := range snapshot {
		h.deliver(v, evt)
	}
	for _, sink := range sinks {
		sink(evt)
	}
	if h.broadcasts != nil {
		h.broadcasts.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", string(evt.Type))))
	}
}

// SendTo delivers evt to a single viewer.
func (h *Hub) SendTo(v Viewer, evt protocol.Event) {
	h.deliver(v, evt)
}

func (h *Hub) deliver(v Viewer, evt protocol.Event) {
	if !v.Open() {
		return
	}
	if err := v.Send(evt); err != nil {
		h.log.Debug("dropping viewer after failed send", slog.String("viewer", v.ID()), slogError(err))
		h.Unregister(v)
	}
}

func (h *Hub) addViewers(n int64) {
	if h.viewerGauge != nil {
		h.viewerGauge.Add(context.Background(), n)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

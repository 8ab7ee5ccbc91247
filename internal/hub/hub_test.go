package hub

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeViewer struct {
	id      string
	mu      sync.Mutex
	open    bool
	failing bool
	got     []protocol.Event
	sends   int
}

func newFakeViewer(id string) *fakeViewer {
	return &fakeViewer{id: id, open: true}
}

func (f *fakeViewer) ID() string { return f.id }

func (f *fakeViewer) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeViewer) Send(evt protocol.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if f.failing {
		return errors.New("broken pipe")
	}
	f.got = append(f.got, evt)
	return nil
}

func (f *fakeViewer) events() []protocol.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Event(nil), f.got...)
}

func TestBroadcastFanOut(t *testing.T) {
	h := New(newLogger())
	a, b, closed := newFakeViewer("a"), newFakeViewer("b"), newFakeViewer("c")
	closed.open = false
	h.Register(a)
	h.Register(b)
	h.Register(closed)

	h.Broadcast(protocol.TextEvent(protocol.EventTranscription, "patient reports fever"))

	for _, v := range []*fakeViewer{a, b} {
		if v.sends != 1 {
			t.Fatalf("viewer %s: expected exactly one delivery attempt, got %d", v.id, v.sends)
		}
		if got := v.events()[0].TextValue(); got != "patient reports fever" {
			t.Fatalf("viewer %s: unexpected text %q", v.id, got)
		}
	}
	if closed.sends != 0 {
		t.Fatalf("closed viewer must not be attempted, got %d", closed.sends)
	}
}

func TestFailedSendUnregisters(t *testing.T) {
	h := New(newLogger())
	good, bad := newFakeViewer("good"), newFakeViewer("bad")
	bad.failing = true
	h.Register(good)
	h.Register(bad)

	h.Broadcast(protocol.StatusEvent(true))
	if h.Count() != 1 {
		t.Fatalf("expected failing viewer dropped, count=%d", h.Count())
	}
	h.Broadcast(protocol.StatusEvent(false))
	if bad.sends != 1 {
		t.Fatalf("dropped viewer must not receive later broadcasts, sends=%d", bad.sends)
	}
	if len(good.events()) != 2 {
		t.Fatalf("good viewer should receive both events")
	}
}

func TestSendToTargetsOneViewer(t *testing.T) {
	h := New(newLogger())
	a, b := newFakeViewer("a"), newFakeViewer("b")
	h.Register(a)
	h.Register(b)

	h.SendTo(a, protocol.StatusEvent(false))
	if len(a.events()) != 1 || len(b.events()) != 0 {
		t.Fatalf("SendTo must be point-to-point")
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	h := New(newLogger())
	a := newFakeViewer("a")
	h.Register(a)
	h.Register(a)
	if h.Count() != 1 {
		t.Fatalf("duplicate register must not duplicate membership")
	}
	h.Unregister(a)
	h.Unregister(a)
	if h.Count() != 0 {
		t.Fatalf("expected empty hub")
	}
}

func TestSinksObserveBroadcasts(t *testing.T) {
	h := New(newLogger())
	var seen []protocol.EventType
	h.AddSink(func(evt protocol.Event) { seen = append(seen, evt.Type) })

	h.Broadcast(protocol.TextEvent(protocol.EventDiagnoses, "x"))
	h.SendTo(newFakeViewer("a"), protocol.StatusEvent(true))

	if len(seen) != 1 || seen[0] != protocol.EventDiagnoses {
		t.Fatalf("sink should see broadcasts only, got %v", seen)
	}
}

func TestConcurrentMembershipDuringBroadcast(t *testing.T) {
	h := New(newLogger())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		v := newFakeViewer(string(rune('a' + i)))
		go func() {
			defer wg.Done()
			h.Register(v)
			h.Unregister(v)
		}()
		go func() {
			defer wg.Done()
			h.Broadcast(protocol.StatusEvent(true))
		}()
	}
	wg.Wait()
	if h.Count() != 0 {
		t.Fatalf("expected all viewers unregistered, got %d", h.Count())
	}
}

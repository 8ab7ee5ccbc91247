package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/diagnosis"
	"github.com/loqalabs/loqa-scribe/internal/extract"
	"github.com/loqalabs/loqa-scribe/internal/hub"
	"github.com/loqalabs/loqa-scribe/internal/llm"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/transcript"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeViewer struct {
	id     string
	mu     sync.Mutex
	events []protocol.Event
}

func (f *fakeViewer) ID() string { return f.id }
func (f *fakeViewer) Open() bool { return true }
func (f *fakeViewer) Send(evt protocol.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeViewer) received() []protocol.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Event(nil), f.events...)
}

func (f *fakeViewer) statuses() []bool {
	var out []bool
	for _, e := range f.received() {
		if e.Type == protocol.EventRecordingStatus {
			out = append(out, *e.IsRecording)
		}
	}
	return out
}

type fakeRecognition struct {
	mu         sync.Mutex
	begins     int
	ends       int
	beginErr   error
	onFragment func(string)
	onError    func(error)
}

func (f *fakeRecognition) Begin(_ context.Context, onFragment func(string), onError func(error)) (*stt.Handles, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.begins++
	f.onFragment = onFragment
	f.onError = onError
	return &stt.Handles{}, nil
}

func (f *fakeRecognition) End(*stt.Handles) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
}

func (f *fakeRecognition) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins, f.ends
}

func (f *fakeRecognition) emit(text string) {
	f.mu.Lock()
	fn := f.onFragment
	f.mu.Unlock()
	fn(text)
}

func (f *fakeRecognition) fail(err error) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	fn(err)
}

type fakeAnalyzer struct {
	mu        sync.Mutex
	fragments []string
	closed    bool
}

func (a *fakeAnalyzer) OnFragment(_ string, fragment string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fragments = append(a.fragments, fragment)
}

func (a *fakeAnalyzer) Close(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

type fixture struct {
	hub      *hub.Hub
	rec      *fakeRecognition
	analyzer *fakeAnalyzer
	acc      *transcript.Accumulator
	coord    *Coordinator
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		hub:      hub.New(testLogger()),
		rec:      &fakeRecognition{},
		analyzer: &fakeAnalyzer{},
		acc:      transcript.NewAccumulator(0),
	}
	f.coord = New(context.Background(), f.hub, f.rec, f.analyzer, f.acc, opts, testLogger())
	return f
}

func equalBools(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestConnectSendsCurrentStatus(t *testing.T) {
	f := newFixture(Options{})
	a := &fakeViewer{id: "a"}
	f.coord.Connect(a)
	if got := a.statuses(); !equalBools(got, []bool{false}) {
		t.Fatalf("expected initial idle status, got %v", got)
	}

	f.coord.HandleCommand(a, protocol.Command{Command: protocol.CommandStartRecording})
	b := &fakeViewer{id: "b"}
	f.coord.Connect(b)
	if got := b.statuses(); !equalBools(got, []bool{true}) {
		t.Fatalf("late joiner should see recording, got %v", got)
	}
}

type hookedViewer struct {
	fakeViewer
	onSend func()
}

func (h *hookedViewer) Send(evt protocol.Event) error {
	if h.onSend != nil {
		h.onSend()
		h.onSend = nil
	}
	return h.fakeViewer.Send(evt)
}

func TestConnectStatusPrecedesBroadcasts(t *testing.T) {
	f := newFixture(Options{})
	v := &hookedViewer{fakeViewer: fakeViewer{id: "late"}}
	registeredAtStatus := -1
	v.onSend = func() { registeredAtStatus = f.hub.Count() }

	f.coord.Connect(v)
	if registeredAtStatus != 0 {
		t.Fatalf("viewer must receive its status before joining broadcasts, hub had %d viewers", registeredAtStatus)
	}
	if f.hub.Count() != 1 {
		t.Fatal("viewer not registered after connect")
	}
	f.hub.Broadcast(protocol.TextEvent(protocol.EventTranscription, "fever"))
	events := v.received()
	if len(events) != 2 || events[0].Type != protocol.EventRecordingStatus {
		t.Fatalf("expected status first, got %+v", events)
	}
}

func TestStartStopAreIdempotent(t *testing.T) {
	f := newFixture(Options{})
	a, b := &fakeViewer{id: "a"}, &fakeViewer{id: "b"}
	f.coord.Connect(a)
	f.coord.Connect(b)

	start := protocol.Command{Command: protocol.CommandStartRecording}
	stop := protocol.Command{Command: protocol.CommandStopRecording}
	f.coord.HandleCommand(a, start)
	f.coord.HandleCommand(a, start)
	f.coord.HandleCommand(a, stop)
	f.coord.HandleCommand(a, stop)

	begins, ends := f.rec.counts()
	if begins != 1 || ends != 1 {
		t.Fatalf("expected one begin and one end, got %d/%d", begins, ends)
	}
	// connect, broadcast true, ack true, ack true, broadcast false, ack false, ack false
	if got := a.statuses(); !equalBools(got, []bool{false, true, true, true, false, false, false}) {
		t.Fatalf("unexpected issuer statuses %v", got)
	}
	// connect, broadcast true, broadcast false
	if got := b.statuses(); !equalBools(got, []bool{false, true, false}) {
		t.Fatalf("bystander should only see transitions, got %v", got)
	}
}

func TestUnknownCommandIsAcked(t *testing.T) {
	f := newFixture(Options{})
	a := &fakeViewer{id: "a"}
	f.coord.Connect(a)
	if f.coord.HandleCommand(a, protocol.Command{Command: "pauseRecording"}) {
		t.Fatal("unknown command must not start recording")
	}
	if got := a.statuses(); !equalBools(got, []bool{false, false}) {
		t.Fatalf("expected ack for unknown command, got %v", got)
	}
}

func TestStartFailureStaysIdle(t *testing.T) {
	f := newFixture(Options{})
	f.rec.beginErr = errors.New("rec: not found")
	a := &fakeViewer{id: "a"}
	f.coord.Connect(a)
	f.coord.HandleCommand(a, protocol.Command{Command: protocol.CommandStartRecording})

	if f.coord.Recording() {
		t.Fatal("session must stay idle when start fails")
	}
	if got := a.statuses(); !equalBools(got, []bool{false, false}) {
		t.Fatalf("expected idle ack, got %v", got)
	}
}

func TestRecognitionErrorReturnsToIdle(t *testing.T) {
	f := newFixture(Options{})
	a := &fakeViewer{id: "a"}
	f.coord.Connect(a)
	f.coord.HandleCommand(a, protocol.Command{Command: protocol.CommandStartRecording})

	f.rec.fail(errors.New("stream reset"))
	deadline := time.Now().Add(2 * time.Second)
	for f.coord.Recording() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.coord.Recording() {
		t.Fatal("recognition error should stop the recording")
	}
	if _, ends := f.rec.counts(); ends != 1 {
		t.Fatalf("expected handles released, ends=%d", ends)
	}
	statuses := a.statuses()
	if statuses[len(statuses)-1] {
		t.Fatalf("viewers should be told recording stopped, got %v", statuses)
	}
	if f.coord.RecordingID() != "" {
		t.Fatal("recording id should be cleared")
	}
}

func TestStaleRecognitionErrorIgnored(t *testing.T) {
	f := newFixture(Options{})
	start := protocol.Command{Command: protocol.CommandStartRecording}
	stop := protocol.Command{Command: protocol.CommandStopRecording}
	f.coord.HandleCommand(nil, start)
	staleFail := f.rec.onError
	f.coord.HandleCommand(nil, stop)
	f.coord.HandleCommand(nil, start)

	f.coord.recognitionFailed("not-the-current-id", errors.New("late"))
	staleFail(errors.New("late"))
	time.Sleep(20 * time.Millisecond)
	if !f.coord.Recording() {
		t.Fatal("an error from a previous recording must not stop the current one")
	}
}

func TestFragmentsReachAnalyzerAndStatus(t *testing.T) {
	f := newFixture(Options{})
	f.coord.HandleCommand(nil, protocol.Command{Command: protocol.CommandStartRecording})
	f.acc.Append("patient reports fever")
	f.rec.emit("patient reports fever")

	st := f.coord.Status()
	if !st.Recording || st.RecordingID == "" || st.StartedAt == nil {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Fragments != 1 || st.TranscriptLength != len("patient reports fever") {
		t.Fatalf("unexpected transcript stats %+v", st)
	}
	if len(f.analyzer.fragments) != 1 {
		t.Fatalf("fragment not forwarded")
	}
}

func TestResetOnStart(t *testing.T) {
	f := newFixture(Options{ResetOnStart: true})
	f.acc.Append("old consult")
	f.coord.HandleCommand(nil, protocol.Command{Command: protocol.CommandStartRecording})
	if f.acc.Len() != 0 {
		t.Fatal("transcript should be cleared on start")
	}

	g := newFixture(Options{})
	g.acc.Append("old consult")
	g.coord.HandleCommand(nil, protocol.Command{Command: protocol.CommandStartRecording})
	if g.acc.Text() != "old consult" {
		t.Fatal("transcript should survive start by default")
	}
}

func TestCloseStopsAndDrains(t *testing.T) {
	f := newFixture(Options{})
	a := &fakeViewer{id: "a"}
	f.coord.Connect(a)
	f.coord.HandleCommand(a, protocol.Command{Command: protocol.CommandStartRecording})
	if err := f.coord.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if f.coord.Recording() || !f.analyzer.closed {
		t.Fatal("close should stop recording and close the analyzer")
	}
}

type fixedGenerator struct{ reply string }

func (g fixedGenerator) Generate(_ context.Context, _ llm.Request, consumer func(llm.Chunk) error) error {
	return consumer(llm.Chunk{Content: g.reply})
}

func TestConsultationScenario(t *testing.T) {
	h := hub.New(testLogger())
	acc := transcript.NewAccumulator(0)
	pipe := diagnosis.New(acc, h, fixedGenerator{reply: "no markers here"}, diagnosis.Options{QueueSize: 4}, testLogger())
	pipe.Start(context.Background())
	rec := &fakeRecognition{}
	coord := New(context.Background(), h, rec, pipe, acc, Options{}, testLogger())
	defer coord.Close(context.Background())

	a, b := &fakeViewer{id: "a"}, &fakeViewer{id: "b"}
	coord.Connect(a)
	coord.Connect(b)
	coord.HandleCommand(a, protocol.Command{Command: protocol.CommandStartRecording})
	rec.emit("patient reports fever")

	deadline := time.Now().Add(2 * time.Second)
	for len(b.received()) < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	events := b.received()
	if len(events) != 5 {
		t.Fatalf("expected 5 events for bystander, got %d: %+v", len(events), events)
	}
	want := []protocol.EventType{
		protocol.EventRecordingStatus,
		protocol.EventRecordingStatus,
		protocol.EventTranscription,
		protocol.EventDiagnoses,
		protocol.EventQuestions,
	}
	for i, w := range want {
		if events[i].Type != w {
			t.Fatalf("event %d: expected %s, got %s", i, w, events[i].Type)
		}
	}
	if events[2].TextValue() != "patient reports fever" {
		t.Fatalf("unexpected transcription %q", events[2].TextValue())
	}
	if events[3].TextValue() != extract.NoDiagnoses || events[4].TextValue() != extract.NoQuestions {
		t.Fatalf("expected sentinels, got %q / %q", events[3].TextValue(), events[4].TextValue())
	}
}

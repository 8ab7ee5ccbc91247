package stt

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MockRecognizer replays a fixed script on every stream it opens. With
// BytesPerFragment set it also emits a synthetic final fragment each time
// that much audio has been sent.
type MockRecognizer struct {
	Script           []Response
	Err              error
	OpenErr          error
	BytesPerFragment int

	mu      sync.Mutex
	streams []*MockStream
}

func (m *MockRecognizer) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	s := &MockStream{
		ctx:         ctx,
		cfg:         cfg,
		script:      append([]Response(nil), m.Script...),
		err:         m.Err,
		perFragment: m.BytesPerFragment,
		events:      make(chan Response, 64),
		errs:        make(chan error, 1),
		closed:      make(chan struct{}),
	}
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

// Streams returns every stream opened so far.
func (m *MockRecognizer) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockStream(nil), m.streams...)
}

func (m *MockRecognizer) Close() error { return nil }

type MockStream struct {
	ctx         context.Context
	cfg         StreamConfig
	script      []Response
	err         error
	perFragment int

	mu         sync.Mutex
	sent       int
	pending    int
	fragments  int
	sendClosed bool

	events    chan Response
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

// Config returns the stream configuration requested by the caller.
func (s *MockStream) Config() StreamConfig { return s.cfg }

// Push delivers resp to the next Recv.
func (s *MockStream) Push(resp Response) { s.events <- resp }

// PushText delivers a single final fragment.
func (s *MockStream) PushText(text string) {
	s.Push(Response{Results: []Result{{IsFinal: true, Alternatives: []Alternative{{Transcript: text}}}}})
}

// Fail makes the next Recv return err.
func (s *MockStream) Fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *MockStream) BytesSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *MockStream) SendClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendClosed
}

func (s *MockStream) Send(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendClosed {
		return ErrStreamClosed
	}
	s.sent += len(pcm)
	if s.perFragment <= 0 {
		return nil
	}
	s.pending += len(pcm)
	for s.pending >= s.perFragment {
		s.pending -= s.perFragment
		s.fragments++
		resp := Response{Results: []Result{{
			IsFinal:      true,
			Alternatives: []Alternative{{Transcript: fmt.Sprintf("mock fragment %d", s.fragments)}},
		}}}
		select {
		case s.events <- resp:
		default:
		}
	}
	return nil
}

func (s *MockStream) Recv() (Response, error) {
	s.mu.Lock()
	if len(s.script) > 0 {
		resp := s.script[0]
		s.script = s.script[1:]
		s.mu.Unlock()
		return resp, nil
	}
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return Response{}, err
	}
	s.mu.Unlock()

	select {
	case resp := <-s.events:
		return resp, nil
	case err := <-s.errs:
		return Response{}, err
	case <-s.ctx.Done():
		return Response{}, s.ctx.Err()
	case <-s.closed:
		return Response{}, io.EOF
	}
}

func (s *MockStream) CloseSend() error {
	s.mu.Lock()
	s.sendClosed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

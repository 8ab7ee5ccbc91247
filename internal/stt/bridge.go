package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-scribe/internal/capture"
)

// ErrSourceEnded is reported when capture or recognition finishes on its
// own, for example after the recorder's silence window elapses.
var ErrSourceEnded = errors.New("recognition source ended")

// Handles owns the capture stream and recognition stream of one recording.
type Handles struct {
	cancel context.CancelFunc
	audio  io.ReadCloser
	stream Stream
	wg     sync.WaitGroup
	once   sync.Once
	ending atomic.Bool
	report sync.Once
}

// Ended reports whether End has been called.
func (h *Handles) Ended() bool {
	return h == nil || h.ending.Load()
}

// Bridge pipes captured PCM into a recognizer stream and surfaces final
// transcript fragments.
type Bridge struct {
	source     capture.Source
	recognizer Recognizer
	cfg        StreamConfig
	chunk      int
	log        *slog.Logger
}

func NewBridge(source capture.Source, recognizer Recognizer, cfg StreamConfig, logger *slog.Logger) *Bridge {
	chunk := cfg.SampleRate * cfg.Channels * 2 / 10
	if chunk <= 0 {
		chunk = 3200
	}
	return &Bridge{
		source:     source,
		recognizer: recognizer,
		cfg:        cfg,
		chunk:      chunk - chunk%2,
		log:        logger.With(slog.String("component", "recognition-bridge")),
	}
}

// Begin starts capture and recognition. onFragment receives the top
// alternative unmodified, from a single goroutine in provider emission order. onError is called at most once when
// the streams fail or end without End being called.
func (b *Bridge) Begin(ctx context.Context, onFragment func(string), onError func(error)) (*Handles, error) {
	runCtx, cancel := context.WithCancel(ctx)
	audio, err := b.source.Open(runCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open capture: %w", err)
	}
	stream, err := b.recognizer.Open(runCtx, b.cfg)
	if err != nil {
		_ = audio.Close()
		cancel()
		return nil, fmt.Errorf("open recognition stream: %w", err)
	}

	h := &Handles{cancel: cancel, audio: audio, stream: stream}
	fail := func(err error) {
		if h.ending.Load() {
			return
		}
		h.report.Do(func() {
			if onError != nil {
				onError(err)
			}
		})
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		b.pump(h, fail)
	}()
	go func() {
		defer h.wg.Done()
		b.receive(h, onFragment, fail)
	}()
	b.log.Info("recognition started")
	return h, nil
}

func (b *Bridge) pump(h *Handles, fail func(error)) {
	defer func() { _ = h.stream.CloseSend() }()
	buf := make([]byte, b.chunk)
	for {
		n, err := h.audio.Read(buf)
		if n > 0 {
			if sendErr := h.stream.Send(buf[:n]); sendErr != nil {
				if !h.ending.Load() {
					b.log.Warn("recognition send failed", slogError(sendErr))
				}
				fail(fmt.Errorf("send audio: %w", sendErr))
				return
			}
		}
		if err != nil {
			if h.ending.Load() {
				return
			}
			if errors.Is(err, io.EOF) {
				b.log.Info("capture ended")
				return
			}
			b.log.Warn("capture read failed", slogError(err))
			fail(fmt.Errorf("read capture: %w", err))
			return
		}
	}
}

func (b *Bridge) receive(h *Handles, onFragment func(string), fail func(error)) {
	for {
		resp, err := h.stream.Recv()
		if err != nil {
			if h.ending.Load() {
				return
			}
			if errors.Is(err, io.EOF) {
				fail(ErrSourceEnded)
				return
			}
			b.log.Warn("recognition stream failed", slogError(err))
			fail(fmt.Errorf("recognition stream: %w", err))
			return
		}
		res, alt, ok := resp.Top()
		if !ok {
			b.log.Debug("recognition response without results")
			continue
		}
		if b.cfg.InterimResults && !res.IsFinal {
			continue
		}
		if h.ending.Load() {
			return
		}
		onFragment(alt.Transcript)
	}
}

// End stops capture and abandons the recognition stream. It blocks until
// both pumps have exited. Safe on nil and on already ended handles.
func (b *Bridge) End(h *Handles) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.ending.Store(true)
		_ = h.audio.Close()
		h.cancel()
		h.wg.Wait()
		b.log.Info("recognition stopped")
	})
}

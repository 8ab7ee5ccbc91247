package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

var (
	ErrStreamClosed    = errors.New("recognition stream closed")
	ErrUnsupportedMode = errors.New("unsupported stt mode")
)

// StreamConfig describes the audio sent on a recognition stream.
type StreamConfig struct {
	SampleRate     int
	Channels       int
	Language       string
	InterimResults bool
	Model          string
	Punctuation    bool
}

// StreamConfigFrom maps the stt config section onto a stream request.
func StreamConfigFrom(cfg config.STTConfig) StreamConfig {
	return StreamConfig{
		SampleRate:     cfg.SampleRate,
		Channels:       cfg.Channels,
		Language:       cfg.Language,
		InterimResults: cfg.InterimResults,
		Model:          cfg.Model,
		Punctuation:    cfg.Punctuation,
	}
}

type Alternative struct {
	Transcript string
	Confidence float32
}

type Result struct {
	Alternatives []Alternative
	IsFinal      bool
}

// Response is one message received from a recognition stream. A response
// without results signals provider idle or a stream time limit.
type Response struct {
	Results []Result
}

// Top returns the first alternative of the first result.
func (r Response) Top() (Result, Alternative, bool) {
	if len(r.Results) == 0 || len(r.Results[0].Alternatives) == 0 {
		return Result{}, Alternative{}, false
	}
	return r.Results[0], r.Results[0].Alternatives[0], true
}

// Stream is a bidirectional recognition session. Send and CloseSend must be
// called from a single goroutine; Recv may run concurrently with them.
type Stream interface {
	Send(pcm []byte) error
	Recv() (Response, error)
	CloseSend() error
}

// Recognizer abstracts streaming STT backends.
type Recognizer interface {
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
	Close() error
}

// NewRecognizer builds the backend selected by cfg.Mode.
func NewRecognizer(ctx context.Context, cfg config.STTConfig, logger *slog.Logger) (Recognizer, error) {
	switch cfg.Mode {
	case "google":
		return NewGoogleRecognizer(ctx, cfg, logger)
	case "mock":
		return &MockRecognizer{BytesPerFragment: cfg.SampleRate * cfg.Channels * 2 * 3}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, cfg.Mode)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// Package capture produces raw 16-bit little-endian PCM from an audio input.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

var ErrUnsupportedMode = errors.New("unsupported capture mode")

// Source opens a live PCM stream. Closing the returned reader stops capture.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// New selects a source for cfg.Mode.
func New(cfg config.CaptureConfig, logger *slog.Logger) (Source, error) {
	log := logger.With(slog.String("component", "capture"), slog.String("mode", cfg.Mode))
	switch cfg.Mode {
	case "exec":
		return NewExecSource(cfg, log)
	case "wav":
		return NewWavSource(cfg, log), nil
	case "portaudio":
		return NewPortAudioSource(cfg, log)
	case "mock":
		return NewSilenceSource(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, cfg.Mode)
	}
}

// chunkBytes is the PCM byte count for ms milliseconds of audio.
func chunkBytes(sampleRate, channels, ms int) int {
	n := sampleRate * channels * 2 * ms / 1000
	if n < 2 {
		n = 2
	}
	return n - n%2
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

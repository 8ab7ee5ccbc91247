package capture

import (
	"context"
	"io"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// SilenceSource emits zeroed PCM at real-time pace until closed.
type SilenceSource struct {
	chunk    int
	interval time.Duration
}

func NewSilenceSource(cfg config.CaptureConfig) *SilenceSource {
	return &SilenceSource{
		chunk:    chunkBytes(cfg.SampleRate, cfg.Channels, cfg.ChunkMS),
		interval: time.Duration(cfg.ChunkMS) * time.Millisecond,
	}
}

func (s *SilenceSource) Open(ctx context.Context) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		zero := make([]byte, s.chunk)
		for {
			if _, err := pw.Write(zero); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				pw.CloseWithError(ctx.Err())
				return
			case <-ticker.C:
			}
		}
	}()
	return pr, nil
}

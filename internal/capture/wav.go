package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-scribe/internal/config"
)

// WavSource replays a 16-bit PCM WAV file at real-time pace.
type WavSource struct {
	cfg config.CaptureConfig
	log *slog.Logger
}

func NewWavSource(cfg config.CaptureConfig, logger *slog.Logger) *WavSource {
	return &WavSource{cfg: cfg, log: logger}
}

func (s *WavSource) Open(ctx context.Context) (io.ReadCloser, error) {
	pcm, err := readWavPCM(s.cfg.WavPath, s.cfg.SampleRate, s.cfg.Channels)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	chunk := chunkBytes(s.cfg.SampleRate, s.cfg.Channels, s.cfg.ChunkMS)
	interval := time.Duration(s.cfg.ChunkMS) * time.Millisecond

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			for off := 0; off < len(pcm); off += chunk {
				end := off + chunk
				if end > len(pcm) {
					end = len(pcm)
				}
				if _, err := pw.Write(pcm[off:end]); err != nil {
					return
				}
				select {
				case <-ctx.Done():
					pw.CloseWithError(ctx.Err())
					return
				case <-ticker.C:
				}
			}
			if !s.cfg.Loop {
				pw.Close()
				return
			}
		}
	}()
	s.log.Info("wav replay started", slog.String("path", s.cfg.WavPath), slog.Int("bytes", len(pcm)))
	return pr, nil
}

func readWavPCM(path string, sampleRate, channels int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("wav bit depth %d unsupported, want 16", dec.BitDepth)
	}
	if int(dec.SampleRate) != sampleRate || int(dec.NumChans) != channels {
		return nil, fmt.Errorf("wav format %dHz/%dch does not match capture %dHz/%dch",
			dec.SampleRate, dec.NumChans, sampleRate, channels)
	}
	if len(buf.Data) == 0 {
		return nil, fmt.Errorf("%s contains no samples", path)
	}
	out := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sample)))
	}
	return out, nil
}

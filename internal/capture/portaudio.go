//go:build portaudio

package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/loqalabs/loqa-scribe/internal/config"
)

// PortAudioSource reads the default input device.
type PortAudioSource struct {
	cfg config.CaptureConfig
	log *slog.Logger
}

func NewPortAudioSource(cfg config.CaptureConfig, logger *slog.Logger) (Source, error) {
	return &PortAudioSource{cfg: cfg, log: logger}, nil
}

func (s *PortAudioSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("default input device: %w", err)
	}
	frames := s.cfg.SampleRate * s.cfg.ChunkMS / 1000
	pr, pw := io.Pipe()
	chunks := make(chan []int16, 32)

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: s.cfg.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(s.cfg.SampleRate),
		FramesPerBuffer: frames,
	}
	stream, err := portaudio.OpenStream(params, func(in []int16) {
		buf := make([]int16, len(in))
		copy(buf, in)
		select {
		case chunks <- buf:
		default:
			s.log.Debug("capture buffer full, dropping chunk")
		}
	})
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open portaudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start portaudio stream: %w", err)
	}
	s.log.Info("capture started", slog.String("device", device.Name))

	r := &portAudioReader{PipeReader: pr, stream: stream, done: make(chan struct{}), log: s.log}
	go func() {
		for {
			select {
			case <-ctx.Done():
				pw.CloseWithError(ctx.Err())
				return
			case <-r.done:
				pw.Close()
				return
			case samples := <-chunks:
				out := make([]byte, len(samples)*2)
				for i, v := range samples {
					binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
				}
				if _, err := pw.Write(out); err != nil {
					return
				}
			}
		}
	}()
	return r, nil
}

type portAudioReader struct {
	*io.PipeReader
	stream *portaudio.Stream
	done   chan struct{}
	once   sync.Once
	log    *slog.Logger
}

func (r *portAudioReader) Close() error {
	r.once.Do(func() {
		close(r.done)
		_ = r.stream.Stop()
		_ = r.stream.Close()
		portaudio.Terminate()
		_ = r.PipeReader.Close()
		r.log.Info("capture stopped")
	})
	return nil
}

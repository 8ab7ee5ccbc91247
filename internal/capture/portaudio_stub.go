//go:build !portaudio

package capture

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

func NewPortAudioSource(_ config.CaptureConfig, _ *slog.Logger) (Source, error) {
	return nil, fmt.Errorf("%w: portaudio (rebuild with -tags portaudio)", ErrUnsupportedMode)
}

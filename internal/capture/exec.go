package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/mattn/go-shellwords"
)

// ExecSource records through an external program (sox `rec` by default)
// that writes raw PCM to stdout.
type ExecSource struct {
	cmd []string
	cfg config.CaptureConfig
	log *slog.Logger
}

func NewExecSource(cfg config.CaptureConfig, logger *slog.Logger) (*ExecSource, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &ExecSource{cmd: args, cfg: cfg, log: logger}, nil
}

// Args returns the full argument vector passed to the recorder.
func (s *ExecSource) Args() []string {
	args := append([]string{}, s.cmd[1:]...)
	args = append(args,
		"-q",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		"-e", "signed-integer",
		"-b", "16",
		"-t", "raw",
		"-",
	)
	if s.cfg.SilenceSeconds > 0 {
		thr := formatFloat(s.cfg.Threshold) + "%"
		args = append(args,
			"silence", "1", "0.1", thr,
			"1", formatFloat(s.cfg.SilenceSeconds)+"s", thr,
		)
	}
	return args
}

func (s *ExecSource) Open(ctx context.Context) (io.ReadCloser, error) {
	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, s.cmd[0], s.Args()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start capture command: %w", err)
	}
	s.log.Info("capture started", slog.String("command", s.cmd[0]), slog.Int("pid", cmd.Process.Pid))
	return &execReader{ReadCloser: stdout, cmd: cmd, cancel: cancel, stderr: &stderr, log: s.log}, nil
}

type execReader struct {
	io.ReadCloser
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *bytes.Buffer
	log    *slog.Logger
	once   sync.Once
}

func (r *execReader) Close() error {
	r.once.Do(func() {
		r.cancel()
		_ = r.ReadCloser.Close()
		if err := r.cmd.Wait(); err != nil && r.stderr.Len() > 0 {
			r.log.Debug("capture command exited", slogError(err), slog.String("stderr", r.stderr.String()))
		}
		r.log.Info("capture stopped")
	})
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

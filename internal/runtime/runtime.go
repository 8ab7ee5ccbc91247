// Package runtime assembles the scribe service: capture, recognition,
// diagnosis, the viewer hub and the optional bus and journal.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/capture"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/diagnosis"
	"github.com/loqalabs/loqa-scribe/internal/hub"
	"github.com/loqalabs/loqa-scribe/internal/journal"
	"github.com/loqalabs/loqa-scribe/internal/llm"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/session"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/transcript"
	"github.com/nats-io/nats.go"
)

// Option overrides a backend that Init would otherwise build from config.
type Option func(*Runtime)

func WithRecognizer(r stt.Recognizer) Option {
	return func(rt *Runtime) { rt.recognizer = r }
}

func WithGenerator(g llm.Generator) Option {
	return func(rt *Runtime) { rt.generator = g }
}

func WithCaptureSource(s capture.Source) Option {
	return func(rt *Runtime) { rt.source = s }
}

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	metrics     http.Handler
	ready       atomic.Bool
	wg          sync.WaitGroup

	source     capture.Source
	recognizer stt.Recognizer
	generator  llm.Generator

	hub      *hub.Hub
	acc      *transcript.Accumulator
	coord    *session.Coordinator
	journal  *journal.Journal
	nats     *natsserver.EmbeddedServer
	bus      *bus.Client
	commands *nats.Subscription
	upgrader websocket.Upgrader

	initOnce sync.Once
	initErr  error
	closed   atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init builds every component. ctx bounds recordings and diagnosis runs.
// Calling Init more than once returns the first result.
func (r *Runtime) Init(ctx context.Context) error {
	r.initOnce.Do(func() {
		r.initErr = r.init(ctx)
	})
	return r.initErr
}

func (r *Runtime) init(ctx context.Context) error {
	shutdownTelemetry, metrics, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.metrics = metrics

	r.hub = hub.New(r.logger)
	r.acc = transcript.NewAccumulator(r.cfg.Pipeline.MaxTranscriptChars)

	if r.source == nil {
		if r.source, err = capture.New(r.cfg.Capture, r.logger); err != nil {
			return fmt.Errorf("capture: %w", err)
		}
	}
	if r.recognizer == nil {
		if r.recognizer, err = stt.NewRecognizer(ctx, r.cfg.STT, r.logger); err != nil {
			return fmt.Errorf("speech recognizer: %w", err)
		}
	}
	if r.generator == nil {
		if r.generator, err = llm.NewGenerator(ctx, r.cfg.LLM, r.logger); err != nil {
			return fmt.Errorf("language model: %w", err)
		}
	}

	template, err := diagnosis.LoadTemplate(r.cfg.Pipeline.PromptFile)
	if err != nil {
		return err
	}
	pipeline := diagnosis.New(r.acc, r.hub, r.generator, diagnosis.Options{
		QueueSize: r.cfg.Pipeline.QueueSize,
		Timeout:   time.Duration(r.cfg.LLM.TimeoutMS) * time.Millisecond,
		Template:  template,
		Defaults:  llm.RequestFromConfig(r.cfg.LLM),
	}, r.logger)
	pipeline.Start(ctx)

	bridge := stt.NewBridge(r.source, r.recognizer, stt.StreamConfigFrom(r.cfg.STT), r.logger)
	r.coord = session.New(ctx, r.hub, bridge, pipeline, r.acc,
		session.Options{ResetOnStart: r.cfg.Session.ResetOnStart}, r.logger)

	if r.journal, err = journal.Open(ctx, r.cfg.Journal, r.logger); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if r.journal.Enabled() {
		r.hub.AddSink(r.journal.Sink(r.coord.RecordingID))
	}

	if err := r.connectBus(ctx); err != nil {
		return err
	}

	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(r.cfg.Viewer.AllowedOrigins),
	}
	return nil
}

func (r *Runtime) connectBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("embedded bus: %w", err)
	}
	r.nats = embedded

	var servers []string
	if embedded != nil {
		servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, r.cfg.Bus, servers, r.logger)
	if err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	r.bus = client

	if err := client.EnsureEventStream(r.cfg.Journal.MaxEvents); err != nil {
		r.logger.Warn("event stream unavailable, publishing without retention", slogError(err))
	}
	r.hub.AddSink(client.EventSink(r.coord.RecordingID))

	if r.cfg.Bus.AcceptCommands {
		sub, err := client.ServeCommands(func(cmd protocol.Command) bool {
			return r.coord.HandleCommand(nil, cmd)
		})
		if err != nil {
			return fmt.Errorf("bus commands: %w", err)
		}
		r.commands = sub
	}
	return nil
}

// Start initialises the runtime if needed, serves HTTP and blocks until
// ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.Init(ctx); err != nil {
		r.Shutdown(context.Background())
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slogError(err))
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("viewer_path", r.cfg.Viewer.Path),
		slog.String("capture", r.cfg.Capture.Mode),
		slog.String("stt", r.cfg.STT.Mode),
		slog.String("llm", r.cfg.LLM.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slogError(err))
	}
	r.wg.Wait()
	r.Shutdown(shutdownCtx)
	return nil
}

// Shutdown stops any recording, drains pending diagnosis runs and releases
// every backend. It is safe to call more than once.
func (r *Runtime) Shutdown(ctx context.Context) {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	if r.coord != nil {
		if err := r.coord.Close(ctx); err != nil {
			r.logger.Warn("diagnosis pipeline did not drain", slogError(err))
		}
	}
	if r.commands != nil {
		_ = r.commands.Unsubscribe()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.nats != nil {
		r.nats.Shutdown()
	}
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			r.logger.Warn("journal close error", slogError(err))
		}
	}
	if r.recognizer != nil {
		if err := r.recognizer.Close(); err != nil {
			r.logger.Warn("recognizer close error", slogError(err))
		}
	}
	if closer, ok := r.generator.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			r.logger.Warn("language model close error", slogError(err))
		}
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}
}

// Coordinator exposes the session for embedding callers.
func (r *Runtime) Coordinator() *session.Coordinator {
	return r.coord
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

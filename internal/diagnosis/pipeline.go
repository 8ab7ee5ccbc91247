// Package diagnosis turns each final transcript fragment into a language
// model request and broadcasts the extracted diagnoses and questions.
//
// Fragments are accepted on the recognition goroutine: the transcript is
// extended and the fragment broadcast before OnFragment returns. Model calls
// run on a single worker in fragment order, so results reach viewers in the
// same order even when a call is slow.
package diagnosis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/extract"
	"github.com/loqalabs/loqa-scribe/internal/llm"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/transcript"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/loqalabs/loqa-scribe/diagnosis"

// Broadcaster delivers an event to every connected viewer.
type Broadcaster interface {
	Broadcast(evt protocol.Event)
}

type Options struct {
	QueueSize int
	Timeout   time.Duration
	Template  string
	Defaults  llm.Request
}

type job struct {
	seq         uint64
	recordingID string
	transcript  string
	enqueued    time.Time
}

// Stats counts pipeline outcomes since start.
type Stats struct {
	Pending   int
	Completed uint64
	Failed    uint64
	Coalesced uint64
}

type Pipeline struct {
	acc  *transcript.Accumulator
	out  Broadcaster
	gen  llm.Generator
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	queue   []job
	seq     uint64
	closing bool
	stats   Stats
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tracer    trace.Tracer
	fragments metric.Int64Counter
	runs      metric.Int64Counter
	latency   metric.Float64Histogram
	coalesced metric.Int64Counter
}

func New(acc *transcript.Accumulator, out Broadcaster, gen llm.Generator, opts Options, logger *slog.Logger) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Template == "" {
		opts.Template = DefaultTemplate
	}
	p := &Pipeline{
		acc:    acc,
		out:    out,
		gen:    gen,
		opts:   opts,
		log:    logger.With(slog.String("component", "diagnosis")),
		wake:   make(chan struct{}, 1),
		tracer: otel.Tracer(instrumentation),
	}
	meter := otel.Meter(instrumentation)
	p.fragments, _ = meter.Int64Counter("scribe.fragments", metric.WithDescription("Final transcript fragments received"))
	p.runs, _ = meter.Int64Counter("scribe.pipeline.runs", metric.WithDescription("Diagnosis runs by outcome"))
	p.latency, _ = meter.Float64Histogram("scribe.pipeline.latency", metric.WithUnit("ms"), metric.WithDescription("Language model round trip"))
	p.coalesced, _ = meter.Int64Counter("scribe.pipeline.coalesced", metric.WithDescription("Pending runs dropped on queue overflow"))
	return p
}

// Start launches the worker. Runs inherit ctx; cancelling it aborts the
// in-flight model call.
func (p *Pipeline) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.work()
	}()
}

// OnFragment appends fragment to the transcript, broadcasts it, and queues a
// diagnosis run over the combined transcript.
func (p *Pipeline) OnFragment(recordingID, fragment string) {
	combined := p.acc.Append(fragment)
	p.out.Broadcast(protocol.TextEvent(protocol.EventTranscription, fragment))
	if p.fragments != nil {
		p.fragments.Add(context.Background(), 1)
	}

	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		p.log.Warn("pipeline closed, fragment not analysed", slog.String("recording_id", recordingID))
		return
	}
	p.seq++
	if len(p.queue) >= p.opts.QueueSize {
		dropped := p.queue[0]
		p.queue = p.queue[1:]
		p.stats.Coalesced++
		p.log.Info("coalescing pending diagnosis run",
			slog.Uint64("dropped_seq", dropped.seq),
			slog.Int("queue_size", p.opts.QueueSize))
		if p.coalesced != nil {
			p.coalesced.Add(context.Background(), 1)
		}
	}
	p.queue = append(p.queue, job{seq: p.seq, recordingID: recordingID, transcript: combined, enqueued: time.Now()})
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Pending = len(p.queue)
	return s
}

// Close stops accepting runs and waits for queued runs to finish. If ctx
// expires first the in-flight call is cancelled and the rest discarded.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		<-done
		return ctx.Err()
	}
}

func (p *Pipeline) work() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			closing := p.closing
			p.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-p.wake:
				continue
			case <-p.ctx.Done():
				return
			}
		}
		next := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if p.ctx.Err() != nil {
			return
		}
		p.run(next)
	}
}

func (p *Pipeline) run(j job) {
	ctx, span := p.tracer.Start(p.ctx, "diagnosis.run", trace.WithAttributes(
		attribute.String("recording_id", j.recordingID),
		attribute.Int64("seq", int64(j.seq)),
		attribute.Int("transcript_chars", len(j.transcript)),
	))
	defer span.End()
	log := p.log.With(slog.String("recording_id", j.recordingID), slog.Uint64("seq", j.seq))

	callCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	req := p.opts.Defaults
	req.SessionID = j.recordingID
	req.Prompt = Fill(p.opts.Template, j.transcript)
	if sc := span.SpanContext(); sc.HasTraceID() {
		req.TraceID = sc.TraceID().String()
	}

	out, err := llm.Complete(callCtx, p.gen, req)
	p.recordLatency(out.Latency)
	if errors.Is(err, llm.ErrEmptyResponse) {
		// a blank reply still answers the transcript: both sections fall back
		log.Warn("language model returned an empty reply")
		err = nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "language model call failed")
		p.finish(false)
		log.Warn("diagnosis run failed", slogError(err), slog.Duration("queued", time.Since(j.enqueued)))
		return
	}

	res := extract.Parse(out.Text)
	p.out.Broadcast(protocol.TextEvent(protocol.EventDiagnoses, res.Diagnoses))
	p.out.Broadcast(protocol.TextEvent(protocol.EventQuestions, res.Questions))
	p.finish(true)
	log.Info("diagnosis run complete",
		slog.Duration("latency", out.Latency),
		slog.Int("prompt_tokens", out.PromptTokens),
		slog.Int("completion_tokens", out.CompletionTokens))
}

func (p *Pipeline) finish(ok bool) {
	outcome := "ok"
	p.mu.Lock()
	if ok {
		p.stats.Completed++
	} else {
		p.stats.Failed++
		outcome = "failed"
	}
	p.mu.Unlock()
	if p.runs != nil {
		p.runs.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (p *Pipeline) recordLatency(d time.Duration) {
	if p.latency != nil {
		p.latency.Record(context.Background(), float64(d.Microseconds())/1000)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiGenerator sends prompts through a Gemini chat session. With
// KeepHistory the session accumulates every prompt and reply for the life of
// the process; otherwise each request starts a fresh chat.
type GeminiGenerator struct {
	client      *genai.Client
	model       *genai.GenerativeModel
	keepHistory bool
	log         *slog.Logger

	mu   sync.Mutex
	chat *genai.ChatSession
}

func NewGeminiGenerator(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(float32(cfg.Temperature))
	model.SetTopP(float32(cfg.TopP))
	if cfg.TopK > 0 {
		model.SetTopK(int32(cfg.TopK))
	}
	if cfg.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(cfg.MaxTokens))
	}
	model.ResponseMIMEType = cfg.ResponseMIMEType
	return &GeminiGenerator{
		client:      client,
		model:       model,
		keepHistory: cfg.KeepHistory,
		log:         logger.With(slog.String("component", "llm-gemini"), slog.String("model", cfg.Model)),
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if req.System != "" {
		g.model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if g.chat == nil || !g.keepHistory {
		g.chat = g.model.StartChat()
	}

	start := time.Now()
	stream := g.chat.SendMessageStream(ctx, genai.Text(req.Prompt))
	var promptTokens, completionTokens int
	for {
		resp, err := stream.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		if resp.UsageMetadata != nil {
			promptTokens = int(resp.UsageMetadata.PromptTokenCount)
			completionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		text := responseText(resp)
		if text == "" {
			continue
		}
		if err := consumer(Chunk{
			SessionID: req.SessionID,
			Content:   text,
			Partial:   true,
			Latency:   time.Since(start),
			TraceID:   req.TraceID,
		}); err != nil {
			return err
		}
	}
	g.log.Debug("gemini reply complete",
		slog.Int("history", len(g.chat.History)),
		slog.Int("prompt_tokens", promptTokens),
		slog.Int("completion_tokens", completionTokens))
	return consumer(Chunk{
		SessionID:        req.SessionID,
		Partial:          false,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Latency:          time.Since(start),
		TraceID:          req.TraceID,
	})
}

// ResetHistory discards the chat session so the next request starts fresh.
func (g *GeminiGenerator) ResetHistory() {
	g.mu.Lock()
	g.chat = nil
	g.mu.Unlock()
}

func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	return text.String()
}

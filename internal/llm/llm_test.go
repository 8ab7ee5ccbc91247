package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

type staticGenerator struct {
	chunks []Chunk
	err    error
}

func (s staticGenerator) Generate(_ context.Context, _ Request, consumer func(Chunk) error) error {
	for _, c := range s.chunks {
		if err := consumer(c); err != nil {
			return err
		}
	}
	return s.err
}

func TestCompleteConcatenatesChunks(t *testing.T) {
	g := staticGenerator{chunks: []Chunk{
		{Content: "$$$ Migraine ", Partial: true},
		{Content: "$$$ !!! Any aura? !!!", Partial: true},
		{Partial: false, PromptTokens: 120, CompletionTokens: 14},
	}}
	out, err := Complete(context.Background(), g, Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Text != "$$$ Migraine $$$ !!! Any aura? !!!" {
		t.Fatalf("unexpected text %q", out.Text)
	}
	if out.PromptTokens != 120 || out.CompletionTokens != 14 {
		t.Fatalf("unexpected usage %+v", out)
	}
}

func TestCompleteEmptyResponse(t *testing.T) {
	_, err := Complete(context.Background(), staticGenerator{chunks: []Chunk{{Content: "  \n"}}}, Request{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestCompletePropagatesError(t *testing.T) {
	boom := errors.New("quota exceeded")
	_, err := Complete(context.Background(), staticGenerator{err: boom}, Request{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected generator error, got %v", err)
	}
}

func TestOllamaGeneratorStreams(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprintln(w, `{"response":"$$$ Flu","done":false}`)
		fmt.Fprintln(w, `{"response":" $$$","done":true,"eval_count":7,"prompt_eval_count":30}`)
	}))
	defer srv.Close()

	cfg := config.Default().LLM
	g := NewOllamaGenerator(srv.URL+"/", "medllama")
	req := RequestFromConfig(cfg)
	req.Prompt = "Transcript: fever"
	out, err := Complete(context.Background(), g, req)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Text != "$$$ Flu $$$" {
		t.Fatalf("unexpected text %q", out.Text)
	}
	if got.Model != "medllama" || !got.Stream || got.Options.TopK != 64 || got.Options.NumPredict != 8192 {
		t.Fatalf("unexpected request %+v", got)
	}
	if out.CompletionTokens != 7 || out.PromptTokens != 30 {
		t.Fatalf("unexpected usage %+v", out)
	}
}

func TestOllamaGeneratorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewOllamaGenerator(srv.URL, "").Generate(context.Background(), Request{}, func(Chunk) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestExecGenerator(t *testing.T) {
	g, err := NewExecGenerator(`printf '{"content":"$$$ Sinusitis $$$","completion_tokens":3}'`)
	if err != nil {
		t.Fatalf("new exec generator: %v", err)
	}
	out, err := Complete(context.Background(), g, Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Text != "$$$ Sinusitis $$$" || out.CompletionTokens != 3 {
		t.Fatalf("unexpected completion %+v", out)
	}
}

func TestNewExecGeneratorRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecGenerator("   "); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestMockGeneratorIsParseable(t *testing.T) {
	out, err := Complete(context.Background(), NewMockGenerator(), Request{Prompt: "abc"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !strings.Contains(out.Text, "$$$") || !strings.Contains(out.Text, "!!!") {
		t.Fatalf("mock reply should carry both sections: %q", out.Text)
	}
}

func TestNewGeneratorModes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default().LLM
	cfg.Mode = "mock"
	if _, err := NewGenerator(context.Background(), cfg, logger); err != nil {
		t.Fatalf("mock: %v", err)
	}
	cfg.Mode = "ollama"
	if _, err := NewGenerator(context.Background(), cfg, logger); err != nil {
		t.Fatalf("ollama: %v", err)
	}
	cfg.Mode = "bard"
	if _, err := NewGenerator(context.Background(), cfg, logger); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

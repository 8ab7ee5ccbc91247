package llm

import (
	"context"
	"fmt"
	"time"
)

type mockGenerator struct{}

// NewMockGenerator returns a generator that answers every prompt with a
// fixed, well-formed diagnoses and questions reply.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	content := fmt.Sprintf("$$$\n    [mock] differential for a %d character prompt\n$$$\n!!!\n    [mock] Can you describe the symptoms in more detail?\n!!!", len(req.Prompt))
	return consumer(Chunk{
		SessionID: req.SessionID,
		Content:   content,
		Partial:   false,
		Latency:   20 * time.Millisecond,
		TraceID:   req.TraceID,
	})
}

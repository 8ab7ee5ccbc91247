package stt

import (
	"context"
	"fmt"
	"log/slog"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"google.golang.org/api/option"
)

// GoogleRecognizer streams LINEAR16 audio to Cloud Speech-to-Text.
type GoogleRecognizer struct {
	client *speech.Client
	log    *slog.Logger
}

func NewGoogleRecognizer(ctx context.Context, cfg config.STTConfig, logger *slog.Logger) (*GoogleRecognizer, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &GoogleRecognizer{
		client: client,
		log:    logger.With(slog.String("component", "stt-google")),
	}, nil
}

func (g *GoogleRecognizer) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("open streaming recognize: %w", err)
	}
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            int32(cfg.SampleRate),
					AudioChannelCount:          int32(cfg.Channels),
					LanguageCode:               cfg.Language,
					Model:                      cfg.Model,
					EnableAutomaticPunctuation: cfg.Punctuation,
				},
				InterimResults: cfg.InterimResults,
			},
		},
	}
	if err := stream.Send(req); err != nil {
		return nil, fmt.Errorf("send streaming config: %w", err)
	}
	g.log.Debug("recognition stream opened", slog.String("language", cfg.Language), slog.Int("sample_rate", cfg.SampleRate))
	return &googleStream{stream: stream}, nil
}

func (g *GoogleRecognizer) Close() error {
	return g.client.Close()
}

type googleStream struct {
	stream speechpb.Speech_StreamingRecognizeClient
}

func (s *googleStream) Send(pcm []byte) error {
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: pcm},
	})
}

func (s *googleStream) Recv() (Response, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return Response{}, err
	}
	if st := resp.GetError(); st != nil {
		return Response{}, fmt.Errorf("recognition error %d: %s", st.GetCode(), st.GetMessage())
	}
	out := Response{Results: make([]Result, 0, len(resp.GetResults()))}
	for _, res := range resp.GetResults() {
		r := Result{IsFinal: res.GetIsFinal()}
		for _, alt := range res.GetAlternatives() {
			r.Alternatives = append(r.Alternatives, Alternative{
				Transcript: alt.GetTranscript(),
				Confidence: alt.GetConfidence(),
			})
		}
		out.Results = append(out.Results, r)
	}
	return out, nil
}

func (s *googleStream) CloseSend() error {
	return s.stream.CloseSend()
}

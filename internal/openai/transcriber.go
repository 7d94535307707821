package openai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-voicerec/internal/config"
	"github.com/Raikerian/go-discord-voicerec/internal/voice"
)

// AudioClient is the subset of the OpenAI client the transcriber uses.
type AudioClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Transcriber sends captured recordings to Whisper and stores the text next
// to the WAV file.
type Transcriber struct {
	client   AudioClient
	model    string
	language string
	logger   *zap.Logger
}

// TranscriberParams holds dependencies for NewTranscriber.
type TranscriberParams struct {
	fx.In
	Cfg    *config.Config
	Client *openai.Client `optional:"true"`
	Logger *zap.Logger
}

// NewTranscriber creates the sink. Without a client it consumes nothing.
func NewTranscriber(params TranscriberParams) *Transcriber {
	t := &Transcriber{
		model:    params.Cfg.Transcription.Model,
		language: params.Cfg.Transcription.Language,
		logger:   params.Logger.Named("transcriber"),
	}
	if params.Client != nil {
		t.client = params.Client
	}

	return t
}

// NewTranscriberWithClient creates a sink backed by client.
func NewTranscriberWithClient(client AudioClient, model, language string, logger *zap.Logger) *Transcriber {
	return &Transcriber{client: client, model: model, language: language, logger: logger}
}

func (t *Transcriber) Name() string {
	return "openai-transcription"
}

// Enabled reports whether results are actually submitted.
func (t *Transcriber) Enabled() bool {
	return t.client != nil
}

// Consume transcribes result's recording and writes <recording>.txt.
func (t *Transcriber) Consume(ctx context.Context, result voice.Result) error {
	if t.client == nil || !result.Captured() {
		return nil
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: result.OutputPath,
		Language: t.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return fmt.Errorf("failed to transcribe %s: %w", result.OutputPath, err)
	}

	text := strings.TrimSpace(resp.Text)
	path := TranscriptPath(result.OutputPath)
	if err := os.WriteFile(path, []byte(text+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}

	t.logger.Info("Recording transcribed",
		zap.String("session_id", result.SessionID),
		zap.String("user_id", result.Key.UserID.String()),
		zap.String("transcript_path", path),
		zap.Int("characters", len(text)))
	t.logger.Debug("Transcript", zap.String("text", text))

	return nil
}

// TranscriptPath returns where the transcript of wavPath is written.
func TranscriptPath(wavPath string) string {
	return strings.TrimSuffix(wavPath, ".wav") + ".txt"
}

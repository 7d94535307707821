// Package openai provides the OpenAI client and the transcription sink that
// submits finished recordings to the audio transcription endpoint.
package openai

import (
	"errors"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-voicerec/internal/config"
	"github.com/Raikerian/go-discord-voicerec/internal/voice"
)

// Module provides the transcription sink into the recorder's result sinks.
var Module = fx.Module("openai",
	fx.Provide(
		NewClient,
		fx.Annotate(
			NewTranscriber,
			fx.As(new(voice.ResultSink)),
			fx.ResultTags(`group:"result_sinks"`),
		),
	),
)

// NewClient creates the OpenAI client. It returns nil when transcription is
// disabled.
func NewClient(cfg *config.Config, logger *zap.Logger) (*openai.Client, error) {
	if !cfg.Transcription.Enabled {
		logger.Info("Transcription disabled, OpenAI client not created")

		return nil, nil
	}

	if cfg.Transcription.APIKey == "" {
		logger.Error("OpenAI API key is not configured in config.yaml")

		return nil, errors.New("OpenAI API key (config.Transcription.APIKey) is not configured")
	}

	client := openai.NewClient(cfg.Transcription.APIKey)
	logger.Info("OpenAI client created successfully.", zap.String("model", cfg.Transcription.Model))

	return client, nil
}

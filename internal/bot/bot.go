package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/state"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-voicerec/internal/config"
	"github.com/Raikerian/go-discord-voicerec/internal/voice"
)

// Recorder is the part of voice.Recorder the bot drives.
type Recorder interface {
	Listen(ctx context.Context, channelID discord.ChannelID) error
	StopRecording(channelID discord.ChannelID, userID discord.UserID) bool
	Sessions() []*voice.CaptureSession
	Close(ctx context.Context) error
}

// Bot represents the Discord bot.
type Bot struct {
	Config   *config.Config
	Recorder Recorder
	Logger   *zap.Logger

	removeHandler func()
}

// NewBotParameters holds dependencies for NewBot
type NewBotParameters struct {
	fx.In

	Cfg      *config.Config
	State    *state.State
	Recorder *voice.Recorder
	Logger   *zap.Logger
}

// NewBot creates the bot and subscribes it to voice state updates.
func NewBot(params NewBotParameters) (*Bot, error) {
	if params.State == nil {
		return nil, errors.New("state provided to NewBot is nil")
	}
	if params.Recorder == nil {
		return nil, errors.New("recorder provided to NewBot is nil")
	}

	b := New(params.Cfg, params.Recorder, params.Logger)
	b.removeHandler = params.State.AddHandler(func(e *gateway.VoiceStateUpdateEvent) {
		b.handleVoiceState(e)
	})

	params.Logger.Info("NewBot created successfully")

	return b, nil
}

// New creates a bot around rec without subscribing to gateway events.
func New(cfg *config.Config, rec Recorder, logger *zap.Logger) *Bot {
	return &Bot{Config: cfg, Recorder: rec, Logger: logger}
}

// Start listens on every channel in discord.auto_listen_channels.
func (b *Bot) Start(ctx context.Context) error {
	channels := b.Config.Discord.AutoListenChannels
	if len(channels) == 0 {
		b.Logger.Info("No auto-listen channels configured; recording only on request")

		return nil
	}

	var errs []error
	for _, channelID := range channels {
		if err := b.Recorder.Listen(ctx, channelID); err != nil {
			b.Logger.Error("Failed to listen on voice channel",
				zap.String("channel_id", channelID.String()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("channel %s: %w", channelID, err))

			continue
		}
	}

	// one reachable channel is enough to run
	if len(errs) == len(channels) {
		return errors.Join(errs...)
	}

	return nil
}

// Stop finalizes every recording and leaves all channels.
func (b *Bot) Stop(ctx context.Context) error {
	if b.removeHandler != nil {
		b.removeHandler()
	}

	return b.Recorder.Close(ctx)
}

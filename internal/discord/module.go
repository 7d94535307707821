// Package discord provides the Discord gateway session, its cached state and
// the voice transport built on them.
package discord

import (
	"context"
	"errors"

	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"github.com/diamondburned/arikawa/v3/state"
	"github.com/diamondburned/arikawa/v3/state/store/defaultstore"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-voicerec/internal/config"
	recvoice "github.com/Raikerian/go-discord-voicerec/internal/voice"
)

// Intents are the gateway intents voice capture depends on: guilds for the
// channel cache, voice states for joining and participant tracking.
const Intents = gateway.IntentGuilds | gateway.IntentGuildVoiceStates

// Module provides Discord-related dependencies.
var Module = fx.Module("discord",
	fx.Provide(
		NewSession,
		NewState,
		fx.Annotate(NewTransport, fx.As(new(recvoice.Transport))),
	),
)

// SessionParams holds dependencies for NewSession.
type SessionParams struct {
	fx.In
	Cfg    *config.Config
	LC     fx.Lifecycle
	Logger *zap.Logger
}

// SessionResult holds results from NewSession.
type SessionResult struct {
	fx.Out
	Session *session.Session
}

// NewSession creates the gateway session and ties it to the fx lifecycle.
func NewSession(params SessionParams) (SessionResult, error) {
	if params.Cfg.Discord.BotToken == "" {
		return SessionResult{}, errors.New("discord bot token is not set in config")
	}

	s := session.New("Bot " + params.Cfg.Discord.BotToken)
	s.AddIntents(Intents)

	params.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			params.Logger.Info("Opening Discord session...")

			return s.Open(ctx)
		},
		OnStop: func(ctx context.Context) error {
			params.Logger.Info("Closing Discord session...")

			return s.Close()
		},
	})

	return SessionResult{Session: s}, nil
}

// StateParams holds dependencies for NewState.
type StateParams struct {
	fx.In
	Session *session.Session
	Logger  *zap.Logger
}

// StateResult holds results from NewState.
type StateResult struct {
	fx.Out
	State *state.State
}

// NewState creates a State wrapper around the Session.
func NewState(params StateParams) StateResult {
	st := state.NewFromSession(params.Session, defaultstore.New())

	params.Logger.Info("Created Discord state from session with default stores")

	return StateResult{State: st}
}

package discord_test

import (
	"testing"

	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/go-discord-voicerec/internal/config"
	"github.com/Raikerian/go-discord-voicerec/internal/discord"
)

func TestNewSession(t *testing.T) {
	tests := map[string]struct {
		token   string
		wantErr bool
	}{
		"missing token": {token: "", wantErr: true},
		"token set":     {token: "abc.def.ghi"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			lc := fxtest.NewLifecycle(t)
			cfg := &config.Config{Discord: config.DiscordConfig{BotToken: tt.token}}

			result, err := discord.NewSession(discord.SessionParams{
				Cfg:    cfg,
				LC:     lc,
				Logger: zaptest.NewLogger(t),
			})
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			require.NotNil(t, result.Session)
		})
	}
}

func TestIntentsIncludeVoiceStates(t *testing.T) {
	assert.NotZero(t, discord.Intents&gateway.IntentGuildVoiceStates)
	assert.NotZero(t, discord.Intents&gateway.IntentGuilds)
}

func TestNewTransport(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	logger := zaptest.NewLogger(t)
	cfg := &config.Config{Discord: config.DiscordConfig{BotToken: "abc.def.ghi"}}

	result, err := discord.NewSession(discord.SessionParams{Cfg: cfg, LC: lc, Logger: logger})
	require.NoError(t, err)

	st := discord.NewState(discord.StateParams{Session: result.Session, Logger: logger})
	assert.NotNil(t, discord.NewTransport(st.State, logger))
}

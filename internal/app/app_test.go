package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/go-discord-voicerec/internal/bot"
	"github.com/Raikerian/go-discord-voicerec/internal/config"
	"github.com/Raikerian/go-discord-voicerec/internal/voice"
)

type stubRecorder struct {
	listened  []discord.ChannelID
	listenErr error
	closed    bool
}

func (r *stubRecorder) Listen(_ context.Context, channelID discord.ChannelID) error {
	if r.listenErr != nil {
		return r.listenErr
	}
	r.listened = append(r.listened, channelID)

	return nil
}

func (r *stubRecorder) StopRecording(discord.ChannelID, discord.UserID) bool { return false }

func (r *stubRecorder) Sessions() []*voice.CaptureSession { return nil }

func (r *stubRecorder) Close(context.Context) error {
	r.closed = true

	return nil
}

func TestLifecycleHooks(t *testing.T) {
	rec := &stubRecorder{}
	cfg := &config.Config{Discord: config.DiscordConfig{AutoListenChannels: []discord.ChannelID{42}}}
	logger := zaptest.NewLogger(t)

	app := fxtest.New(t,
		fx.Supply(bot.New(cfg, rec, logger), logger),
		fx.Invoke(registerLifecycleHooks),
	)

	app.RequireStart()
	assert.Equal(t, []discord.ChannelID{42}, rec.listened)
	assert.False(t, rec.closed)

	app.RequireStop()
	assert.True(t, rec.closed)
}

func TestApplicationRun(t *testing.T) {
	tests := map[string]struct {
		listenErr error
		wantErr   bool
	}{
		"stops when the context ends": {},
		"start failure is returned": {
			listenErr: errors.New("channel unreachable"),
			wantErr:   true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := &stubRecorder{listenErr: tt.listenErr}
			cfg := &config.Config{Discord: config.DiscordConfig{AutoListenChannels: []discord.ChannelID{42}}}
			logger := zaptest.NewLogger(t)

			application := New(
				fx.NopLogger,
				fx.Supply(bot.New(cfg, rec, logger), logger),
			).WithShutdownTimeout(time.Second)
			require.NoError(t, application.Err())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- application.Run(ctx) }()

			if !tt.wantErr {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}
			defer cancel()

			select {
			case err := <-done:
				if tt.wantErr {
					require.Error(t, err)
					assert.False(t, rec.closed)

					return
				}
				require.NoError(t, err)
				assert.Equal(t, []discord.ChannelID{42}, rec.listened)
				assert.True(t, rec.closed)
			case <-time.After(2 * time.Second):
				t.Fatal("Run did not return")
			}
		})
	}
}

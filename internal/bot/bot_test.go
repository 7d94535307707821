package bot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/go-discord-voicerec/internal/config"
	"github.com/Raikerian/go-discord-voicerec/internal/voice"
)

type fakeRecorder struct {
	mu        sync.Mutex
	listenErr map[discord.ChannelID]error
	listened  []discord.ChannelID
	stopped   []voice.Key
	sessions  []*voice.CaptureSession
	closed    bool
}

func (r *fakeRecorder) Listen(_ context.Context, channelID discord.ChannelID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.listenErr[channelID]; err != nil {
		return err
	}
	r.listened = append(r.listened, channelID)

	return nil
}

func (r *fakeRecorder) StopRecording(channelID discord.ChannelID, userID discord.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = append(r.stopped, voice.Key{ChannelID: channelID, UserID: userID})

	return true
}

func (r *fakeRecorder) Sessions() []*voice.CaptureSession {
	return r.sessions
}

func (r *fakeRecorder) Close(context.Context) error {
	r.closed = true

	return nil
}

func TestBot_Start(t *testing.T) {
	tests := map[string]struct {
		channels  []discord.ChannelID
		failing   map[discord.ChannelID]error
		wantErr   bool
		wantListn []discord.ChannelID
	}{
		"nothing configured": {},
		"all channels joined": {
			channels:  []discord.ChannelID{1, 2},
			wantListn: []discord.ChannelID{1, 2},
		},
		"partial failure still starts": {
			channels:  []discord.ChannelID{1, 2},
			failing:   map[discord.ChannelID]error{1: voice.ErrConnection},
			wantListn: []discord.ChannelID{2},
		},
		"every channel failing is an error": {
			channels: []discord.ChannelID{1},
			failing:  map[discord.ChannelID]error{1: errors.New("boom")},
			wantErr:  true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := &config.Config{Discord: config.DiscordConfig{AutoListenChannels: tt.channels}}
			rec := &fakeRecorder{listenErr: tt.failing}
			b := New(cfg, rec, zaptest.NewLogger(t))

			err := b.Start(context.Background())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantListn, rec.listened)
		})
	}
}

func TestBot_StopClosesRecorder(t *testing.T) {
	rec := &fakeRecorder{}
	b := New(&config.Config{}, rec, zaptest.NewLogger(t))

	require.NoError(t, b.Stop(context.Background()))
	assert.True(t, rec.closed)
}

func TestBot_VoiceStateStopsDepartedParticipants(t *testing.T) {
	session := func(channel discord.ChannelID, user discord.UserID) *voice.CaptureSession {
		return voice.NewCaptureSession(voice.SessionParams{
			Key: voice.Key{ChannelID: channel, UserID: user},
			End: voice.Manual(),
		})
	}

	rec := &fakeRecorder{sessions: []*voice.CaptureSession{
		session(10, 1),
		session(20, 1),
		session(10, 2),
	}}
	b := New(&config.Config{}, rec, zaptest.NewLogger(t))

	// user 1 moves to channel 20
	b.handleVoiceState(&gateway.VoiceStateUpdateEvent{
		VoiceState: discord.VoiceState{UserID: 1, ChannelID: 20},
	})

	assert.Equal(t, []voice.Key{{ChannelID: 10, UserID: 1}}, rec.stopped)
}

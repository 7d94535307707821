package bot

import (
	"github.com/diamondburned/arikawa/v3/gateway"
	"go.uber.org/zap"
)

// handleVoiceState stops a participant's recordings in every channel they are
// no longer connected to.
func (b *Bot) handleVoiceState(e *gateway.VoiceStateUpdateEvent) {
	for _, session := range b.Recorder.Sessions() {
		key := session.Key()
		if key.UserID != e.UserID || key.ChannelID == e.ChannelID {
			continue
		}

		if b.Recorder.StopRecording(key.ChannelID, key.UserID) {
			b.Logger.Info("Participant left voice channel, recording stopped",
				zap.String("channel_id", key.ChannelID.String()),
				zap.String("user_id", key.UserID.String()))
		}
	}
}

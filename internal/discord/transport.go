package discord

import (
	"context"
	"fmt"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/state"
	"github.com/diamondburned/arikawa/v3/voice"
	"github.com/diamondburned/arikawa/v3/voice/udp"
	"github.com/diamondburned/arikawa/v3/voice/voicegateway"
	"go.uber.org/zap"

	recvoice "github.com/Raikerian/go-discord-voicerec/internal/voice"
)

// Transport joins voice channels through arikawa's voice package.
type Transport struct {
	state  *state.State
	logger *zap.Logger
}

// NewTransport creates a transport bound to the gateway state.
func NewTransport(st *state.State, logger *zap.Logger) *Transport {
	return &Transport{state: st, logger: logger}
}

// Guild returns the guild of voice channel channelID.
func (t *Transport) Guild(ctx context.Context, channelID discord.ChannelID) (discord.GuildID, error) {
	channel, err := t.voiceChannel(ctx, channelID)
	if err != nil {
		return 0, err
	}

	return channel.GuildID, nil
}

func (t *Transport) voiceChannel(ctx context.Context, channelID discord.ChannelID) (*discord.Channel, error) {
	channel, err := t.state.WithContext(ctx).Channel(channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel info: %w", err)
	}

	if channel.Type != discord.GuildVoice && channel.Type != discord.GuildStageVoice {
		return nil, fmt.Errorf("channel %s is not a voice channel", channelID)
	}

	return channel, nil
}

// Open joins channelID and prepares the UDP socket for receiving.
func (t *Transport) Open(ctx context.Context, channelID discord.ChannelID) (recvoice.Link, error) {
	channel, err := t.voiceChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	session, err := voice.NewSession(t.state)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice session: %w", err)
	}

	// a deafened member receives no audio
	if err := session.JoinChannel(ctx, channelID, false, false); err != nil {
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}

	if err := session.Speaking(ctx, voicegateway.Microphone); err != nil {
		_ = session.Leave(ctx)

		return nil, fmt.Errorf("failed to set speaking mode: %w", err)
	}

	// arikawa only completes the UDP handshake on the first write; until then
	// ReadPacket blocks forever.
	_, _ = session.Write([]byte{})

	t.logger.Debug("Voice session configured",
		zap.String("channel_id", channelID.String()),
		zap.String("guild_id", channel.GuildID.String()))

	return &link{session: session, guildID: channel.GuildID}, nil
}

type link struct {
	session *voice.Session
	guildID discord.GuildID
}

func (l *link) GuildID() discord.GuildID {
	return l.guildID
}

func (l *link) ReadPacket() (*recvoice.Packet, error) {
	packet, err := l.session.ReadPacket()
	if err != nil {
		return nil, err
	}

	return convertPacket(packet), nil
}

func (l *link) OnSpeaking(fn func(recvoice.SpeakingUpdate)) func() {
	return l.session.AddHandler(func(ev *voicegateway.SpeakingEvent) {
		fn(recvoice.SpeakingUpdate{
			SSRC:     ev.SSRC,
			UserID:   ev.UserID,
			Speaking: ev.Speaking != 0,
		})
	})
}

func (l *link) Leave(ctx context.Context) error {
	return l.session.Leave(ctx)
}

// convertPacket copies the opus payload; arikawa reuses the packet buffer
// on the next read.
func convertPacket(p *udp.Packet) *recvoice.Packet {
	opus := make([]byte, len(p.Opus))
	copy(opus, p.Opus)

	return &recvoice.Packet{
		SSRC:      p.SSRC(),
		Sequence:  p.Sequence(),
		Timestamp: p.Timestamp(),
		Opus:      opus,
	}
}

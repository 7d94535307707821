package voice

import (
	"context"

	"github.com/diamondburned/arikawa/v3/discord"
)

// Transport opens voice links. The production implementation wraps arikawa's
// voice package; tests substitute an in-memory one.
type Transport interface {
	// Guild resolves the guild a voice channel belongs to.
	Guild(ctx context.Context, channelID discord.ChannelID) (discord.GuildID, error)
	Open(ctx context.Context, channelID discord.ChannelID) (Link, error)
}

// Link is one joined voice channel.
type Link interface {
	GuildID() discord.GuildID
	// ReadPacket blocks until the next opus packet arrives. It returns an
	// error once the link is closed.
	ReadPacket() (*Packet, error)
	// OnSpeaking registers fn for speaking-state updates and returns a func
	// that unregisters it.
	OnSpeaking(fn func(SpeakingUpdate)) (remove func())
	Leave(ctx context.Context) error
}

// SpeakingUpdate maps an SSRC to a user and reports whether they are speaking.
type SpeakingUpdate struct {
	SSRC     uint32
	UserID   discord.UserID
	Speaking bool
}

// FrameStream delivers one participant's frames in arrival order. The channel
// is closed when the stream is closed by either side; frames buffered before
// that remain readable.
type FrameStream interface {
	Frames() <-chan *Frame
	Close()
}

// ResultSink consumes finalized session results.
type ResultSink interface {
	Name() string
	Consume(ctx context.Context, result Result) error
}

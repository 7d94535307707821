package voice

import (
	"fmt"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
)

// Key identifies one participant in one voice channel.
type Key struct {
	ChannelID discord.ChannelID
	UserID    discord.UserID
}

func (k Key) String() string {
	return k.ChannelID.String() + "/" + k.UserID.String()
}

// EndKind selects how a capture session decides it is finished.
type EndKind int

const (
	// EndManual runs until StopRecording, the stream closing, or the max duration cap.
	EndManual EndKind = iota
	// EndFixedDuration runs for exactly EndCondition.Duration.
	EndFixedDuration
	// EndSilenceGap ends once no frame has arrived for EndCondition.Duration.
	EndSilenceGap
)

// EndCondition is the termination rule of a capture session.
type EndCondition struct {
	Kind     EndKind
	Duration time.Duration
}

// FixedDuration ends a session d after it starts.
func FixedDuration(d time.Duration) EndCondition {
	return EndCondition{Kind: EndFixedDuration, Duration: d}
}

// SilenceGap ends a session after g without frames.
func SilenceGap(g time.Duration) EndCondition {
	return EndCondition{Kind: EndSilenceGap, Duration: g}
}

// Manual ends a session only when it is stopped explicitly.
func Manual() EndCondition {
	return EndCondition{Kind: EndManual}
}

// Validate rejects conditions that could never fire or are malformed.
func (e EndCondition) Validate() error {
	switch e.Kind {
	case EndManual:
		return nil
	case EndFixedDuration, EndSilenceGap:
		if e.Duration <= 0 {
			return fmt.Errorf("end condition %s needs a positive duration", e)
		}

		return nil
	default:
		return fmt.Errorf("unknown end condition kind %d", e.Kind)
	}
}

func (e EndCondition) String() string {
	switch e.Kind {
	case EndManual:
		return "manual"
	case EndFixedDuration:
		return "fixed(" + e.Duration.String() + ")"
	case EndSilenceGap:
		return "silence(" + e.Duration.String() + ")"
	default:
		return "unknown"
	}
}

// State is the lifecycle position of a capture session.
type State int32

const (
	StateListening State = iota
	StateDraining
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// EndReason records which trigger moved a session into draining.
type EndReason string

const (
	EndReasonDuration     EndReason = "duration"
	EndReasonMaxDuration  EndReason = "max_duration"
	EndReasonSilence      EndReason = "silence"
	EndReasonManual       EndReason = "manual"
	EndReasonStreamClosed EndReason = "stream_closed"
	EndReasonCanceled     EndReason = "canceled"
	EndReasonWriteError   EndReason = "write_error"
)

// Packet is one RTP opus packet as read from the voice transport.
type Packet struct {
	SSRC      uint32
	Sequence  uint16
	Timestamp uint32
	Opus      []byte
}

// Frame is an opus packet attributed to a participant.
type Frame struct {
	UserID     discord.UserID
	SSRC       uint32
	Sequence   uint16
	Timestamp  uint32
	Opus       []byte
	ReceivedAt time.Time
}

// NewFrame attributes a packet to userID.
func NewFrame(userID discord.UserID, packet *Packet) *Frame {
	return &Frame{
		UserID:     userID,
		SSRC:       packet.SSRC,
		Sequence:   packet.Sequence,
		Timestamp:  packet.Timestamp,
		Opus:       packet.Opus,
		ReceivedAt: time.Now(),
	}
}

// Result is the outcome of a finalized capture session.
type Result struct {
	Key       Key
	SessionID string
	// OutputPath is empty when nothing was captured or the session failed.
	OutputPath           string
	FramesAccepted       int
	FramesRejected       int
	LowInformationFrames int
	BytesWritten         int64
	ErrorFlag            bool
	Duration             time.Duration
	EndReason            EndReason
}

// Captured reports whether a WAV file was kept on disk.
func (r Result) Captured() bool {
	return r.OutputPath != ""
}

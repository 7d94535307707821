package voice

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/Raikerian/go-discord-voicerec/pkg/audio"
)

// LowInformationRatio is the zero-sample fraction at which decoded output is
// flagged as low information. Such frames are still written.
const LowInformationRatio = 0.95

// Verdict classifies a decoded frame.
type Verdict int

const (
	VerdictAccepted Verdict = iota
	VerdictLowInformation
	VerdictCorrupt
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccepted:
		return "accepted"
	case VerdictLowInformation:
		return "low_information"
	case VerdictCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// DecodedSamples is the PCM produced from one frame.
type DecodedSamples struct {
	PCM     []int16 // interleaved
	Format  audio.Format
	Verdict Verdict
	Stats   audio.Stats
}

// Codec is a stateful opus decoder producing normalized float samples.
// Implementations keep inter-frame state, so one instance must see one
// participant's frames in arrival order.
type Codec interface {
	Decode(frame []byte) ([]float32, error)
}

// FrameDecoder turns one compressed frame into validated PCM.
type FrameDecoder interface {
	Decode(frame []byte) (DecodedSamples, error)
}

// DecoderFactory builds the per-session decoder.
type DecoderFactory func(format audio.Format, frameSize int) (FrameDecoder, error)

// gopusCodec adapts gopus, which decodes straight to int16.
type gopusCodec struct {
	decoder   *gopus.Decoder
	frameSize int
}

// NewOpusCodec creates a gopus-backed codec. frameSize is the maximum samples
// per channel a single packet may decode to.
func NewOpusCodec(format audio.Format, frameSize int) (Codec, error) {
	decoder, err := gopus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &gopusCodec{decoder: decoder, frameSize: frameSize}, nil
}

func (c *gopusCodec) Decode(frame []byte) ([]float32, error) {
	pcm, err := c.decoder.Decode(frame, c.frameSize, false)
	if err != nil {
		return nil, err
	}

	return audio.Int16ToFloat32(pcm), nil
}

// Decoder validates codec output: non-finite samples make the frame corrupt,
// near-silent output is marked low information but kept.
type Decoder struct {
	codec  Codec
	format audio.Format
}

// NewDecoder wraps codec for the given output format.
func NewDecoder(codec Codec, format audio.Format) *Decoder {
	return &Decoder{codec: codec, format: format}
}

// NewOpusFrameDecoder is the default DecoderFactory.
func NewOpusFrameDecoder(format audio.Format, frameSize int) (FrameDecoder, error) {
	codec, err := NewOpusCodec(format, frameSize)
	if err != nil {
		return nil, err
	}

	return NewDecoder(codec, format), nil
}

// Decode decodes and classifies one frame. Errors wrap ErrDecode and leave the
// decoder usable for the next frame.
func (d *Decoder) Decode(frame []byte) (DecodedSamples, error) {
	if len(frame) == 0 {
		return DecodedSamples{Verdict: VerdictCorrupt}, fmt.Errorf("%w: empty opus frame", ErrDecode)
	}

	samples, err := d.codec.Decode(frame)
	if err != nil {
		return DecodedSamples{Verdict: VerdictCorrupt}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if len(samples) == 0 || len(samples)%d.format.Channels != 0 {
		return DecodedSamples{Verdict: VerdictCorrupt}, fmt.Errorf("%w: decoded %d samples for %d channels", ErrDecode, len(samples), d.format.Channels)
	}

	stats := audio.Analyze(samples)
	if stats.NonFinite > 0 {
		return DecodedSamples{Verdict: VerdictCorrupt, Stats: stats},
			fmt.Errorf("%w: %d non-finite samples", ErrDecode, stats.NonFinite)
	}

	verdict := VerdictAccepted
	if stats.ZeroRatio() >= LowInformationRatio {
		verdict = VerdictLowInformation
	}

	return DecodedSamples{
		PCM:     audio.Float32ToInt16(samples),
		Format:  d.format,
		Verdict: verdict,
		Stats:   stats,
	}, nil
}

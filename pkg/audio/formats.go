// Package audio holds PCM format constants and sample helpers shared by the
// decoder and the container writer.
package audio

import "time"

// Discord voice is 48 kHz interleaved stereo opus in 20 ms frames.
const (
	DiscordSampleRate = 48_000 // Hz
	DiscordChannels   = 2      // interleaved stereo
	DiscordFrameSize  = 960    // samples per channel (20 ms)
	DiscordFrameTime  = 20 * time.Millisecond

	BitsPerSample  = 16
	BytesPerSample = BitsPerSample / 8
)

// Format describes interleaved linear PCM.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DiscordFormat is the format produced by decoding Discord opus frames.
var DiscordFormat = Format{
	SampleRate:    DiscordSampleRate,
	Channels:      DiscordChannels,
	BitsPerSample: BitsPerSample,
}

// ByteRate returns bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// BlockAlign returns bytes per interleaved sample frame.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// Duration returns the playback time represented by n payload bytes.
func (f Format) Duration(n int64) time.Duration {
	rate := f.ByteRate()
	if rate == 0 {
		return 0
	}

	return time.Duration(n) * time.Second / time.Duration(rate)
}

// Package wav writes and inspects canonical 44-byte-header RIFF/WAVE files of
// linear PCM audio.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Raikerian/go-discord-voicerec/pkg/audio"
)

// HeaderSize is the size of the canonical PCM header.
const HeaderSize = 44

// Byte offsets of the two size fields rewritten at finalization.
const (
	riffSizeOffset = 4
	dataSizeOffset = 40
)

const formatPCM = 1

// ErrInvalidHeader is returned when a header fails validation.
var ErrInvalidHeader = errors.New("wav: invalid header")

// Header is the canonical 44-byte RIFF/WAVE header, little-endian on disk.
type Header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // payload bytes
}

// NewHeader returns a header for the given format and payload size.
func NewHeader(f audio.Format, payload uint32) Header {
	return Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     HeaderSize - 8 + payload,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.ByteRate()),
		BlockAlign:    uint16(f.BlockAlign()),
		BitsPerSample: uint16(f.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: payload,
	}
}

// placeholder returns a header with both size fields zero.
func placeholder(f audio.Format) Header {
	h := NewHeader(f, 0)
	h.ChunkSize = 0

	return h
}

// MarshalBinary encodes the header into its 44-byte form.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("failed to encode wav header: %w", err)
	}

	return buf.Bytes(), nil
}

// AudioFormatInfo returns the PCM format the header describes.
func (h Header) AudioFormatInfo() audio.Format {
	return audio.Format{
		SampleRate:    int(h.SampleRate),
		Channels:      int(h.NumChannels),
		BitsPerSample: int(h.BitsPerSample),
	}
}

// Duration returns the playback time of the payload declared in the header.
func (h Header) Duration() time.Duration {
	return h.AudioFormatInfo().Duration(int64(h.Subchunk2Size))
}

// Validate checks the tags and derived fields of the header.
func (h Header) Validate() error {
	switch {
	case string(h.ChunkID[:]) != "RIFF":
		return fmt.Errorf("%w: missing RIFF tag", ErrInvalidHeader)
	case string(h.Format[:]) != "WAVE":
		return fmt.Errorf("%w: missing WAVE tag", ErrInvalidHeader)
	case string(h.Subchunk1ID[:]) != "fmt ":
		return fmt.Errorf("%w: missing fmt chunk", ErrInvalidHeader)
	case string(h.Subchunk2ID[:]) != "data":
		return fmt.Errorf("%w: missing data chunk", ErrInvalidHeader)
	case h.Subchunk1Size != 16 || h.AudioFormat != formatPCM:
		return fmt.Errorf("%w: not linear PCM (format %d)", ErrInvalidHeader, h.AudioFormat)
	case h.NumChannels == 0 || h.SampleRate == 0 || h.BitsPerSample == 0:
		return fmt.Errorf("%w: zero channels, rate or bit depth", ErrInvalidHeader)
	}

	f := h.AudioFormatInfo()
	if h.ByteRate != uint32(f.ByteRate()) || h.BlockAlign != uint16(f.BlockAlign()) {
		return fmt.Errorf("%w: byte rate %d / block align %d inconsistent with format", ErrInvalidHeader, h.ByteRate, h.BlockAlign)
	}

	return nil
}

// ReadHeader decodes a header from r without validating it.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return Header{}, fmt.Errorf("failed to read wav header: %w", err)
	}

	return h, nil
}

// Info describes a WAV file on disk.
type Info struct {
	Header   Header
	FileSize int64
}

// Consistent reports whether both size fields match the file length.
func (i Info) Consistent() bool {
	return int64(i.Header.ChunkSize) == i.FileSize-8 &&
		int64(i.Header.Subchunk2Size) == i.FileSize-HeaderSize
}

// Inspect reads and validates the header of the file at path.
func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, err
	}

	h, err := ReadHeader(f)
	if err != nil {
		return Info{}, err
	}
	if err := h.Validate(); err != nil {
		return Info{}, err
	}

	return Info{Header: h, FileSize: st.Size()}, nil
}

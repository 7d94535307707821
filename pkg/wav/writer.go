package wav

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/Raikerian/go-discord-voicerec/pkg/audio"
)

var (
	// ErrClosed is returned by Append after Close or Abort.
	ErrClosed = errors.New("wav: writer closed")
	// ErrTooLarge is returned when the payload would overflow the 32-bit size fields.
	ErrTooLarge = errors.New("wav: payload exceeds 4 GiB")
)

const maxPayload = math.MaxUint32 - (HeaderSize - 8)

// Writer streams PCM into a WAV file. The header is written with zero size
// fields on Create and patched with the real sizes on Close, so an unfinished
// file is still a parseable, empty WAV.
type Writer struct {
	mu      sync.Mutex
	path    string
	format  audio.Format
	file    *os.File
	buf     *bufio.Writer
	payload int64
	closed  bool
}

// Create creates (or truncates) path and writes a placeholder header.
func Create(path string, format audio.Format) (*Writer, error) {
	if format.Channels <= 0 || format.SampleRate <= 0 || format.BitsPerSample != audio.BitsPerSample {
		return nil, fmt.Errorf("wav: unsupported format %+v", format)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	header, err := placeholder(format).MarshalBinary()
	if err == nil {
		_, err = file.Write(header)
	}
	if err != nil {
		file.Close()
		os.Remove(path)

		return nil, fmt.Errorf("failed to write placeholder header: %w", err)
	}

	return &Writer{
		path:   path,
		format: format,
		file:   file,
		buf:    bufio.NewWriterSize(file, 64*1024),
	}, nil
}

// Path returns the file path.
func (w *Writer) Path() string {
	return w.path
}

// Format returns the PCM format declared in the header.
func (w *Writer) Format() audio.Format {
	return w.format
}

// BytesWritten returns the payload bytes appended so far.
func (w *Writer) BytesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.payload
}

// Append writes samples as little-endian PCM.
func (w *Writer) Append(samples []int16) (int, error) {
	return w.Write(audio.PCMInt16ToLE(samples))
}

// Write appends raw little-endian PCM bytes.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}
	if w.payload+int64(len(p)) > maxPayload {
		return 0, ErrTooLarge
	}

	n, err := w.buf.Write(p)
	w.payload += int64(n)
	if err != nil {
		return n, fmt.Errorf("failed to append pcm: %w", err)
	}

	return n, nil
}

// Close flushes buffered PCM, rewrites the RIFF and data size fields and
// releases the file. Calling Close again is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.finalize()
	if cerr := w.file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close %s: %w", w.path, cerr)
	}

	return err
}

func (w *Writer) finalize() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush pcm: %w", err)
	}

	var field [4]byte
	binary.LittleEndian.PutUint32(field[:], uint32(w.payload+HeaderSize-8))
	if _, err := w.file.WriteAt(field[:], riffSizeOffset); err != nil {
		return fmt.Errorf("failed to rewrite riff size: %w", err)
	}

	binary.LittleEndian.PutUint32(field[:], uint32(w.payload))
	if _, err := w.file.WriteAt(field[:], dataSizeOffset); err != nil {
		return fmt.Errorf("failed to rewrite data size: %w", err)
	}

	return w.file.Sync()
}

// Abort releases the file without finalizing and deletes it.
// It is safe to call after Close, in which case the finished file is removed.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		w.closed = true
		w.file.Close()
	}

	if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", w.path, err)
	}

	return nil
}

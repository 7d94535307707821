package voice_test

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/stretchr/testify/require"

	"github.com/Raikerian/go-discord-voicerec/internal/voice"
	"github.com/Raikerian/go-discord-voicerec/pkg/audio"
	"github.com/Raikerian/go-discord-voicerec/pkg/wav"
)

const (
	testFrameSize = 960
	testGuild     = discord.GuildID(1)
	testChannel   = discord.ChannelID(100)
	testUser      = discord.UserID(200)
)

// Frame payload markers understood by fakeCodec.
var (
	voicedFrame  = []byte{0x01, 0x02, 0x03}
	silentFrame  = []byte{0x00}
	corruptFrame = []byte{0xEE}
)

// fakeCodec decodes marker payloads to fixed PCM without a real opus stack.
type fakeCodec struct {
	channels int
	calls    atomic.Int32
}

func (c *fakeCodec) Decode(frame []byte) ([]float32, error) {
	c.calls.Add(1)

	n := testFrameSize * c.channels
	samples := make([]float32, n)
	switch frame[0] {
	case 0x00:
	case 0xEE:
		samples[0] = float32(math.NaN())
	case 0xFF:
		return nil, errors.New("invalid packet")
	default:
		for i := range samples {
			samples[i] = float32(0.25 * math.Sin(float64(i)/8))
		}
	}

	return samples, nil
}

func fakeDecoders(format audio.Format, _ int) (voice.FrameDecoder, error) {
	return voice.NewDecoder(&fakeCodec{channels: format.Channels}, format), nil
}

// chanStream is a FrameStream the test feeds directly.
type chanStream struct {
	ch     chan *voice.Frame
	mu     sync.Mutex
	closed bool
}

func newChanStream(size int) *chanStream {
	return &chanStream{ch: make(chan *voice.Frame, size)}
}

func (s *chanStream) Frames() <-chan *voice.Frame { return s.ch }

func (s *chanStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *chanStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// push offers a frame without blocking. It reports false once the stream is
// closed or full.
func (s *chanStream) push(opus []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- &voice.Frame{UserID: testUser, Opus: opus}:
		return true
	default:
		return false
	}
}

// failingWriter wraps a wav.Writer and fails every Append after the first n.
type failingWriter struct {
	*wav.Writer
	okAppends int
	appends   int
}

func (w *failingWriter) Append(samples []int16) (int, error) {
	w.appends++
	if w.appends > w.okAppends {
		return 0, errors.New("disk full")
	}

	return w.Writer.Append(samples)
}

// fakeLink is an in-memory voice link.
type fakeLink struct {
	guildID discord.GuildID
	packets chan *voice.Packet
	left    chan struct{}
	once    sync.Once
	leaves  atomic.Int32

	mu       sync.Mutex
	handlers map[int]func(voice.SpeakingUpdate)
	next     int
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		guildID:  testGuild,
		packets:  make(chan *voice.Packet, 256),
		left:     make(chan struct{}),
		handlers: make(map[int]func(voice.SpeakingUpdate)),
	}
}

func (l *fakeLink) GuildID() discord.GuildID { return l.guildID }

func (l *fakeLink) ReadPacket() (*voice.Packet, error) {
	select {
	case p := <-l.packets:
		return p, nil
	case <-l.left:
		return nil, io.EOF
	}
}

func (l *fakeLink) OnSpeaking(fn func(voice.SpeakingUpdate)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.next
	l.next++
	l.handlers[id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.handlers, id)
	}
}

func (l *fakeLink) Leave(context.Context) error {
	l.leaves.Add(1)
	l.once.Do(func() { close(l.left) })

	return nil
}

func (l *fakeLink) handlerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.handlers)
}

// announce maps ssrc to userID the way a speaking event does.
func (l *fakeLink) announce(ssrc uint32, userID discord.UserID) {
	l.mu.Lock()
	handlers := make([]func(voice.SpeakingUpdate), 0, len(l.handlers))
	for _, fn := range l.handlers {
		handlers = append(handlers, fn)
	}
	l.mu.Unlock()

	for _, fn := range handlers {
		fn(voice.SpeakingUpdate{SSRC: ssrc, UserID: userID, Speaking: true})
	}
}

func (l *fakeLink) send(ssrc uint32, seq uint16, opus []byte) {
	l.packets <- &voice.Packet{SSRC: ssrc, Sequence: seq, Opus: opus}
}

// fakeTransport hands out a fresh fakeLink per Open. Channels map to
// testGuild unless listed in guilds.
type fakeTransport struct {
	mu     sync.Mutex
	links  []*fakeLink
	guilds map[discord.ChannelID]discord.GuildID
	err    error
	opens  atomic.Int32

	// gate, when set, holds every Open until it is closed.
	gate chan struct{}
	// opening receives the channel of each Open as it starts.
	opening chan discord.ChannelID
}

func (t *fakeTransport) Guild(_ context.Context, channelID discord.ChannelID) (discord.GuildID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if guildID, ok := t.guilds[channelID]; ok {
		return guildID, nil
	}

	return testGuild, nil
}

func (t *fakeTransport) Open(ctx context.Context, channelID discord.ChannelID) (voice.Link, error) {
	t.opens.Add(1)
	if t.opening != nil {
		t.opening <- channelID
	}
	if t.gate != nil {
		select {
		case <-t.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.err != nil {
		return nil, t.err
	}

	guildID, _ := t.Guild(ctx, channelID)
	link := newFakeLink()
	link.guildID = guildID
	t.mu.Lock()
	t.links = append(t.links, link)
	t.mu.Unlock()

	return link, nil
}

func (t *fakeTransport) link(i int) *fakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.links[i]
}

// recordingSink collects results.
type recordingSink struct {
	mu      sync.Mutex
	results []voice.Result
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Consume(_ context.Context, result voice.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, result)

	return nil
}

func (s *recordingSink) snapshot() []voice.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]voice.Result(nil), s.results...)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.results)
}

func requireHeaderConsistent(t *testing.T, path string, payload int64) {
	t.Helper()

	info, err := wav.Inspect(path)
	require.NoError(t, err)
	require.NoError(t, info.Header.Validate())
	require.True(t, info.Consistent(), "header sizes must match file size")
	require.Equal(t, uint32(payload), info.Header.Subchunk2Size)
	require.Equal(t, int64(wav.HeaderSize)+payload, info.FileSize)
}

package voice_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/go-discord-voicerec/internal/voice"
)

func newTestConnector(t *testing.T, idle time.Duration) (*voice.Connector, *fakeTransport) {
	t.Helper()

	transport := &fakeTransport{}
	connector := voice.NewConnector(voice.ConnectorParams{
		Transport:      transport,
		Logger:         zaptest.NewLogger(t),
		FrameBuffer:    32,
		SSRCCacheSize:  8,
		IdleDisconnect: idle,
	})
	t.Cleanup(func() { _ = connector.Close(context.Background()) })

	return connector, transport
}

func receive(t *testing.T, frames <-chan *voice.Frame) *voice.Frame {
	t.Helper()

	select {
	case f, ok := <-frames:
		require.True(t, ok, "stream closed")

		return f
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")

		return nil
	}
}

func TestConnector_JoinIsIdempotent(t *testing.T) {
	connector, transport := newTestConnector(t, 0)

	first, err := connector.Join(context.Background(), testChannel)
	require.NoError(t, err)
	second, err := connector.Join(context.Background(), testChannel)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), transport.opens.Load())
	assert.Equal(t, testGuild, first.GuildID())
	assert.Equal(t, []discord.ChannelID{testChannel}, connector.Channels())
}

func TestConnector_JoinFailure(t *testing.T) {
	connector, transport := newTestConnector(t, 0)
	transport.err = errors.New("voice server unreachable")

	_, err := connector.Join(context.Background(), testChannel)
	require.ErrorIs(t, err, voice.ErrConnection)

	_, ok := connector.Connection(testChannel)
	assert.False(t, ok)
}

func TestConnector_SubscribeDemultiplexes(t *testing.T) {
	connector, transport := newTestConnector(t, 0)
	conn, err := connector.Join(context.Background(), testChannel)
	require.NoError(t, err)
	link := transport.link(0)

	alice, bob := discord.UserID(1), discord.UserID(2)
	aliceStream, err := connector.Subscribe(conn, alice, voice.Manual())
	require.NoError(t, err)
	bobStream, err := connector.Subscribe(conn, bob, voice.SilenceGap(time.Second))
	require.NoError(t, err)

	link.announce(11, alice)
	link.announce(22, bob)

	link.send(99, 1, voicedFrame) // unknown ssrc, dropped
	link.send(11, 1, voicedFrame)
	link.send(22, 1, voicedFrame)
	link.send(11, 2, voicedFrame)

	a1 := receive(t, aliceStream.Frames())
	a2 := receive(t, aliceStream.Frames())
	b1 := receive(t, bobStream.Frames())

	assert.Equal(t, alice, a1.UserID)
	assert.Equal(t, uint16(1), a1.Sequence)
	assert.Equal(t, uint16(2), a2.Sequence)
	assert.Equal(t, bob, b1.UserID)
	assert.Equal(t, uint32(22), b1.SSRC)

	_, err = connector.Subscribe(conn, alice, voice.Manual())
	require.ErrorIs(t, err, voice.ErrSubscription)

	aliceStream.Close()
	aliceStream.Close()
	_, ok := <-aliceStream.Frames()
	assert.False(t, ok)

	// the user can subscribe again once the old stream is closed
	_, err = connector.Subscribe(conn, alice, voice.Manual())
	require.NoError(t, err)
}

func TestConnector_SpeakingStart(t *testing.T) {
	connector, transport := newTestConnector(t, 0)
	conn, err := connector.Join(context.Background(), testChannel)
	require.NoError(t, err)
	link := transport.link(0)

	speaking, err := connector.OnSpeakingStart(conn)
	require.NoError(t, err)

	link.announce(7, testUser)
	link.send(7, 1, voicedFrame)
	link.send(7, 2, voicedFrame)

	select {
	case userID := <-speaking.C():
		assert.Equal(t, testUser, userID)
	case <-time.After(time.Second):
		t.Fatal("no speaking start")
	}

	// consecutive packets are one utterance
	select {
	case <-speaking.C():
		t.Fatal("duplicate speaking start")
	case <-time.After(50 * time.Millisecond):
	}

	// a packet after a quiet spell starts a new utterance
	time.Sleep(150 * time.Millisecond)
	link.send(7, 3, voicedFrame)
	select {
	case userID := <-speaking.C():
		assert.Equal(t, testUser, userID)
	case <-time.After(time.Second):
		t.Fatal("no second speaking start")
	}

	speaking.Close()
	speaking.Close()
	_, ok := <-speaking.C()
	assert.False(t, ok)

	link.send(7, 4, voicedFrame)
}

func TestConnector_LeaveClosesEverything(t *testing.T) {
	connector, transport := newTestConnector(t, time.Hour)
	conn, err := connector.Join(context.Background(), testChannel)
	require.NoError(t, err)
	link := transport.link(0)

	stream, err := connector.Subscribe(conn, testUser, voice.Manual())
	require.NoError(t, err)
	speaking, err := connector.OnSpeakingStart(conn)
	require.NoError(t, err)
	require.Equal(t, 1, link.handlerCount())

	require.NoError(t, connector.Leave(context.Background(), testChannel))
	require.NoError(t, connector.Leave(context.Background(), testChannel))

	_, ok := <-stream.Frames()
	assert.False(t, ok)
	_, ok = <-speaking.C()
	assert.False(t, ok)

	assert.True(t, conn.Closed())
	assert.Equal(t, int32(1), link.leaves.Load())
	assert.Zero(t, link.handlerCount())

	_, err = connector.Subscribe(conn, testUser, voice.Manual())
	require.ErrorIs(t, err, voice.ErrSubscription)
	require.ErrorIs(t, err, voice.ErrNotConnected)
}

func TestConnector_IdleDisconnect(t *testing.T) {
	const idle = 100 * time.Millisecond

	t.Run("leaves after idle period", func(t *testing.T) {
		connector, transport := newTestConnector(t, idle)
		conn, err := connector.Join(context.Background(), testChannel)
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			return transport.link(0).leaves.Load() == 1
		}, time.Second, 10*time.Millisecond)
		assert.True(t, conn.Closed())

		_, ok := connector.Connection(testChannel)
		assert.False(t, ok)
	})

	t.Run("activity re-arms the timer", func(t *testing.T) {
		connector, _ := newTestConnector(t, idle)
		conn, err := connector.Join(context.Background(), testChannel)
		require.NoError(t, err)

		for i := 0; i < 6; i++ {
			time.Sleep(idle / 2)
			connector.Touch(testChannel)
		}
		assert.False(t, conn.Closed())

		assert.Eventually(t, conn.Closed, time.Second, 10*time.Millisecond)
	})

	t.Run("explicit leave cancels the timer", func(t *testing.T) {
		connector, transport := newTestConnector(t, idle)
		_, err := connector.Join(context.Background(), testChannel)
		require.NoError(t, err)

		require.NoError(t, connector.Leave(context.Background(), testChannel))
		time.Sleep(2 * idle)

		assert.Equal(t, int32(1), transport.link(0).leaves.Load())
	})

	t.Run("rejoin after idle opens a new link", func(t *testing.T) {
		connector, transport := newTestConnector(t, idle)
		first, err := connector.Join(context.Background(), testChannel)
		require.NoError(t, err)
		require.Eventually(t, first.Closed, time.Second, 10*time.Millisecond)

		second, err := connector.Join(context.Background(), testChannel)
		require.NoError(t, err)
		assert.NotSame(t, first, second)
		assert.Equal(t, int32(2), transport.opens.Load())
	})
}

func TestConnector_LostLinkIsDropped(t *testing.T) {
	connector, transport := newTestConnector(t, 0)
	conn, err := connector.Join(context.Background(), testChannel)
	require.NoError(t, err)

	stream, err := connector.Subscribe(conn, testUser, voice.Manual())
	require.NoError(t, err)

	// the transport goes away underneath the connection
	require.NoError(t, transport.link(0).Leave(context.Background()))

	assert.Eventually(t, conn.Closed, time.Second, 10*time.Millisecond)
	_, ok := <-stream.Frames()
	assert.False(t, ok)
}

func TestConnector_CloseRefusesJoins(t *testing.T) {
	connector, transport := newTestConnector(t, 0)
	_, err := connector.Join(context.Background(), testChannel)
	require.NoError(t, err)

	require.NoError(t, connector.Close(context.Background()))
	assert.Equal(t, int32(1), transport.link(0).leaves.Load())

	_, err = connector.Join(context.Background(), testChannel)
	require.ErrorIs(t, err, voice.ErrConnection)
	require.ErrorIs(t, err, voice.ErrRecorderClosed)
}

func TestConnector_OneConnectionPerGuild(t *testing.T) {
	t.Run("joining another channel of the guild moves there", func(t *testing.T) {
		connector, transport := newTestConnector(t, 0)
		lobby, stage := discord.ChannelID(100), discord.ChannelID(101)

		first, err := connector.Join(context.Background(), lobby)
		require.NoError(t, err)
		stream, err := connector.Subscribe(first, testUser, voice.Manual())
		require.NoError(t, err)

		second, err := connector.Join(context.Background(), stage)
		require.NoError(t, err)

		assert.NotSame(t, first, second)
		assert.True(t, first.Closed())
		assert.False(t, second.Closed())
		assert.Equal(t, int32(1), transport.link(0).leaves.Load())
		assert.Equal(t, []discord.ChannelID{stage}, connector.Channels())

		_, ok := connector.Connection(lobby)
		assert.False(t, ok)
		_, ok = <-stream.Frames()
		assert.False(t, ok, "streams of the old channel end")
	})

	t.Run("channels of different guilds coexist", func(t *testing.T) {
		connector, transport := newTestConnector(t, 0)
		other := discord.ChannelID(300)
		transport.guilds = map[discord.ChannelID]discord.GuildID{other: 2}

		first, err := connector.Join(context.Background(), testChannel)
		require.NoError(t, err)
		second, err := connector.Join(context.Background(), other)
		require.NoError(t, err)

		assert.False(t, first.Closed())
		assert.Equal(t, discord.GuildID(2), second.GuildID())
		assert.ElementsMatch(t, []discord.ChannelID{testChannel, other}, connector.Channels())
	})
}

func TestConnector_JoinDoesNotBlockOtherChannels(t *testing.T) {
	connector, transport := newTestConnector(t, time.Hour)
	slow, idle := discord.ChannelID(100), discord.ChannelID(300)
	transport.guilds = map[discord.ChannelID]discord.GuildID{idle: 2}

	_, err := connector.Join(context.Background(), idle)
	require.NoError(t, err)

	transport.gate = make(chan struct{})
	transport.opening = make(chan discord.ChannelID, 4)

	type joined struct {
		conn *voice.Connection
		err  error
	}
	results := make(chan joined, 2)
	join := func() {
		conn, err := connector.Join(context.Background(), slow)
		results <- joined{conn, err}
	}

	go join()
	select {
	case ch := <-transport.opening:
		require.Equal(t, slow, ch)
	case <-time.After(time.Second):
		t.Fatal("open never started")
	}
	go join()

	done := make(chan struct{})
	go func() {
		defer close(done)
		connector.Touch(idle)
		_ = connector.Channels()
		_ = connector.Leave(context.Background(), idle)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unrelated channel blocked behind a pending join")
	}

	time.Sleep(50 * time.Millisecond)
	close(transport.gate)

	first, second := <-results, <-results
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.Same(t, first.conn, second.conn)
	assert.Equal(t, int32(2), transport.opens.Load(), "concurrent joins share one open")
}

func TestConnector_CloseDuringJoin(t *testing.T) {
	connector, transport := newTestConnector(t, 0)
	transport.gate = make(chan struct{})
	transport.opening = make(chan discord.ChannelID, 1)

	errs := make(chan error, 1)
	go func() {
		_, err := connector.Join(context.Background(), testChannel)
		errs <- err
	}()
	<-transport.opening

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = connector.Close(context.Background())
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close blocked behind a pending join")
	}

	close(transport.gate)
	select {
	case err := <-errs:
		require.ErrorIs(t, err, voice.ErrRecorderClosed)
	case <-time.After(time.Second):
		t.Fatal("join never returned")
	}
	assert.Equal(t, int32(1), transport.link(0).leaves.Load())
	assert.Empty(t, connector.Channels())
}

func TestConnector_HoldsOpeningFramesForSpeakingSubscribers(t *testing.T) {
	t.Run("stream opened after the start gets the held frames", func(t *testing.T) {
		connector, transport := newTestConnector(t, 0)
		conn, err := connector.Join(context.Background(), testChannel)
		require.NoError(t, err)
		link := transport.link(0)

		speaking, err := connector.OnSpeakingStart(conn)
		require.NoError(t, err)
		defer speaking.Close()

		link.announce(7, testUser)
		link.send(7, 1, voicedFrame)
		link.send(7, 2, voicedFrame)

		select {
		case userID := <-speaking.C():
			require.Equal(t, testUser, userID)
		case <-time.After(time.Second):
			t.Fatal("no speaking start")
		}
		require.Eventually(t, func() bool { return len(link.packets) == 0 }, time.Second, 5*time.Millisecond)
		time.Sleep(10 * time.Millisecond)

		stream, err := connector.Subscribe(conn, testUser, voice.SilenceGap(time.Second))
		require.NoError(t, err)
		link.send(7, 3, voicedFrame)

		for _, want := range []uint16{1, 2, 3} {
			assert.Equal(t, want, receive(t, stream.Frames()).Sequence)
		}
	})

	t.Run("nothing is held without speaking subscribers", func(t *testing.T) {
		connector, transport := newTestConnector(t, 0)
		conn, err := connector.Join(context.Background(), testChannel)
		require.NoError(t, err)
		link := transport.link(0)

		link.announce(7, testUser)
		link.send(7, 1, voicedFrame)
		require.Eventually(t, func() bool { return len(link.packets) == 0 }, time.Second, 5*time.Millisecond)
		time.Sleep(10 * time.Millisecond)

		stream, err := connector.Subscribe(conn, testUser, voice.Manual())
		require.NoError(t, err)
		link.send(7, 2, voicedFrame)

		assert.Equal(t, uint16(2), receive(t, stream.Frames()).Sequence)
	})
}

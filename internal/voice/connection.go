package voice

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-voicerec/pkg/util"
)

const (
	// speakingQuiet is how long a participant must be silent before their
	// next packet counts as a new speaking start.
	speakingQuiet = 100 * time.Millisecond
	// speakingBuffer is the capacity of each speaking-start handle.
	speakingBuffer = 16
	// speakingBacklog caps the opening frames held for a participant whose
	// speaking start has been announced but who has no stream yet.
	speakingBacklog = 25
)

// Connection is one joined voice channel. A single reader goroutine
// demultiplexes packets by SSRC into per-participant subscriptions.
type Connection struct {
	connector *Connector
	channelID discord.ChannelID
	guildID   discord.GuildID
	link      Link
	logger    *zap.Logger
	joinedAt  time.Time

	ssrcs          *lru.Cache[uint32, discord.UserID]
	idle           *util.IdleTimer
	removeSpeaking func()

	mu        sync.Mutex
	subs      map[discord.UserID]*subscription
	speakers  map[*SpeakingSubscription]struct{}
	lastHeard map[discord.UserID]time.Time
	backlog   map[discord.UserID][]*Frame
	closed    bool
}

func newConnection(c *Connector, channelID discord.ChannelID, link Link) (*Connection, error) {
	ssrcs, err := lru.New[uint32, discord.UserID](c.ssrcCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ssrc cache: %w", err)
	}

	conn := &Connection{
		connector: c,
		channelID: channelID,
		guildID:   link.GuildID(),
		link:      link,
		logger:    c.logger.With(zap.String("channel_id", channelID.String())),
		joinedAt:  time.Now(),
		ssrcs:     ssrcs,
		subs:      make(map[discord.UserID]*subscription),
		speakers:  make(map[*SpeakingSubscription]struct{}),
		lastHeard: make(map[discord.UserID]time.Time),
		backlog:   make(map[discord.UserID][]*Frame),
	}
	conn.idle = util.NewIdleTimer(c.idleDisconnect, conn.onIdle)
	conn.removeSpeaking = link.OnSpeaking(conn.onSpeaking)

	return conn, nil
}

func (c *Connection) ChannelID() discord.ChannelID { return c.channelID }

func (c *Connection) GuildID() discord.GuildID { return c.guildID }

// Touch re-arms the idle-disconnect timer.
func (c *Connection) Touch() {
	c.idle.Touch()
}

// Closed reports whether the connection has been torn down.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *Connection) onIdle() {
	c.logger.Info("Voice channel idle, disconnecting",
		zap.Duration("idle", c.connector.idleDisconnect))
	c.connector.metrics.IdleDisconnects.Inc()
	c.connector.drop(c, "idle")
}

func (c *Connection) onSpeaking(update SpeakingUpdate) {
	if update.UserID.IsValid() {
		c.ssrcs.Add(update.SSRC, update.UserID)
	}

	c.logger.Debug("Speaking update",
		zap.Uint32("ssrc", update.SSRC),
		zap.String("user_id", update.UserID.String()),
		zap.Bool("speaking", update.Speaking))
}

func (c *Connection) readLoop() {
	failures := 0
	for {
		packet, err := c.link.ReadPacket()
		if err != nil {
			if c.Closed() {
				return
			}
			failures++
			if failures >= maxReadErrors || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.logger.Warn("Voice connection lost", zap.Int("failures", failures), zap.Error(err))
				c.connector.drop(c, "read_error")

				return
			}
			c.logger.Debug("Failed to read voice packet", zap.Error(err))

			continue
		}
		failures = 0

		c.connector.metrics.PacketsReceived.Inc()
		c.dispatch(packet)
	}
}

func (c *Connection) dispatch(packet *Packet) {
	userID, ok := c.ssrcs.Get(packet.SSRC)
	if !ok {
		c.connector.metrics.PacketsDropped.WithLabelValues("unknown_ssrc").Inc()
		c.logger.Debug("Packet from unknown ssrc", zap.Uint32("ssrc", packet.SSRC))

		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	frame := NewFrame(userID, packet)

	now := time.Now()
	last, heard := c.lastHeard[userID]
	started := !heard || now.Sub(last) > speakingQuiet
	if started {
		c.emitSpeakingLocked(userID)
	}
	c.lastHeard[userID] = now

	sub, exists := c.subs[userID]
	if !exists {
		c.holdLocked(userID, frame, started)

		return
	}

	select {
	case sub.frames <- frame:
	default:
		c.connector.metrics.PacketsDropped.WithLabelValues("buffer_full").Inc()
		c.logger.Warn("Frame buffer full, dropping packet",
			zap.String("user_id", userID.String()))
	}
}

func (c *Connection) emitSpeakingLocked(userID discord.UserID) {
	for speaker := range c.speakers {
		select {
		case speaker.ch <- userID:
		default:
			c.logger.Debug("Speaking handle full, dropping start",
				zap.String("user_id", userID.String()))
		}
	}
}

// holdLocked keeps the opening frames of an utterance while speaking-start
// handles are open, so a stream opened in response to the start still gets
// them. Holding stops once the utterance outgrows speakingBacklog.
func (c *Connection) holdLocked(userID discord.UserID, frame *Frame, started bool) {
	if started {
		if len(c.speakers) == 0 {
			delete(c.backlog, userID)

			return
		}
		c.backlog[userID] = []*Frame{frame}

		return
	}

	held, ok := c.backlog[userID]
	if !ok {
		return
	}
	if len(held) >= speakingBacklog {
		delete(c.backlog, userID)

		return
	}
	c.backlog[userID] = append(held, frame)
}

func (c *Connection) subscribe(userID discord.UserID, end EndCondition) (FrameStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: %w", ErrSubscription, ErrNotConnected)
	}
	if _, exists := c.subs[userID]; exists {
		return nil, fmt.Errorf("%w: user %s already has an open stream", ErrSubscription, userID)
	}

	sub := &subscription{
		conn:   c,
		userID: userID,
		frames: make(chan *Frame, c.connector.frameBuffer),
	}
	c.subs[userID] = sub

	held := c.backlog[userID]
	delete(c.backlog, userID)
	for _, frame := range held {
		select {
		case sub.frames <- frame:
		default:
		}
	}

	c.logger.Debug("Subscribed to participant",
		zap.String("user_id", userID.String()),
		zap.Stringer("end", end),
		zap.Int("held_frames", len(held)))

	return sub, nil
}

func (c *Connection) onSpeakingStart() (*SpeakingSubscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrNotConnected
	}

	speaker := &SpeakingSubscription{conn: c, ch: make(chan discord.UserID, speakingBuffer)}
	c.speakers[speaker] = struct{}{}

	return speaker, nil
}

// shutdown closes every stream and handle. It returns false if the
// connection was already shut down.
func (c *Connection) shutdown() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return false
	}
	c.closed = true
	clear(c.backlog)
	for _, sub := range c.subs {
		sub.closeLocked()
	}
	for speaker := range c.speakers {
		speaker.closeLocked()
	}
	c.mu.Unlock()

	c.idle.Stop()
	c.removeSpeaking()

	return true
}

// subscription is a FrameStream fed by the connection reader.
type subscription struct {
	conn   *Connection
	userID discord.UserID
	frames chan *Frame
	closed bool
}

func (s *subscription) Frames() <-chan *Frame {
	return s.frames
}

func (s *subscription) Close() {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	s.closeLocked()
}

func (s *subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.frames)

	if current, exists := s.conn.subs[s.userID]; exists && current == s {
		delete(s.conn.subs, s.userID)
	}
}

// SpeakingSubscription delivers speaking starts until closed.
type SpeakingSubscription struct {
	conn   *Connection
	ch     chan discord.UserID
	closed bool
}

// C returns the channel of speaking user IDs. It is closed when the handle
// or its connection is closed.
func (s *SpeakingSubscription) C() <-chan discord.UserID {
	return s.ch
}

// Close stops delivery. It is safe to call more than once.
func (s *SpeakingSubscription) Close() {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	s.closeLocked()
}

func (s *SpeakingSubscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	delete(s.conn.speakers, s)
}

package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Raikerian/go-discord-voicerec/internal/metrics"
)

const (
	// leaveTimeout bounds leaving a channel from the idle timer or a failed reader.
	leaveTimeout = 10 * time.Second
	// maxReadErrors is how many consecutive read failures tear a connection down.
	maxReadErrors = 50
)

// ConnectorParams configures a Connector.
type ConnectorParams struct {
	Transport Transport
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	FrameBuffer    int
	SSRCCacheSize  int
	IdleDisconnect time.Duration
}

// Connector owns the joined voice channels. Each guild has at most one
// Connection, created on first Join and shared afterwards; joining another
// channel of the same guild moves the bot there.
type Connector struct {
	transport Transport
	logger    *zap.Logger
	metrics   *metrics.Metrics

	frameBuffer    int
	ssrcCacheSize  int
	idleDisconnect time.Duration

	// joins runs one transport Open per guild at a time.
	joins singleflight.Group

	mu     sync.Mutex
	conns  map[discord.ChannelID]*Connection
	closed bool
}

// NewConnector creates a connector with no joined channels.
func NewConnector(params ConnectorParams) *Connector {
	m := params.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	frameBuffer := params.FrameBuffer
	if frameBuffer <= 0 {
		frameBuffer = 100
	}
	cacheSize := params.SSRCCacheSize
	if cacheSize <= 0 {
		cacheSize = 256
	}

	return &Connector{
		transport:      params.Transport,
		logger:         params.Logger,
		metrics:        m,
		frameBuffer:    frameBuffer,
		ssrcCacheSize:  cacheSize,
		idleDisconnect: params.IdleDisconnect,
		conns:          make(map[discord.ChannelID]*Connection),
	}
}

// Join connects to channelID, or returns the existing connection. A
// connection to another channel of the same guild is torn down first.
func (c *Connector) Join(ctx context.Context, channelID discord.ChannelID) (*Connection, error) {
	c.mu.Lock()
	closed := c.closed
	conn, exists := c.conns[channelID]
	c.mu.Unlock()

	if closed {
		return nil, fmt.Errorf("%w: %w", ErrConnection, ErrRecorderClosed)
	}
	if exists {
		return conn, nil
	}

	guildID, err := c.transport.Guild(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	for {
		ch := c.joins.DoChan(guildID.String(), func() (any, error) {
			conn, err := c.open(ctx, guildID, channelID)

			return joinAttempt{channelID: channelID, conn: conn}, err
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrConnection, ctx.Err())
		}

		attempt := res.Val.(joinAttempt)
		if attempt.channelID == channelID {
			return attempt.conn, res.Err
		}

		// We shared a join for another channel of this guild; run our own.
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnection, err)
		}
	}
}

type joinAttempt struct {
	channelID discord.ChannelID
	conn      *Connection
}

// open runs under the guild's singleflight key. It never holds c.mu across
// the transport handshake.
func (c *Connector) open(ctx context.Context, guildID discord.GuildID, channelID discord.ChannelID) (*Connection, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil, fmt.Errorf("%w: %w", ErrConnection, ErrRecorderClosed)
	}
	if conn, exists := c.conns[channelID]; exists {
		c.mu.Unlock()

		return conn, nil
	}
	prev := c.guildConnLocked(guildID)
	if prev != nil {
		delete(c.conns, prev.channelID)
	}
	c.mu.Unlock()

	if prev != nil {
		c.logger.Info("Moving to another voice channel in the same guild",
			zap.String("guild_id", guildID.String()),
			zap.String("from_channel_id", prev.channelID.String()),
			zap.String("to_channel_id", channelID.String()))
		if err := c.teardown(ctx, prev, "moved"); err != nil {
			c.logger.Warn("Failed to leave previous voice channel cleanly",
				zap.String("channel_id", prev.channelID.String()),
				zap.Error(err))
		}
	}

	link, err := c.transport.Open(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	conn, err := newConnection(c, channelID, link)
	if err != nil {
		_ = link.Leave(ctx)

		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	c.metrics.ActiveConnections.Inc()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = c.teardown(ctx, conn, "shutdown")

		return nil, fmt.Errorf("%w: %w", ErrConnection, ErrRecorderClosed)
	}
	c.conns[channelID] = conn
	c.mu.Unlock()

	go conn.readLoop()
	conn.Touch()

	c.logger.Info("Joined voice channel",
		zap.String("channel_id", channelID.String()),
		zap.String("guild_id", link.GuildID().String()))

	return conn, nil
}

func (c *Connector) guildConnLocked(guildID discord.GuildID) *Connection {
	for _, conn := range c.conns {
		if conn.guildID == guildID {
			return conn
		}
	}

	return nil
}

// Leave disconnects from channelID. Leaving a channel that is not joined is a no-op.
func (c *Connector) Leave(ctx context.Context, channelID discord.ChannelID) error {
	c.mu.Lock()
	conn, exists := c.conns[channelID]
	if exists {
		delete(c.conns, channelID)
	}
	c.mu.Unlock()

	if !exists {
		return nil
	}

	return c.teardown(ctx, conn, "leave")
}

// Connection returns the live connection for channelID.
func (c *Connector) Connection(channelID discord.ChannelID) (*Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, exists := c.conns[channelID]

	return conn, exists
}

// Subscribe opens userID's frame stream on conn. The stream itself never
// ends on its own; end is only logged, and the CaptureSession reading the
// stream enforces it.
func (c *Connector) Subscribe(conn *Connection, userID discord.UserID, end EndCondition) (FrameStream, error) {
	return conn.subscribe(userID, end)
}

// OnSpeakingStart returns a handle delivering the user ID of every participant
// who starts speaking on conn. Close the handle to stop delivery.
func (c *Connector) OnSpeakingStart(conn *Connection) (*SpeakingSubscription, error) {
	return conn.onSpeakingStart()
}

// Touch signals activity on channelID, re-arming its idle timer.
func (c *Connector) Touch(channelID discord.ChannelID) {
	if conn, ok := c.Connection(channelID); ok {
		conn.Touch()
	}
}

// Channels lists the joined channels.
func (c *Connector) Channels() []discord.ChannelID {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]discord.ChannelID, 0, len(c.conns))
	for id := range c.conns {
		ids = append(ids, id)
	}

	return ids
}

// Close leaves every channel and refuses further joins.
func (c *Connector) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	conns := c.conns
	c.conns = make(map[discord.ChannelID]*Connection)
	c.mu.Unlock()

	var errs []error
	for _, conn := range conns {
		if err := c.teardown(ctx, conn, "shutdown"); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// drop removes conn if it is still registered and tears it down.
func (c *Connector) drop(conn *Connection, reason string) {
	c.mu.Lock()
	current, exists := c.conns[conn.channelID]
	if exists && current == conn {
		delete(c.conns, conn.channelID)
	}
	c.mu.Unlock()

	if !exists || current != conn {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	if err := c.teardown(ctx, conn, reason); err != nil {
		c.logger.Warn("Failed to leave voice channel cleanly",
			zap.String("channel_id", conn.channelID.String()),
			zap.Error(err))
	}
}

func (c *Connector) teardown(ctx context.Context, conn *Connection, reason string) error {
	if !conn.shutdown() {
		return nil
	}
	c.metrics.ActiveConnections.Dec()

	err := conn.link.Leave(ctx)

	c.logger.Info("Left voice channel",
		zap.String("channel_id", conn.channelID.String()),
		zap.String("guild_id", conn.guildID.String()),
		zap.String("reason", reason))

	if err != nil {
		return fmt.Errorf("failed to leave voice channel %s: %w", conn.channelID, err)
	}

	return nil
}

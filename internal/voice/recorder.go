package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-voicerec/internal/config"
	"github.com/Raikerian/go-discord-voicerec/internal/metrics"
	"github.com/Raikerian/go-discord-voicerec/pkg/audio"
	"github.com/Raikerian/go-discord-voicerec/pkg/wav"
)

// Recorder is the caller-facing capture API. It joins channels through its
// Connector, admits sessions through its Registry and hands finished results
// to the configured sinks.
type Recorder struct {
	logger     *zap.Logger
	cfg        config.RecordingConfig
	format     audio.Format
	metrics    *metrics.Metrics
	connector  *Connector
	registry   *Registry
	newDecoder DecoderFactory
	sinks      []ResultSink

	// sessions and sinks run on ctx, not on the caller's request context
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[discord.ChannelID]*listener
	closed    bool
	wg        sync.WaitGroup
}

// listener admits a silence-gap session for everyone who starts speaking.
type listener struct {
	speaking *SpeakingSubscription
	done     chan struct{}
}

// RecorderParams holds dependencies for NewRecorder.
type RecorderParams struct {
	fx.In
	Cfg       *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Connector *Connector
	Decoders  DecoderFactory `optional:"true"`
	Sinks     []ResultSink   `group:"result_sinks"`
}

// NewRecorder creates a recorder and makes sure the recordings directory exists.
func NewRecorder(params RecorderParams) (*Recorder, error) {
	cfg := params.Cfg.Recording
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory %s: %w", cfg.Dir, err)
	}

	newDecoder := params.Decoders
	if newDecoder == nil {
		newDecoder = NewOpusFrameDecoder
	}
	m := params.Metrics
	if m == nil {
		m = metrics.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Recorder{
		logger: params.Logger,
		cfg:    cfg,
		format: audio.Format{
			SampleRate:    cfg.SampleRate,
			Channels:      cfg.Channels,
			BitsPerSample: cfg.BitsPerSample,
		},
		metrics:    m,
		connector:  params.Connector,
		registry:   NewRegistry(params.Logger),
		newDecoder: newDecoder,
		sinks:      params.Sinks,
		ctx:        ctx,
		cancel:     cancel,
		listeners:  make(map[discord.ChannelID]*listener),
	}

	params.Logger.Info("Recorder ready",
		zap.String("dir", cfg.Dir),
		zap.Int("sample_rate", cfg.SampleRate),
		zap.Int("channels", cfg.Channels),
		zap.Int("result_sinks", len(params.Sinks)))

	return r, nil
}

// StartRecording joins channelID if needed and starts capturing userID until
// end fires. The returned session resolves to the result.
func (r *Recorder) StartRecording(ctx context.Context, channelID discord.ChannelID, userID discord.UserID, end EndCondition) (*CaptureSession, error) {
	if err := end.Validate(); err != nil {
		return nil, err
	}
	if r.isClosed() {
		return nil, ErrRecorderClosed
	}

	key := Key{ChannelID: channelID, UserID: userID}
	if r.registry.IsActive(key) {
		r.metrics.AdmitRejected.Inc()

		return nil, ErrAlreadyActive
	}

	conn, err := r.connector.Join(ctx, channelID)
	if err != nil {
		return nil, err
	}

	return r.admit(conn, key, end)
}

// StopRecording asks the session for channelID/userID to finish. It returns
// false when there is no such session or it was already stopped.
func (r *Recorder) StopRecording(channelID discord.ChannelID, userID discord.UserID) bool {
	session, err := r.registry.Get(Key{ChannelID: channelID, UserID: userID})
	if err != nil {
		return false
	}

	return session.Stop()
}

// IsRecording reports whether userID is being captured in channelID.
func (r *Recorder) IsRecording(channelID discord.ChannelID, userID discord.UserID) bool {
	return r.registry.IsActive(Key{ChannelID: channelID, UserID: userID})
}

// Sessions returns the live sessions.
func (r *Recorder) Sessions() []*CaptureSession {
	active := r.registry.Active()
	sessions := make([]*CaptureSession, 0, len(active))
	for _, s := range active {
		sessions = append(sessions, s)
	}

	return sessions
}

// StartFirstSpeaker waits for anyone in channelID to start speaking and
// records them. It returns ErrNoSpeaker when nobody speaks within the
// configured first-speaker timeout.
func (r *Recorder) StartFirstSpeaker(ctx context.Context, channelID discord.ChannelID, end EndCondition) (*CaptureSession, error) {
	if err := end.Validate(); err != nil {
		return nil, err
	}
	if r.isClosed() {
		return nil, ErrRecorderClosed
	}

	conn, err := r.connector.Join(ctx, channelID)
	if err != nil {
		return nil, err
	}

	speaking, err := r.connector.OnSpeakingStart(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer speaking.Close()

	timer := time.NewTimer(r.cfg.FirstSpeakerTimeout)
	defer timer.Stop()

	for {
		select {
		case userID, ok := <-speaking.C():
			if !ok {
				return nil, ErrNotConnected
			}

			session, err := r.admit(conn, Key{ChannelID: channelID, UserID: userID}, end)
			if errors.Is(err, ErrAlreadyActive) {
				continue
			}

			return session, err
		case <-timer.C:
			r.logger.Info("Nobody started speaking, recording canceled",
				zap.String("channel_id", channelID.String()),
				zap.Duration("timeout", r.cfg.FirstSpeakerTimeout))

			return nil, ErrNoSpeaker
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.ctx.Done():
			return nil, ErrRecorderClosed
		}
	}
}

// Listen joins channelID and records every participant who starts speaking
// until they fall silent. Listening to a channel twice is a no-op.
func (r *Recorder) Listen(ctx context.Context, channelID discord.ChannelID) error {
	r.mu.Lock()
	_, listening := r.listeners[channelID]
	closed := r.closed
	r.mu.Unlock()

	if closed {
		return ErrRecorderClosed
	}
	if listening {
		return nil
	}

	conn, err := r.connector.Join(ctx, channelID)
	if err != nil {
		return err
	}

	speaking, err := r.connector.OnSpeakingStart(conn)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		speaking.Close()

		return ErrRecorderClosed
	}
	if _, exists := r.listeners[channelID]; exists {
		speaking.Close()

		return nil
	}

	l := &listener{speaking: speaking, done: make(chan struct{})}
	r.listeners[channelID] = l
	r.wg.Add(1)
	go r.listen(conn, l)

	r.logger.Info("Listening for speakers", zap.String("channel_id", channelID.String()))

	return nil
}

// Unlisten stops admitting new speakers in channelID and stops the sessions
// already running there.
func (r *Recorder) Unlisten(channelID discord.ChannelID) bool {
	r.mu.Lock()
	l, exists := r.listeners[channelID]
	r.mu.Unlock()

	if !exists {
		return false
	}

	l.speaking.Close()
	<-l.done
	r.stopChannel(channelID)

	return true
}

// Leave stops everything in channelID and disconnects from it.
func (r *Recorder) Leave(ctx context.Context, channelID discord.ChannelID) error {
	r.Unlisten(channelID)
	for _, s := range r.stopChannel(channelID) {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return r.connector.Leave(ctx, channelID)
}

// Close stops every listener and session, waits for their results to reach
// the sinks, then leaves all channels.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()

		return nil
	}
	r.closed = true
	listeners := make([]*listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.Unlock()

	for _, l := range listeners {
		l.speaking.Close()
	}

	active := r.registry.Active()
	for _, s := range active {
		s.Stop()
	}

	r.logger.Info("Stopping recorder", zap.Int("active_sessions", len(active)))

	waited := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waited)
	}()

	var errs []error
	select {
	case <-waited:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for sessions: %w", ctx.Err()))
	}
	r.cancel()

	if err := r.connector.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (r *Recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

// admit subscribes, opens the decoder and output file, registers the session
// and starts it. Nothing is registered if any step fails.
func (r *Recorder) admit(conn *Connection, key Key, end EndCondition) (*CaptureSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRecorderClosed
	}

	session, err := r.registry.Admit(key, func(id string, key Key) (*CaptureSession, error) {
		stream, err := r.connector.Subscribe(conn, key.UserID, end)
		if err != nil {
			return nil, err
		}

		decoder, err := r.newDecoder(r.format, r.cfg.FrameSize)
		if err != nil {
			stream.Close()

			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}

		writer, err := wav.Create(r.outputPath(key, id), r.format)
		if err != nil {
			stream.Close()

			return nil, fmt.Errorf("%w: %w", ErrWrite, err)
		}

		return NewCaptureSession(SessionParams{
			ID:          id,
			Key:         key,
			End:         end,
			MaxDuration: r.cfg.MaxDuration,
			Stream:      stream,
			Decoder:     decoder,
			Writer:      writer,
			Logger:      r.logger,
			Metrics:     r.metrics,
			OnFrame:     conn.Touch,
		}), nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyActive) {
			r.metrics.AdmitRejected.Inc()
		}

		return nil, err
	}

	conn.Touch()
	session.Start(r.ctx)

	r.wg.Add(1)
	go r.deliver(session)

	return session, nil
}

func (r *Recorder) outputPath(key Key, id string) string {
	name := fmt.Sprintf("%s-%s-%s.wav", key.UserID, time.Now().UTC().Format("20060102T150405Z"), id)

	return filepath.Join(r.cfg.Dir, name)
}

// deliver hands a finished session's result to every sink.
func (r *Recorder) deliver(session *CaptureSession) {
	defer r.wg.Done()

	<-session.Done()
	// r.ctx may already be canceled by Close; with done closed Wait cannot block.
	result, err := session.Wait(context.Background())
	if err != nil || !result.Captured() {
		return
	}

	for _, sink := range r.sinks {
		if err := sink.Consume(r.ctx, result); err != nil {
			r.logger.Warn("Result sink failed",
				zap.String("sink", sink.Name()),
				zap.String("session_id", result.SessionID),
				zap.Error(err))
		}
	}
}

func (r *Recorder) listen(conn *Connection, l *listener) {
	defer r.wg.Done()
	defer close(l.done)
	defer func() {
		r.mu.Lock()
		if current, exists := r.listeners[conn.ChannelID()]; exists && current == l {
			delete(r.listeners, conn.ChannelID())
		}
		r.mu.Unlock()
	}()

	for userID := range l.speaking.C() {
		key := Key{ChannelID: conn.ChannelID(), UserID: userID}
		_, err := r.admit(conn, key, SilenceGap(r.cfg.SilenceGap))
		switch {
		case err == nil:
		case errors.Is(err, ErrAlreadyActive):
			r.logger.Debug("Speaker already being recorded", zap.String("user_id", userID.String()))
		default:
			r.logger.Warn("Failed to start recording speaker",
				zap.String("channel_id", key.ChannelID.String()),
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}
}

// stopChannel stops the sessions in channelID and returns them.
func (r *Recorder) stopChannel(channelID discord.ChannelID) []*CaptureSession {
	var stopped []*CaptureSession
	for key, s := range r.registry.Active() {
		if key.ChannelID == channelID {
			s.Stop()
			stopped = append(stopped, s)
		}
	}

	return stopped
}

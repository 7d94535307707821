package voice

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-voicerec/internal/metrics"
	"github.com/Raikerian/go-discord-voicerec/pkg/util"
)

// progressEvery is how many frames pass between progress log lines.
const progressEvery = 50

// ContainerWriter is the storage side of a capture session. *wav.Writer
// implements it.
type ContainerWriter interface {
	Path() string
	Append(samples []int16) (int, error)
	BytesWritten() int64
	Close() error
	Abort() error
}

// SessionParams holds the collaborators of a capture session.
type SessionParams struct {
	ID  string
	Key Key
	End EndCondition
	// MaxDuration caps silence and manual sessions. Zero means no cap.
	MaxDuration time.Duration

	Stream  FrameStream
	Decoder FrameDecoder
	Writer  ContainerWriter

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// OnFrame is called for every frame taken off the stream.
	OnFrame func()
}

// CaptureSession records one participant into one WAV file. It moves through
// listening, draining and finalized exactly once; the result becomes
// available when Done is closed.
type CaptureSession struct {
	id          string
	key         Key
	end         EndCondition
	maxDuration time.Duration

	stream  FrameStream
	decoder FrameDecoder
	writer  ContainerWriter
	logger  *zap.Logger
	metrics *metrics.Metrics
	onFrame func()
	release func(*CaptureSession)

	state        atomic.Int32
	startedAt    time.Time
	stopCh       chan struct{}
	stopOnce     sync.Once
	startOnce    sync.Once
	finalizeOnce sync.Once
	done         chan struct{}

	// owned by the run goroutine until done is closed
	accepted  int
	rejected  int
	lowInfo   int
	errorFlag bool
	writeErr  error

	result Result
	err    error
}

// NewCaptureSession creates a session in the listening state. Start must be
// called to begin consuming frames.
func NewCaptureSession(params SessionParams) *CaptureSession {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := params.Metrics
	if m == nil {
		m = metrics.NewNop()
	}

	return &CaptureSession{
		id:          params.ID,
		key:         params.Key,
		end:         params.End,
		maxDuration: params.MaxDuration,
		stream:      params.Stream,
		decoder:     params.Decoder,
		writer:      params.Writer,
		onFrame:     params.OnFrame,
		metrics:     m,
		logger: logger.With(
			zap.String("session_id", params.ID),
			zap.String("channel_id", params.Key.ChannelID.String()),
			zap.String("user_id", params.Key.UserID.String())),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *CaptureSession) ID() string { return s.id }

func (s *CaptureSession) Key() Key { return s.key }

func (s *CaptureSession) EndCondition() EndCondition { return s.end }

// OutputPath is where the recording is being written.
func (s *CaptureSession) OutputPath() string { return s.writer.Path() }

func (s *CaptureSession) State() State {
	return State(s.state.Load())
}

// Start launches the session goroutine. Later calls do nothing.
func (s *CaptureSession) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.startedAt = time.Now()
		s.metrics.ActiveSessions.Inc()
		s.metrics.SessionsStarted.Inc()
		s.logger.Info("Recording started", zap.Stringer("end", s.end))

		go s.run(ctx)
	})
}

// Stop asks the session to drain and finalize. It returns false if the
// session had already been asked to stop.
func (s *CaptureSession) Stop() bool {
	stopped := false
	s.stopOnce.Do(func() {
		close(s.stopCh)
		stopped = true
	})

	return stopped
}

// Done is closed once the session is finalized and removed from its registry.
func (s *CaptureSession) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session is finalized or ctx ends. The error is non-nil
// only for sessions that failed to write their recording.
func (s *CaptureSession) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.result, s.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *CaptureSession) run(ctx context.Context) {
	var deadline <-chan time.Time
	limit, limitReason := s.limit()
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		deadline = timer.C
	}

	var gap *util.Debouncer
	if s.end.Kind == EndSilenceGap {
		gap = util.NewDebouncer(s.end.Duration)
		defer gap.Stop()
	}

	reason := s.listen(ctx, deadline, limitReason, gap)
	s.state.Store(int32(StateDraining))
	if reason != EndReasonWriteError {
		s.drain()
	} else {
		s.stream.Close()
	}
	s.finalize(reason)
}

// limit returns the hard deadline for the session and the reason reported
// when it fires.
func (s *CaptureSession) limit() (time.Duration, EndReason) {
	if s.end.Kind == EndFixedDuration {
		return s.end.Duration, EndReasonDuration
	}

	return s.maxDuration, EndReasonMaxDuration
}

func (s *CaptureSession) listen(ctx context.Context, deadline <-chan time.Time, limitReason EndReason, gap *util.Debouncer) EndReason {
	frames := s.stream.Frames()
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return EndReasonStreamClosed
			}
			if err := s.handle(frame); err != nil {
				return EndReasonWriteError
			}
			gap.Reset()
		case <-deadline:
			return limitReason
		case <-gap.C():
			return EndReasonSilence
		case <-s.stopCh:
			return EndReasonManual
		case <-ctx.Done():
			return EndReasonCanceled
		}
	}
}

// drain closes the stream so nothing new is delivered, then processes what
// was already buffered.
func (s *CaptureSession) drain() {
	s.stream.Close()

	drained := 0
	for frame := range s.stream.Frames() {
		drained++
		if err := s.handle(frame); err != nil {
			break
		}
	}

	if drained > 0 {
		s.logger.Debug("Drained buffered frames", zap.Int("frames", drained))
	}
}

// handle decodes and writes one frame. Decode failures are counted and
// swallowed; a write failure is returned and ends the session.
func (s *CaptureSession) handle(frame *Frame) error {
	if s.onFrame != nil {
		s.onFrame()
	}

	decoded, err := s.decoder.Decode(frame.Opus)
	if err != nil {
		s.rejected++
		s.errorFlag = true
		s.metrics.FramesRejected.Inc()
		s.logger.Debug("Dropping undecodable frame",
			zap.Uint16("sequence", frame.Sequence),
			zap.Error(err))

		return nil
	}

	if _, err := s.writer.Append(decoded.PCM); err != nil {
		s.writeErr = fmt.Errorf("%w: %w", ErrWrite, err)

		return s.writeErr
	}

	s.accepted++
	s.metrics.FramesAccepted.Inc()
	if decoded.Verdict == VerdictLowInformation {
		s.lowInfo++
		s.metrics.FramesLowInformation.Inc()
	}

	if total := s.accepted + s.rejected; total%progressEvery == 0 {
		s.logger.Debug("Recording progress",
			zap.Int("frames_accepted", s.accepted),
			zap.Int("frames_rejected", s.rejected),
			zap.Int("frames_low_information", s.lowInfo),
			zap.Int64("bytes_written", s.writer.BytesWritten()))
	}

	return nil
}

func (s *CaptureSession) finalize(reason EndReason) {
	s.finalizeOnce.Do(func() {
		result := Result{
			Key:                  s.key,
			SessionID:            s.id,
			FramesAccepted:       s.accepted,
			FramesRejected:       s.rejected,
			LowInformationFrames: s.lowInfo,
			BytesWritten:         s.writer.BytesWritten(),
			ErrorFlag:            s.errorFlag,
			EndReason:            reason,
		}

		err := s.writeErr
		switch {
		case err != nil:
			s.abort()
		case s.accepted == 0:
			s.abort()
		default:
			if closeErr := s.writer.Close(); closeErr != nil {
				err = fmt.Errorf("%w: %w", ErrWrite, closeErr)
				s.abort()
			} else {
				result.OutputPath = s.writer.Path()
			}
		}
		if err != nil {
			result.ErrorFlag = true
			result.BytesWritten = 0
		}
		result.Duration = time.Since(s.startedAt)

		s.result = result
		s.err = err
		s.state.Store(int32(StateFinalized))
		s.report(result, err)

		if s.release != nil {
			s.release(s)
		}
		close(s.done)
	})
}

func (s *CaptureSession) abort() {
	if err := s.writer.Abort(); err != nil {
		s.logger.Warn("Failed to remove partial recording",
			zap.String("path", s.writer.Path()),
			zap.Error(err))
	}
}

func (s *CaptureSession) report(result Result, err error) {
	outcome := "captured"
	switch {
	case err != nil:
		outcome = "failed"
	case !result.Captured():
		outcome = "empty"
	}

	s.metrics.ActiveSessions.Dec()
	s.metrics.SessionsEnded.WithLabelValues(string(result.EndReason), outcome).Inc()
	s.metrics.SessionDuration.Observe(result.Duration.Seconds())
	s.metrics.BytesWritten.Add(float64(result.BytesWritten))

	fields := []zap.Field{
		zap.String("end_reason", string(result.EndReason)),
		zap.String("outcome", outcome),
		zap.Int("frames_accepted", result.FramesAccepted),
		zap.Int("frames_rejected", result.FramesRejected),
		zap.Int("frames_low_information", result.LowInformationFrames),
		zap.Int64("bytes_written", result.BytesWritten),
		zap.Duration("duration", result.Duration),
	}

	switch {
	case err != nil:
		s.logger.Error("Recording failed", append(fields, zap.Error(err))...)
	case !result.Captured():
		s.logger.Info("No audio captured", fields...)
	default:
		s.logger.Info("Recording saved", append(fields, zap.String("path", result.OutputPath))...)
	}
}

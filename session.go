package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// SessionState is the lifecycle state of a recording session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionRecording
	SessionStopped
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionRecording:
		return "recording"
	case SessionStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SessionConfig configures a recording session.
type SessionConfig struct {
	MimeTypes       []string // Codec preference list, best first
	VideoBitrateBps int      // Default 8 Mbps
	AudioBitrateBps int      // Default 128 kbps
	FPS             int      // Default 30
	Slice           time.Duration

	Clock  clock.WithTicker
	Logger *logrus.Entry

	// NewEncoder creates the encoder. Default NewEncoder.
	NewEncoder EncoderFactory

	// OnElapsed is called about once a second while recording.
	OnElapsed func(time.Duration)

	// OnError is called when the encoder fails mid-recording. The session
	// is already stopped when it runs and Done is closed after it returns.
	OnError func(error)
}

// DefaultSlice is how often encoded data is requested.
const DefaultSlice = time.Second

// Session records one assembled stream into an ordered chunk sequence.
// It moves Idle -> Recording -> Stopped and never back.
type Session struct {
	config SessionConfig
	clock  clock.WithTicker
	log    *logrus.Entry

	mu        sync.Mutex
	state     SessionState
	starting  bool
	ending    bool
	chunks    [][]byte
	startedAt time.Time
	stoppedAt time.Time
	err       error

	assembly *Assembly
	scope    *Scope
	encoder  Encoder

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewSession creates an idle session.
func NewSession(config SessionConfig) *Session {
	if config.Slice <= 0 {
		config.Slice = DefaultSlice
	}
	if config.VideoBitrateBps <= 0 {
		config.VideoBitrateBps = 8_000_000
	}
	if config.AudioBitrateBps <= 0 {
		config.AudioBitrateBps = 128_000
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	if config.Logger == nil {
		config.Logger = logrus.WithField("component", "session")
	}
	if config.NewEncoder == nil {
		config.NewEncoder = NewEncoder
	}
	return &Session{
		config: config,
		clock:  config.Clock,
		log:    config.Logger,
		done:   make(chan struct{}),
	}
}

// Start begins recording asm. On success the session owns asm and scope
// and releases both when it ends. On failure nothing changes and both
// remain the caller's.
//
// The encoder is started without holding the session lock, so it may
// deliver data from inside its own Start.
func (s *Session) Start(ctx context.Context, asm *Assembly, scope *Scope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if asm == nil || asm.Stream == nil || len(asm.Stream.GetTracks()) == 0 {
		return ErrEmptyStream
	}
	if err := s.reserve(); err != nil {
		return err
	}

	enc, err := s.config.NewEncoder(asm.Stream, EncoderOptions{
		MimeTypes:       s.config.MimeTypes,
		VideoBitrateBps: s.config.VideoBitrateBps,
		AudioBitrateBps: s.config.AudioBitrateBps,
		FPS:             s.config.FPS,
		Clock:           s.clock,
		Logger:          s.log.WithField("component", "encoder"),
	})
	if err != nil {
		s.unreserve()
		return wrapEncoderFailure(err)
	}
	enc.OnDataAvailable(s.appendChunk)
	// Error handling stops the encoder, which waits for the goroutine
	// reporting the error.
	enc.OnError(func(err error) { go s.fail(err) })
	if err := enc.Start(); err != nil {
		enc.Abort()
		s.unreserve()
		return wrapEncoderFailure(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	s.encoder = enc
	s.assembly = asm
	s.scope = scope
	s.startedAt = s.clock.Now()
	s.state = SessionRecording

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	slice := s.clock.NewTicker(s.config.Slice)
	second := s.clock.NewTicker(time.Second)
	s.wg.Add(1)
	go s.loop(loopCtx, slice, second)

	s.log.WithFields(logrus.Fields{
		"mime":  enc.MimeType(),
		"slice": s.config.Slice,
		"mode":  asm.Mode,
	}).Info("recording started")
	return nil
}

// reserve claims the session for a Start in progress.
func (s *Session) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == SessionRecording || s.starting:
		return ErrAlreadyRecording
	case s.state == SessionStopped:
		return ErrSessionFinished
	}
	s.starting = true
	return nil
}

// unreserve gives up a failed Start and drops anything it delivered.
func (s *Session) unreserve() {
	s.mu.Lock()
	s.starting = false
	s.chunks = nil
	s.mu.Unlock()
}

func wrapEncoderFailure(err error) error {
	if errors.Is(err, ErrEncoderFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEncoderFailure, err)
}

func (s *Session) loop(ctx context.Context, slice, second clock.Ticker) {
	defer s.wg.Done()
	defer slice.Stop()
	defer second.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-slice.C():
			s.encoder.RequestData()
		case <-second.C():
			if fn := s.config.OnElapsed; fn != nil {
				fn(s.Elapsed())
			}
		}
	}
}

// appendChunk stores one encoder slice. Empty slices are dropped and
// nothing is stored once the session has stopped.
func (s *Session) appendChunk(data []byte) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionRecording && !s.starting {
		return
	}
	s.chunks = append(s.chunks, data)
	s.log.WithFields(logrus.Fields{"chunk": len(s.chunks), "bytes": len(data)}).Debug("chunk stored")
}

// begin claims the terminal transition. Only the first caller gets true.
func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionRecording || s.ending {
		return false
	}
	s.ending = true
	return true
}

// Stop finalizes the recording: the encoder flushes its last chunk, every
// track of the assembled stream is stopped and the attempt's sources are
// released.
func (s *Session) Stop() error {
	if !s.begin() {
		return s.waitEnded()
	}
	defer close(s.done)
	s.cancel()
	s.wg.Wait()

	err := s.encoder.Stop()
	if err != nil {
		err = wrapEncoderFailure(err)
	}
	s.finish(err)
	return err
}

// Teardown ends the recording without finalizing the container. It is
// safe in every state and releases everything the session owns.
func (s *Session) Teardown() {
	if !s.begin() {
		return
	}
	defer close(s.done)
	s.cancel()
	s.wg.Wait()
	s.encoder.Abort()
	s.finish(nil)
	s.log.Info("recording torn down")
}

func (s *Session) fail(err error) {
	if !s.begin() {
		return
	}
	defer close(s.done)
	s.cancel()
	s.wg.Wait()
	s.encoder.Abort()
	err = wrapEncoderFailure(err)
	s.finish(err)
	s.log.WithError(err).Warn("recording interrupted, keeping partial chunks")
	if fn := s.config.OnError; fn != nil {
		fn(err)
	}
}

// finish moves to Stopped and releases the stream, the derived tracks and
// the attempt scope, in that order.
func (s *Session) finish(err error) {
	s.mu.Lock()
	s.state = SessionStopped
	s.stoppedAt = s.clock.Now()
	s.err = err
	asm, scope := s.assembly, s.scope
	chunks := len(s.chunks)
	s.mu.Unlock()

	asm.Stream.Stop()
	asm.Release()
	if scope != nil {
		if rerr := scope.Release(); rerr != nil {
			s.log.WithError(rerr).Warn("releasing sources")
		}
	}
	s.log.WithFields(logrus.Fields{
		"chunks":  chunks,
		"elapsed": s.Elapsed().Round(time.Millisecond),
	}).Info("recording stopped")
}

func (s *Session) waitEnded() error {
	s.mu.Lock()
	state, ending := s.state, s.ending
	s.mu.Unlock()
	if state == SessionIdle && !ending {
		return ErrNotRecording
	}
	<-s.done
	if err := s.Err(); err != nil {
		return err
	}
	return ErrNotRecording
}

// Done is closed once the session has ended, by Stop, Teardown or an
// encoder failure.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed is measured from the instant the encoder confirmed the start.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case SessionRecording:
		return s.clock.Since(s.startedAt)
	case SessionStopped:
		return s.stoppedAt.Sub(s.startedAt)
	default:
		return 0
	}
}

// Chunks returns the recorded chunks in arrival order.
func (s *Session) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.chunks...)
}

// Size returns the total size of the recorded chunks.
func (s *Session) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.chunks {
		n += len(c)
	}
	return n
}

// MimeType returns the negotiated type, or "" before Start.
func (s *Session) MimeType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.encoder == nil {
		return ""
	}
	return s.encoder.MimeType()
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stream returns the recorded stream, or nil before Start.
func (s *Session) Stream() *MediaStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assembly == nil {
		return nil
	}
	return s.assembly.Stream
}

package recorder

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// TrackKind re-exports pion's codec type so tracks classify the same way a
// WebRTC stack would.
type TrackKind = webrtc.RTPCodecType

const (
	TrackKindAudio = webrtc.RTPCodecTypeAudio
	TrackKindVideo = webrtc.RTPCodecTypeVideo
)

// TrackState represents the state of a track.
type TrackState int32

const (
	TrackStateLive  TrackState = iota // Track is producing media
	TrackStateEnded                   // Track has been stopped
)

func (s TrackState) String() string {
	switch s {
	case TrackStateLive:
		return "live"
	case TrackStateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// MediaStreamTrack represents a single audio or video track.
type MediaStreamTrack interface {
	// ID returns the unique identifier for this track.
	ID() string

	// Kind returns the track kind (audio or video).
	Kind() TrackKind

	// Label returns a human-readable label for the track source.
	Label() string

	// State returns the current track state.
	State() TrackState

	// Stop ends the track. Only the first call has an effect.
	Stop()

	// Done is closed once the track has ended.
	Done() <-chan struct{}
}

// VideoTrack is a MediaStreamTrack that produces video frames.
type VideoTrack interface {
	MediaStreamTrack

	// ReadFrame blocks until the next frame is published.
	ReadFrame(ctx context.Context) (*VideoFrame, error)

	// CurrentFrame returns the most recently published frame, or nil.
	CurrentFrame() *VideoFrame

	// Settings returns the actual video settings.
	Settings() VideoTrackSettings
}

// VideoTrackSettings describes the actual video track settings.
type VideoTrackSettings struct {
	Width     int
	Height    int
	FrameRate int
	DeviceID  string
}

// AudioTrack is a MediaStreamTrack that produces audio samples.
type AudioTrack interface {
	MediaStreamTrack

	// ReadSamples blocks until the next block of samples is published.
	ReadSamples(ctx context.Context) (*AudioSamples, error)

	// Settings returns the actual audio settings.
	Settings() AudioTrackSettings
}

// AudioTrackSettings describes the actual audio track settings.
type AudioTrackSettings struct {
	SampleRate   int
	ChannelCount int
	DeviceID     string
}

// BaseTrack provides the identity and stop-once lifecycle shared by tracks.
type BaseTrack struct {
	id       string
	label    string
	kind     TrackKind
	state    atomic.Int32
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	onStop  []func()
	stopped atomic.Int32
}

// NewBaseTrack creates a live base track with a random ID.
func NewBaseTrack(label string, kind TrackKind) *BaseTrack {
	return &BaseTrack{
		id:    uuid.NewString(),
		label: label,
		kind:  kind,
		done:  make(chan struct{}),
	}
}

func (t *BaseTrack) ID() string            { return t.id }
func (t *BaseTrack) Kind() TrackKind       { return t.kind }
func (t *BaseTrack) Label() string         { return t.label }
func (t *BaseTrack) State() TrackState     { return TrackState(t.state.Load()) }
func (t *BaseTrack) Done() <-chan struct{} { return t.done }

// OnStop registers a hook run when the track stops. Hooks registered after
// the track ended run immediately.
func (t *BaseTrack) OnStop(fn func()) {
	t.mu.Lock()
	if t.State() == TrackStateEnded {
		t.mu.Unlock()
		fn()
		return
	}
	t.onStop = append(t.onStop, fn)
	t.mu.Unlock()
}

// Stop ends the track and runs its stop hooks once.
func (t *BaseTrack) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.state.Store(int32(TrackStateEnded))
		hooks := t.onStop
		t.onStop = nil
		t.mu.Unlock()

		t.stopped.Add(1)
		close(t.done)
		for _, fn := range hooks {
			fn()
		}
	})
}

// StopCount reports how many times the track was actually stopped (0 or 1).
func (t *BaseTrack) StopCount() int { return int(t.stopped.Load()) }

// LocalVideoTrack is a push-fed video track. Producers call WriteFrame;
// consumers either sample the latest frame or block for the next one.
type LocalVideoTrack struct {
	*BaseTrack
	settings atomic.Pointer[VideoTrackSettings]
	latest   atomic.Pointer[VideoFrame]
	frameCh  chan *VideoFrame
}

// NewLocalVideoTrack creates a live video track.
func NewLocalVideoTrack(label string, settings VideoTrackSettings) *LocalVideoTrack {
	t := &LocalVideoTrack{
		BaseTrack: NewBaseTrack(label, TrackKindVideo),
		frameCh:   make(chan *VideoFrame, 1),
	}
	t.settings.Store(&settings)
	return t
}

// WriteFrame publishes a frame. A consumer that has not picked up the
// previous frame loses it; the newest frame always wins.
func (t *LocalVideoTrack) WriteFrame(frame *VideoFrame) error {
	if t.State() == TrackStateEnded {
		return ErrTrackEnded
	}
	t.latest.Store(frame)
	if s := t.settings.Load(); s.Width != frame.Width || s.Height != frame.Height {
		ns := *s
		ns.Width, ns.Height = frame.Width, frame.Height
		t.settings.Store(&ns)
	}
	for {
		select {
		case t.frameCh <- frame:
			return nil
		default:
		}
		select {
		case <-t.frameCh:
		default:
		}
	}
}

func (t *LocalVideoTrack) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrTrackEnded
	case frame := <-t.frameCh:
		return frame, nil
	}
}

func (t *LocalVideoTrack) CurrentFrame() *VideoFrame    { return t.latest.Load() }
func (t *LocalVideoTrack) Settings() VideoTrackSettings { return *t.settings.Load() }

// LocalAudioTrack is a push-fed audio track with a small drop-oldest queue.
type LocalAudioTrack struct {
	*BaseTrack
	settings  AudioTrackSettings
	samplesCh chan *AudioSamples
}

// NewLocalAudioTrack creates a live audio track.
func NewLocalAudioTrack(label string, settings AudioTrackSettings) *LocalAudioTrack {
	return &LocalAudioTrack{
		BaseTrack: NewBaseTrack(label, TrackKindAudio),
		settings:  settings,
		samplesCh: make(chan *AudioSamples, 16),
	}
}

// WriteSamples publishes a block of samples, evicting the oldest queued
// block when the consumer lags.
func (t *LocalAudioTrack) WriteSamples(samples *AudioSamples) error {
	if t.State() == TrackStateEnded {
		return ErrTrackEnded
	}
	for {
		select {
		case t.samplesCh <- samples:
			return nil
		default:
		}
		select {
		case <-t.samplesCh:
		default:
		}
	}
}

func (t *LocalAudioTrack) ReadSamples(ctx context.Context) (*AudioSamples, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrTrackEnded
	case s := <-t.samplesCh:
		return s, nil
	}
}

func (t *LocalAudioTrack) Settings() AudioTrackSettings { return t.settings }

// MediaStream is an ordered, de-duplicated set of tracks.
type MediaStream struct {
	id     string
	tracks []MediaStreamTrack
	mu     sync.RWMutex
}

// NewMediaStream creates a stream holding the given tracks. Tracks sharing
// an ID are kept once.
func NewMediaStream(tracks ...MediaStreamTrack) *MediaStream {
	s := &MediaStream{id: uuid.NewString()}
	for _, t := range tracks {
		s.AddTrack(t)
	}
	return s
}

func (s *MediaStream) ID() string { return s.id }

// Active reports whether any track is still live.
func (s *MediaStream) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.State() == TrackStateLive {
			return true
		}
	}
	return false
}

func (s *MediaStream) GetTracks() []MediaStreamTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]MediaStreamTrack, len(s.tracks))
	copy(result, s.tracks)
	return result
}

func (s *MediaStream) GetVideoTracks() []VideoTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []VideoTrack
	for _, t := range s.tracks {
		if vt, ok := t.(VideoTrack); ok {
			result = append(result, vt)
		}
	}
	return result
}

func (s *MediaStream) GetAudioTracks() []AudioTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []AudioTrack
	for _, t := range s.tracks {
		if at, ok := t.(AudioTrack); ok {
			result = append(result, at)
		}
	}
	return result
}

func (s *MediaStream) GetTrackByID(id string) MediaStreamTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.ID() == id {
			return t
		}
	}
	return nil
}

// AddTrack appends a track unless one with the same ID is already present.
func (s *MediaStream) AddTrack(track MediaStreamTrack) bool {
	if track == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.ID() == track.ID() {
			return false
		}
	}
	s.tracks = append(s.tracks, track)
	return true
}

// Stop stops every track in the stream.
func (s *MediaStream) Stop() {
	for _, t := range s.GetTracks() {
		t.Stop()
	}
}

package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// Controls is the UI state the recorder reads. The recorder never stores
// these values; they are read when a preview or recording is set up and,
// for the overlay, on every composed frame.
type Controls interface {
	Mode() RecordingMode
	CameraID() string
	MicrophoneID() string
	Mirrored() bool
	Overlay() OverlayLayout
}

// ControlState is a concurrency-safe Controls with setters.
type ControlState struct {
	mu       sync.RWMutex
	mode     RecordingMode
	camera   string
	mic      string
	mirrored bool
	overlay  OverlayLayout
}

// NewControlState returns controls with the default overlay for shape.
func NewControlState(mode RecordingMode, shape OverlayShape) *ControlState {
	return &ControlState{mode: mode, overlay: DefaultOverlayLayout(shape)}
}

func (c *ControlState) Mode() RecordingMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

func (c *ControlState) CameraID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.camera
}

func (c *ControlState) MicrophoneID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mic
}

func (c *ControlState) Mirrored() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mirrored
}

// Overlay returns the overlay layout with the current mirror flag.
func (c *ControlState) Overlay() OverlayLayout {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l := c.overlay
	l.Mirrored = c.mirrored
	return l
}

func (c *ControlState) SetMode(m RecordingMode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
}

func (c *ControlState) SetCamera(id string) {
	c.mu.Lock()
	c.camera = id
	c.mu.Unlock()
}

func (c *ControlState) SetMicrophone(id string) {
	c.mu.Lock()
	c.mic = id
	c.mu.Unlock()
}

func (c *ControlState) SetMirrored(on bool) {
	c.mu.Lock()
	c.mirrored = on
	c.mu.Unlock()
}

// ToggleMirror flips the mirror flag and returns the new value.
func (c *ControlState) ToggleMirror() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mirrored = !c.mirrored
	return c.mirrored
}

// MoveOverlay sets the overlay offset from its corner.
func (c *ControlState) MoveOverlay(x, y int) {
	c.mu.Lock()
	c.overlay.X, c.overlay.Y = x, y
	c.mu.Unlock()
}

// SetOverlay replaces the overlay layout. Its Mirrored field is ignored.
func (c *ControlState) SetOverlay(l OverlayLayout) {
	c.mu.Lock()
	c.overlay = l
	c.mu.Unlock()
}

// Notifier shows short user-facing messages.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Log *logrus.Entry
}

func (n LogNotifier) Success(msg string) { n.Log.Info(msg) }
func (n LogNotifier) Error(msg string)   { n.Log.Error(msg) }

// Notification texts.
const (
	MsgRecordingStarted    = "Recording started"
	MsgRecordingStopped    = "Recording stopped"
	MsgRecordingDownloaded = "Recording downloaded"
)

// Config configures a Recorder.
type Config struct {
	Provider DeviceProvider // Nil uses the registered provider
	Controls Controls       // Nil uses a ControlState in screen mode
	Notifier Notifier       // Nil logs

	Canvas  CompositorConfig
	Mixer   MixerConfig
	Session SessionConfig

	Clock  clock.WithTicker
	Logger *logrus.Entry
}

// Preview holds the sources shown before and during a recording. They are
// never used for recording.
type Preview struct {
	Mode   RecordingMode
	Screen *SourceHandle
	Camera *SourceHandle

	scope *Scope
}

// Stop releases the preview sources.
func (p *Preview) Stop() error {
	if p == nil {
		return nil
	}
	return p.scope.Release()
}

// Recorder wires device acquisition, assembly and recording sessions
// together. Every attempt owns a fresh Scope so that nothing acquired for
// it outlives it.
type Recorder struct {
	config    Config
	controls  Controls
	notify    Notifier
	devices   *MediaDevices
	assembler *Assembler
	clock     clock.WithTicker
	log       *logrus.Entry

	mu       sync.Mutex
	preview  *Preview
	session  *Session
	last     *Session // Finished session whose chunks await export
	starting bool     // A StartRecording is acquiring sources
	closed   bool
}

// New creates a recorder.
func New(config Config) (*Recorder, error) {
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	if config.Logger == nil {
		config.Logger = logrus.WithField("component", "recorder")
	}
	if config.Controls == nil {
		config.Controls = NewControlState(ModeScreen, OverlayRect)
	}
	if config.Notifier == nil {
		config.Notifier = LogNotifier{Log: config.Logger}
	}
	if config.Canvas.Clock == nil {
		config.Canvas.Clock = config.Clock
	}
	if config.Mixer.Clock == nil {
		config.Mixer.Clock = config.Clock
	}
	if config.Session.Clock == nil {
		config.Session.Clock = config.Clock
	}
	if config.Session.Logger == nil {
		config.Session.Logger = config.Logger.WithField("component", "session")
	}

	devices, err := NewMediaDevices(config.Provider, config.Logger.WithField("component", "devices"))
	if err != nil {
		return nil, err
	}
	return &Recorder{
		config:   config,
		controls: config.Controls,
		notify:   config.Notifier,
		devices:  devices,
		assembler: NewAssembler(AssemblerConfig{
			Canvas: config.Canvas,
			Mixer:  config.Mixer,
			Logger: config.Logger.WithField("component", "assembler"),
		}),
		clock: config.Clock,
		log:   config.Logger,
	}, nil
}

// Devices returns the device access used by the recorder.
func (r *Recorder) Devices() *MediaDevices { return r.devices }

// Controls returns the controls the recorder reads.
func (r *Recorder) Controls() Controls { return r.controls }

// SelectDefaults fills in the first camera and microphone when the
// controls have none and support setting them.
func (r *Recorder) SelectDefaults(ctx context.Context) error {
	type selector interface {
		SetCamera(string)
		SetMicrophone(string)
	}
	sel, ok := r.controls.(selector)
	if !ok {
		return nil
	}
	cam, mic, err := r.devices.DefaultSelection(ctx)
	if err != nil {
		return err
	}
	if r.controls.CameraID() == "" && cam != "" {
		sel.SetCamera(cam)
	}
	if r.controls.MicrophoneID() == "" && mic != "" {
		sel.SetMicrophone(mic)
	}
	return nil
}

// StartPreview acquires the preview sources for the current mode. Any
// existing preview is released first.
func (r *Recorder) StartPreview(ctx context.Context) (*Preview, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRecorderClosed
	}
	if err := r.stopPreviewLocked(); err != nil {
		r.log.WithError(err).Warn("releasing previous preview")
	}

	mode := r.controls.Mode()
	p := &Preview{Mode: mode, scope: NewScope()}
	if mode.NeedsDisplay() {
		h, err := r.devices.CaptureDisplay(ctx, r.displayOptions(), true)
		if err != nil {
			return nil, r.failPreview(p, err)
		}
		p.scope.AddHandle(h)
		p.Screen = h
	}
	if mode.NeedsCamera() && r.controls.CameraID() != "" {
		h, err := r.devices.OpenCamera(ctx, r.controls.CameraID())
		if err != nil {
			return nil, r.failPreview(p, err)
		}
		p.scope.AddHandle(h)
		p.Camera = h
	}
	r.preview = p
	r.log.WithFields(logrus.Fields{"mode": mode, "sources": p.scope.Len()}).Info("preview started")
	return p, nil
}

func (r *Recorder) failPreview(p *Preview, err error) error {
	if rerr := p.scope.Release(); rerr != nil {
		err = errors.Join(err, rerr)
	}
	r.notify.Error(UserMessage(err))
	return err
}

// Preview returns the active preview, or nil.
func (r *Recorder) Preview() *Preview {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preview
}

// StopPreview releases the preview sources.
func (r *Recorder) StopPreview() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopPreviewLocked()
}

func (r *Recorder) stopPreviewLocked() error {
	p := r.preview
	r.preview = nil
	return p.Stop()
}

// SwitchMode fully releases the sources of the previous mode, then
// acquires the preview for the new one. It is refused while recording and
// when the controls cannot change mode.
func (r *Recorder) SwitchMode(ctx context.Context, mode RecordingMode) (*Preview, error) {
	ms, ok := r.controls.(interface{ SetMode(RecordingMode) })
	if !ok {
		return nil, ErrModeNotSettable
	}
	r.mu.Lock()
	if r.session != nil || r.starting {
		r.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	if err := r.stopPreviewLocked(); err != nil {
		r.log.WithError(err).Warn("releasing preview for mode switch")
	}
	r.mu.Unlock()

	ms.SetMode(mode)
	r.log.WithField("mode", mode).Info("mode switched")
	return r.StartPreview(ctx)
}

func (r *Recorder) displayOptions() DisplayVideoOptions {
	return DisplayVideoOptions{
		Width:     r.config.Canvas.Width,
		Height:    r.config.Canvas.Height,
		FrameRate: r.config.Canvas.FPS,
	}
}

// validateSelection checks that the mode's required devices are chosen.
func validateSelection(mode RecordingMode, cameraID, micID string) error {
	if mode.NeedsCamera() && (cameraID == "" || micID == "") {
		return ErrMissingSelection
	}
	return nil
}

// StartRecording acquires fresh sources for the current mode, assembles
// the stream and starts a session. On failure everything acquired in the
// attempt is released before the error is returned.
//
// Sources are acquired without holding the recorder lock; a concurrent
// StartRecording or SwitchMode gets ErrAlreadyRecording meanwhile.
func (r *Recorder) StartRecording(ctx context.Context) error {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return ErrRecorderClosed
	case r.session != nil || r.starting:
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.starting = true
	r.mu.Unlock()

	mode := r.controls.Mode()
	cameraID, micID := r.controls.CameraID(), r.controls.MicrophoneID()
	if err := validateSelection(mode, cameraID, micID); err != nil {
		r.endStarting()
		r.notify.Error(UserMessage(err))
		return err
	}

	scope := NewScope()
	fail := func(err error) error {
		r.endStarting()
		if rerr := scope.Release(); rerr != nil {
			r.log.WithError(rerr).Warn("releasing attempt")
		}
		r.log.WithError(err).WithField("mode", mode).Warn("recording failed to start")
		r.notify.Error(UserMessage(err))
		return err
	}

	req := AssembleRequest{
		Mode:     mode,
		Mirrored: r.controls.Mirrored(),
		Layout:   LayoutFunc(r.controls.Overlay),
	}
	if micID != "" {
		h, err := r.devices.OpenMicrophone(ctx, micID)
		if err != nil {
			return fail(err)
		}
		scope.AddHandle(h)
		req.Microphone = h
	}
	if mode.NeedsDisplay() {
		h, err := r.devices.CaptureDisplay(ctx, r.displayOptions(), true)
		if err != nil {
			return fail(err)
		}
		scope.AddHandle(h)
		req.Screen = h
	}
	if mode.NeedsCamera() {
		h, err := r.devices.OpenCamera(ctx, cameraID)
		if err != nil {
			return fail(err)
		}
		scope.AddHandle(h)
		req.Camera = h
	}

	asm, err := r.assembler.Assemble(ctx, req)
	if err != nil {
		return fail(err)
	}

	cfg := r.config.Session
	var s *Session
	userOnError := cfg.OnError
	cfg.OnError = func(err error) {
		r.sessionFailed(s, err)
		if userOnError != nil {
			userOnError(err)
		}
	}
	s = NewSession(cfg)
	if err := s.Start(ctx, asm, scope); err != nil {
		asm.Release()
		return fail(err)
	}

	r.mu.Lock()
	r.starting = false
	if r.closed {
		r.mu.Unlock()
		s.Teardown()
		return ErrRecorderClosed
	}
	r.last = nil
	if s.State() == SessionStopped {
		// Failed before it was installed; sessionFailed reports it.
		r.last = s
		r.mu.Unlock()
		return s.Err()
	}
	r.session = s
	r.mu.Unlock()
	r.notify.Success(MsgRecordingStarted)
	return nil
}

func (r *Recorder) endStarting() {
	r.mu.Lock()
	r.starting = false
	r.mu.Unlock()
}

func (r *Recorder) sessionFailed(s *Session, err error) {
	r.mu.Lock()
	if r.session == s {
		r.session = nil
		r.last = s
	}
	r.mu.Unlock()
	r.notify.Error(UserMessage(err))
}

// StopRecording finalizes the active recording. Its chunks are kept for
// Export.
func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	s := r.session
	r.session = nil
	if s != nil {
		r.last = s
	}
	r.mu.Unlock()
	if s == nil {
		return ErrNotRecording
	}

	err := s.Stop()
	if err != nil && !errors.Is(err, ErrNotRecording) {
		r.notify.Error(UserMessage(err))
		return err
	}
	r.notify.Success(MsgRecordingStopped)
	return nil
}

// Recording reports whether a session is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// Session returns the active session, or the finished one awaiting export.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return r.session
	}
	return r.last
}

// Elapsed returns the recording time of the active session.
func (r *Recorder) Elapsed() time.Duration {
	if s := r.Session(); s != nil {
		return s.Elapsed()
	}
	return 0
}

// Export packages the finished recording and then discards it.
func (r *Recorder) Export() (*Artifact, error) {
	r.mu.Lock()
	s := r.last
	r.mu.Unlock()
	if s == nil {
		return nil, ErrNothingToExport
	}
	a, err := Package(s.Chunks(), s.MimeType(), r.clock.Now())
	if err != nil {
		r.notify.Error(UserMessage(err))
		return nil, err
	}
	r.DiscardRecording()
	r.notify.Success(MsgRecordingDownloaded)
	r.log.WithFields(logrus.Fields{"name": a.Name, "bytes": a.Size()}).Info("recording exported")
	return a, nil
}

// DiscardRecording drops the finished recording.
func (r *Recorder) DiscardRecording() {
	r.mu.Lock()
	r.last = nil
	r.mu.Unlock()
}

// Close tears down any active session without finalizing it and releases
// the preview.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	s := r.session
	r.session = nil
	err := r.stopPreviewLocked()
	r.mu.Unlock()

	if s != nil {
		s.Teardown()
	}
	return err
}

package recorder

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

type recordedNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordedNotifier) Success(msg string) { n.add("ok: " + msg) }
func (n *recordedNotifier) Error(msg string)   { n.add("error: " + msg) }

func (n *recordedNotifier) add(msg string) {
	n.mu.Lock()
	n.messages = append(n.messages, msg)
	n.mu.Unlock()
}

func (n *recordedNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type recorderFixture struct {
	clk      *testingclock.FakeClock
	provider *SyntheticProvider
	controls *ControlState
	notes    *recordedNotifier
	rec      *Recorder
}

func newRecorderFixture(t *testing.T, mode RecordingMode, mutate ...func(*Config)) *recorderFixture {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	f := &recorderFixture{
		clk: clk,
		provider: NewSyntheticProvider(SyntheticConfig{
			DisplayWidth:  128,
			DisplayHeight: 72,
			CameraWidth:   64,
			CameraHeight:  48,
			FrameRate:     10,
			DisplayAudio:  true,
			Clock:         clk,
		}),
		controls: NewControlState(mode, OverlayCircle),
		notes:    &recordedNotifier{},
	}

	canvas := testCompositorConfig(clk)
	canvas.FPS, canvas.RefreshRate = 10, 20
	cfg := Config{
		Provider: f.provider,
		Controls: f.controls,
		Notifier: f.notes,
		Canvas:   canvas,
		Session: SessionConfig{
			MimeTypes: []string{"video/x-matroska;codecs=mjpeg,pcm"},
			FPS:       10,
			Slice:     200 * time.Millisecond,
		},
		Clock: clk,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	rec, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { rec.Close() })
	f.rec = rec
	require.NoError(t, rec.SelectDefaults(context.Background()))
	return f
}

// stepUntil advances the fake clock in small increments until cond holds.
func (f *recorderFixture) stepUntil(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.clk.Step(50 * time.Millisecond)
		return cond()
	}, 10*time.Second, 5*time.Millisecond)
}

func TestSelectDefaults(t *testing.T) {
	f := newRecorderFixture(t, ModeScreen)
	assert.Equal(t, "synthetic-camera", f.controls.CameraID())
	assert.Equal(t, "synthetic-mic", f.controls.MicrophoneID())

	// An explicit choice is kept.
	f.controls.SetCamera("other")
	require.NoError(t, f.rec.SelectDefaults(context.Background()))
	assert.Equal(t, "other", f.controls.CameraID())
}

func TestRecordBothEndToEnd(t *testing.T) {
	f := newRecorderFixture(t, ModeBoth)

	require.NoError(t, f.rec.StartRecording(context.Background()))
	assert.True(t, f.rec.Recording())
	assert.ErrorIs(t, f.rec.StartRecording(context.Background()), ErrAlreadyRecording)
	assert.Equal(t, 1, f.provider.Opens(SourceKindCamera))
	assert.Equal(t, 1, f.provider.Opens(SourceKindMicrophone))

	s := f.rec.Session()
	require.NotNil(t, s)
	assert.Equal(t, "video/x-matroska;codecs=mjpeg,pcm", s.MimeType())
	f.stepUntil(t, func() bool { return len(s.Chunks()) >= 3 })
	assert.Greater(t, f.rec.Elapsed(), time.Duration(0))

	require.NoError(t, f.rec.StopRecording())
	assert.False(t, f.rec.Recording())
	assert.ErrorIs(t, f.rec.StopRecording(), ErrNotRecording)
	assert.Empty(t, f.provider.LiveTracks(), "every acquired track is stopped")
	assert.Equal(t, SessionStopped, s.State())

	elapsed := f.rec.Elapsed()
	f.clk.Step(time.Second)
	assert.Equal(t, elapsed, f.rec.Elapsed(), "elapsed freezes at stop")

	chunks := s.Chunks()
	a, err := f.rec.Export()
	require.NoError(t, err)
	assert.Equal(t, s.Size(), a.Size())
	assert.Equal(t, bytes.Join(chunks, nil), a.Data)
	assert.True(t, strings.HasPrefix(a.Name, "recording-2024-06-01T12:"))
	assert.True(t, strings.HasSuffix(a.Name, ".mkv"))
	assert.Equal(t, "video/x-matroska", a.DetectedType)
	assert.True(t, bytes.Contains(a.Data, []byte("V_MJPEG")))

	_, err = f.rec.Export()
	assert.ErrorIs(t, err, ErrNothingToExport, "export discards the recording")

	assert.Equal(t, []string{
		"ok: " + MsgRecordingStarted,
		"ok: " + MsgRecordingStopped,
		"ok: " + MsgRecordingDownloaded,
	}, f.notes.all())
}

func TestRecordCameraDenied(t *testing.T) {
	f := newRecorderFixture(t, ModeCamera)
	f.controls.SetMirrored(true)
	f.provider.Deny(SourceKindCamera, true)

	err := f.rec.StartRecording(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, err, ErrSourceAcquisitionFailed)
	assert.False(t, f.rec.Recording())
	assert.Nil(t, f.rec.Session())
	assert.Equal(t, 1, f.provider.Opens(SourceKindMicrophone), "microphone was acquired first")
	assert.Empty(t, f.provider.LiveTracks(), "and released again")
	assert.Equal(t, []string{"error: Permission to use the device was denied"}, f.notes.all())

	// A later attempt acquires fresh sources.
	f.provider.Deny(SourceKindCamera, false)
	require.NoError(t, f.rec.StartRecording(context.Background()))
	assert.True(t, f.rec.Recording())
	assert.Equal(t, 2, f.provider.Opens(SourceKindMicrophone))
	assert.Equal(t, 1, f.provider.Opens(SourceKindCamera))
	require.NoError(t, f.rec.StopRecording())
	assert.Empty(t, f.provider.LiveTracks())
	assert.Equal(t, []string{
		"error: Permission to use the device was denied",
		"ok: " + MsgRecordingStarted,
		"ok: " + MsgRecordingStopped,
	}, f.notes.all())
}

// gatedProvider holds microphone opens until release is closed, like a
// pending permission prompt.
type gatedProvider struct {
	*SyntheticProvider
	entered chan struct{}
	release chan struct{}
}

func newGatedProvider(p DeviceProvider) *gatedProvider {
	return &gatedProvider{
		SyntheticProvider: p.(*SyntheticProvider),
		entered:           make(chan struct{}, 1),
		release:           make(chan struct{}),
	}
}

func (p *gatedProvider) OpenAudioDevice(ctx context.Context, deviceID string, constraints *AudioConstraints) (AudioTrack, error) {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-p.release
	return p.SyntheticProvider.OpenAudioDevice(ctx, deviceID, constraints)
}

func (p *gatedProvider) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-p.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("microphone was never opened")
	}
}

func TestStartRecordingKeepsRecorderResponsive(t *testing.T) {
	var gate *gatedProvider
	f := newRecorderFixture(t, ModeScreen, func(c *Config) {
		gate = newGatedProvider(c.Provider)
		c.Provider = gate
	})
	ctx := context.Background()

	started := make(chan error, 1)
	go func() { started <- f.rec.StartRecording(ctx) }()
	gate.waitEntered(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.False(t, f.rec.Recording())
		assert.Nil(t, f.rec.Preview())
		assert.NoError(t, f.rec.StopPreview())
		assert.ErrorIs(t, f.rec.StartRecording(ctx), ErrAlreadyRecording)
		_, err := f.rec.SwitchMode(ctx, ModeCamera)
		assert.ErrorIs(t, err, ErrAlreadyRecording)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("recorder blocked while sources were being acquired")
	}

	close(gate.release)
	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("StartRecording did not return")
	}
	assert.True(t, f.rec.Recording())
	assert.Equal(t, ModeScreen, f.controls.Mode())
	require.NoError(t, f.rec.StopRecording())
	assert.Empty(t, f.provider.LiveTracks())
}

func TestCloseDuringStartRecording(t *testing.T) {
	var gate *gatedProvider
	f := newRecorderFixture(t, ModeScreen, func(c *Config) {
		gate = newGatedProvider(c.Provider)
		c.Provider = gate
	})

	started := make(chan error, 1)
	go func() { started <- f.rec.StartRecording(context.Background()) }()
	gate.waitEntered(t)

	require.NoError(t, f.rec.Close())
	close(gate.release)
	select {
	case err := <-started:
		assert.ErrorIs(t, err, ErrRecorderClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("StartRecording did not return")
	}
	assert.False(t, f.rec.Recording())
	require.Eventually(t, func() bool { return len(f.provider.LiveTracks()) == 0 }, 5*time.Second, time.Millisecond)
}

func TestRecordMissingSelection(t *testing.T) {
	f := newRecorderFixture(t, ModeBoth)
	f.controls.SetCamera("")

	err := f.rec.StartRecording(context.Background())
	assert.ErrorIs(t, err, ErrMissingSelection)
	assert.Zero(t, f.provider.Opens(SourceKindMicrophone))
	assert.Zero(t, f.provider.Opens(SourceKindDisplay))
	assert.Zero(t, f.provider.Opens(SourceKindCamera))
	assert.Equal(t, []string{"error: Please select a camera and microphone"}, f.notes.all())
}

func TestRecordScreenWithoutMicrophone(t *testing.T) {
	f := newRecorderFixture(t, ModeScreen)
	f.controls.SetMicrophone("")

	require.NoError(t, f.rec.StartRecording(context.Background()))
	s := f.rec.Session()
	assert.Zero(t, f.provider.Opens(SourceKindMicrophone))
	// Display audio alone still produces a mixed track.
	assert.Len(t, s.Stream().GetAudioTracks(), 1)
	require.NoError(t, f.rec.StopRecording())
	assert.Empty(t, f.provider.LiveTracks())
}

// fixedControls exposes only the read side of a ControlState.
type fixedControls struct{ Controls }

func TestSwitchModeNeedsSettableControls(t *testing.T) {
	f := newRecorderFixture(t, ModeScreen, func(c *Config) {
		c.Controls = fixedControls{c.Controls}
	})
	ctx := context.Background()

	p, err := f.rec.StartPreview(ctx)
	require.NoError(t, err)

	_, err = f.rec.SwitchMode(ctx, ModeCamera)
	assert.ErrorIs(t, err, ErrModeNotSettable)
	assert.Equal(t, ModeScreen, f.rec.Controls().Mode())
	assert.Same(t, p, f.rec.Preview(), "the preview is kept")
	assert.True(t, p.Screen.Live())
}

func TestSwitchModeReleasesPreview(t *testing.T) {
	f := newRecorderFixture(t, ModeScreen)
	ctx := context.Background()

	p, err := f.rec.StartPreview(ctx)
	require.NoError(t, err)
	require.NotNil(t, p.Screen)
	assert.Nil(t, p.Camera)
	screenTracks := p.Screen.Tracks()

	p, err = f.rec.SwitchMode(ctx, ModeCamera)
	require.NoError(t, err)
	assert.Equal(t, ModeCamera, f.controls.Mode())
	require.NotNil(t, p.Camera)
	assert.Nil(t, p.Screen)
	for _, tr := range screenTracks {
		assert.Equal(t, TrackStateEnded, tr.State())
	}
	live := f.provider.LiveTracks()
	require.Len(t, live, 1)
	assert.Equal(t, p.Camera.Video.ID(), live[0].ID())
	assert.Same(t, p, f.rec.Preview())

	// Recording acquires its own camera; the preview one is untouched.
	require.NoError(t, f.rec.StartRecording(ctx))
	assert.Equal(t, 2, f.provider.Opens(SourceKindCamera))
	_, err = f.rec.SwitchMode(ctx, ModeBoth)
	assert.ErrorIs(t, err, ErrAlreadyRecording)
	assert.Equal(t, ModeCamera, f.controls.Mode())

	require.NoError(t, f.rec.StopRecording())
	assert.True(t, p.Camera.Live(), "preview survives the recording")

	require.NoError(t, f.rec.StopPreview())
	assert.Nil(t, f.rec.Preview())
	assert.Empty(t, f.provider.LiveTracks())
}

func TestSwitchModeBothToScreenStopsCamera(t *testing.T) {
	f := newRecorderFixture(t, ModeBoth)
	ctx := context.Background()

	p, err := f.rec.StartPreview(ctx)
	require.NoError(t, err)
	require.NotNil(t, p.Screen)
	require.NotNil(t, p.Camera)
	camera, screen := p.Camera, p.Screen

	p, err = f.rec.SwitchMode(ctx, ModeScreen)
	require.NoError(t, err)
	assert.False(t, camera.Live(), "camera handle reports stopped")
	assert.False(t, screen.Live(), "the display is acquired afresh")
	assert.Nil(t, p.Camera)
	require.NotNil(t, p.Screen)
	assert.True(t, p.Screen.Live())
}

func TestStartPreviewDenied(t *testing.T) {
	f := newRecorderFixture(t, ModeBoth)
	f.provider.Deny(SourceKindCamera, true)

	_, err := f.rec.StartPreview(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Nil(t, f.rec.Preview())
	assert.Empty(t, f.provider.LiveTracks(), "display capture is released")
}

func TestExportWithoutRecording(t *testing.T) {
	f := newRecorderFixture(t, ModeScreen)
	_, err := f.rec.Export()
	assert.ErrorIs(t, err, ErrNothingToExport)
	assert.ErrorIs(t, f.rec.StopRecording(), ErrNotRecording)
}

func TestRecordEncoderFailureKeepsChunks(t *testing.T) {
	enc := &fakeEncoder{}
	var reported error
	var reportedMu sync.Mutex
	f := newRecorderFixture(t, ModeScreen, func(c *Config) {
		c.Session.NewEncoder = fakeEncoderFactory(enc)
		c.Session.Slice = DefaultSlice
		c.Session.OnError = func(err error) {
			reportedMu.Lock()
			reported = err
			reportedMu.Unlock()
		}
	})

	require.NoError(t, f.rec.StartRecording(context.Background()))
	s := f.rec.Session()
	stepSlices(t, f.clk, s, 2)

	enc.fail(errors.New("disk full"))
	require.Eventually(t, func() bool {
		reportedMu.Lock()
		defer reportedMu.Unlock()
		return reported != nil
	}, 5*time.Second, time.Millisecond)
	assert.ErrorIs(t, reported, ErrEncoderFailure)
	assert.False(t, f.rec.Recording())
	assert.Empty(t, f.provider.LiveTracks())
	assert.Contains(t, f.notes.all(), "error: Recording stopped unexpectedly")
	_, _, aborted := enc.state()
	assert.True(t, aborted)

	a, err := f.rec.Export()
	require.NoError(t, err)
	assert.Equal(t, "chunk-1;chunk-2;", string(a.Data))
}

func TestRecorderClose(t *testing.T) {
	f := newRecorderFixture(t, ModeBoth)
	_, err := f.rec.StartPreview(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.rec.StartRecording(context.Background()))

	require.NoError(t, f.rec.Close())
	require.NoError(t, f.rec.Close())
	assert.False(t, f.rec.Recording())
	assert.Empty(t, f.provider.LiveTracks())
	assert.ErrorIs(t, f.rec.StartRecording(context.Background()), ErrRecorderClosed)
	_, err = f.rec.StartPreview(context.Background())
	assert.ErrorIs(t, err, ErrRecorderClosed)
}

func TestNewRecorderWithoutProvider(t *testing.T) {
	prev := GetDeviceProvider()
	t.Cleanup(func() { RegisterDeviceProvider(prev) })
	RegisterDeviceProvider(nil)

	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoDeviceProvider)
}

func TestControlState(t *testing.T) {
	c := NewControlState(ModeBoth, OverlayRect)
	base := c.Overlay()
	assert.False(t, base.Mirrored)

	assert.True(t, c.ToggleMirror())
	assert.True(t, c.Overlay().Mirrored)
	assert.False(t, c.ToggleMirror())

	c.MoveOverlay(40, 60)
	l := c.Overlay()
	assert.Equal(t, 40, l.X)
	assert.Equal(t, 60, l.Y)
	assert.Equal(t, base.Shape, l.Shape)

	c.SetMirrored(true)
	c.SetOverlay(OverlayLayout{Shape: OverlayCircle, Corner: CornerTopRight})
	assert.True(t, c.Overlay().Mirrored, "mirror flag is owned by the controls")
	assert.Equal(t, OverlayCircle, c.Overlay().Shape)
	assert.Equal(t, CornerTopRight, c.Overlay().Corner)
}

package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseTrackStopOnce(t *testing.T) {
	tr := NewBaseTrack("cam", TrackKindVideo)
	assert.NotEmpty(t, tr.ID())
	assert.Equal(t, TrackStateLive, tr.State())

	hooks := 0
	tr.OnStop(func() { hooks++ })
	tr.Stop()
	tr.Stop()

	assert.Equal(t, TrackStateEnded, tr.State())
	assert.Equal(t, 1, tr.StopCount())
	assert.Equal(t, 1, hooks)
	select {
	case <-tr.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}

	// Late hooks run immediately.
	late := false
	tr.OnStop(func() { late = true })
	assert.True(t, late)
}

func TestTrackState_String(t *testing.T) {
	assert.Equal(t, "live", TrackStateLive.String())
	assert.Equal(t, "ended", TrackStateEnded.String())
	assert.Equal(t, "unknown", TrackState(7).String())
}

func TestLocalVideoTrackNewestFrameWins(t *testing.T) {
	tr := NewLocalVideoTrack("display", VideoTrackSettings{FrameRate: 30})
	assert.Nil(t, tr.CurrentFrame())

	first := NewI420Frame(4, 2)
	second := NewI420Frame(8, 6)
	require.NoError(t, tr.WriteFrame(first))
	require.NoError(t, tr.WriteFrame(second))

	assert.Same(t, second, tr.CurrentFrame())
	s := tr.Settings()
	assert.Equal(t, 8, s.Width)
	assert.Equal(t, 6, s.Height)
	assert.Equal(t, 30, s.FrameRate)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := tr.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestLocalVideoTrackEnded(t *testing.T) {
	tr := NewLocalVideoTrack("cam", VideoTrackSettings{})
	tr.Stop()

	assert.ErrorIs(t, tr.WriteFrame(NewI420Frame(2, 2)), ErrTrackEnded)
	_, err := tr.ReadFrame(context.Background())
	assert.ErrorIs(t, err, ErrTrackEnded)
}

func TestLocalAudioTrackDropsOldest(t *testing.T) {
	tr := NewLocalAudioTrack("mic", AudioTrackSettings{SampleRate: 48000, ChannelCount: 1})
	for i := 0; i < 20; i++ {
		require.NoError(t, tr.WriteSamples(NewAudioSamples([]int16{int16(i)}, 48000, 1, int64(i))))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := tr.ReadSamples(ctx)
	require.NoError(t, err)
	// Queue holds 16 blocks, so the first four were evicted.
	assert.Equal(t, int64(4), s.Timestamp)

	tr.Stop()
	assert.ErrorIs(t, tr.WriteSamples(s), ErrTrackEnded)
}

func TestMediaStream(t *testing.T) {
	v := NewLocalVideoTrack("v", VideoTrackSettings{})
	a := NewLocalAudioTrack("a", AudioTrackSettings{})

	s := NewMediaStream(v, a, v)
	assert.NotEmpty(t, s.ID())
	assert.Len(t, s.GetTracks(), 2)
	assert.Len(t, s.GetVideoTracks(), 1)
	assert.Len(t, s.GetAudioTracks(), 1)
	assert.False(t, s.AddTrack(a))
	assert.False(t, s.AddTrack(nil))
	assert.Equal(t, a, s.GetTrackByID(a.ID()))
	assert.Nil(t, s.GetTrackByID("missing"))
	assert.True(t, s.Active())

	s.Stop()
	assert.False(t, s.Active())
	assert.Equal(t, 1, v.StopCount())
	assert.Equal(t, 1, a.StopCount())
}

func TestSourceHandle(t *testing.T) {
	v := NewLocalVideoTrack("Screen 1", VideoTrackSettings{})
	a := NewLocalAudioTrack("System audio", AudioTrackSettings{})

	h := NewSourceHandle(SourceKindDisplay, "display", v, a, nil)
	assert.Equal(t, "Screen 1", h.Label)
	assert.True(t, h.HasAudio())
	assert.Len(t, h.Tracks(), 2)
	assert.True(t, h.Live())

	h.Stop()
	h.Stop()
	assert.False(t, h.Live())
	assert.Equal(t, 1, v.StopCount())
	assert.Equal(t, 1, a.StopCount())

	var nilHandle *SourceHandle
	nilHandle.Stop()
}

func TestAudioBearing(t *testing.T) {
	screen := NewSourceHandle(SourceKindDisplay, "display", NewLocalVideoTrack("s", VideoTrackSettings{}))
	mic := NewSourceHandle(SourceKindMicrophone, "mic", nil, NewLocalAudioTrack("m", AudioTrackSettings{}))

	assert.Empty(t, AudioBearing(screen, nil))
	assert.Equal(t, []*SourceHandle{mic}, AudioBearing(screen, nil, mic))
}

package recorder

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var matroskaMJPEG = CodecProfile{
	MimeType:  "video/x-matroska;codecs=mjpeg,pcm",
	Container: ContainerMatroska,
	Video:     VideoCodecMJPEG,
	Audio:     AudioCodecPCM,
}

type sliceCollector struct {
	mu     sync.Mutex
	slices [][]byte
}

func (c *sliceCollector) add(b []byte) {
	c.mu.Lock()
	c.slices = append(c.slices, b)
	c.mu.Unlock()
}

func (c *sliceCollector) joined() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Join(c.slices, nil)
}

func TestContainerEncoderMatroska(t *testing.T) {
	video := NewLocalVideoTrack("screen", VideoTrackSettings{})
	audio := NewLocalAudioTrack("mixed", AudioTrackSettings{SampleRate: 48000, ChannelCount: 2})
	require.NoError(t, video.WriteFrame(createGradientFrame(64, 48)))

	enc, err := NewContainerEncoder(NewMediaStream(video, audio), matroskaMJPEG, EncoderOptions{})
	require.NoError(t, err)
	assert.Equal(t, matroskaMJPEG.MimeType, enc.MimeType())

	var got sliceCollector
	enc.OnDataAvailable(got.add)
	enc.OnError(func(err error) { t.Errorf("unexpected encoder error: %v", err) })
	require.NoError(t, enc.Start())

	for i := 0; i < 3; i++ {
		require.NoError(t, audio.WriteSamples(constantSamples(int16(100*i), 960, 48000, 2)))
	}
	require.Eventually(t, func() bool {
		return enc.videoFrames.Load() >= 1 && enc.audioPackets.Load() >= 1
	}, 5*time.Second, time.Millisecond)

	enc.RequestData()
	require.NoError(t, video.WriteFrame(createGradientFrame(64, 48)))
	require.Eventually(t, func() bool { return enc.videoFrames.Load() >= 2 }, 5*time.Second, time.Millisecond)
	require.NoError(t, enc.Stop())
	assert.NoError(t, enc.Stop(), "second stop is a no-op")

	data := got.joined()
	require.NotEmpty(t, data)
	assert.Equal(t, []byte{0x1A, 0x45, 0xDF, 0xA3}, data[:4], "EBML magic")
	assert.True(t, mimetype.Detect(data).Is("video/x-matroska"), "detected %s", mimetype.Detect(data))
	assert.True(t, bytes.Contains(data, []byte("V_MJPEG")))
	assert.True(t, bytes.Contains(data, []byte("A_PCM/INT/LIT")))

	// Tracks are only read, never stopped, by the encoder.
	assert.Equal(t, TrackStateLive, video.State())
	assert.Equal(t, TrackStateLive, audio.State())
}

func TestContainerEncoderWaitsForVideoSize(t *testing.T) {
	camera := NewLocalVideoTrack("camera", VideoTrackSettings{})
	enc, err := NewContainerEncoder(NewMediaStream(camera), matroskaMJPEG, EncoderOptions{})
	require.NoError(t, err)

	var got sliceCollector
	enc.OnDataAvailable(got.add)
	require.NoError(t, enc.Start())
	assert.False(t, enc.muxOpened())

	// The first frame fixes the container size; a later, larger frame is
	// letterboxed into it.
	require.NoError(t, camera.WriteFrame(createGradientFrame(32, 24)))
	require.Eventually(t, func() bool { return enc.videoFrames.Load() >= 1 }, 5*time.Second, time.Millisecond)
	require.NoError(t, camera.WriteFrame(createGradientFrame(64, 64)))
	require.Eventually(t, func() bool { return enc.videoFrames.Load() >= 2 }, 5*time.Second, time.Millisecond)

	assert.Equal(t, 32, enc.width)
	assert.Equal(t, 24, enc.height)
	require.NoError(t, enc.Stop())
	assert.True(t, mimetype.Detect(got.joined()).Is("video/x-matroska"))
}

func TestContainerEncoderAbortDropsOutput(t *testing.T) {
	video := NewLocalVideoTrack("screen", VideoTrackSettings{})
	require.NoError(t, video.WriteFrame(createGradientFrame(64, 48)))
	enc, err := NewContainerEncoder(NewMediaStream(video), matroskaMJPEG, EncoderOptions{})
	require.NoError(t, err)

	var got sliceCollector
	enc.OnDataAvailable(got.add)
	require.NoError(t, enc.Start())
	require.Eventually(t, func() bool { return enc.videoFrames.Load() >= 1 }, 5*time.Second, time.Millisecond)

	enc.Abort()
	enc.RequestData()
	assert.NoError(t, enc.Stop())
	assert.Empty(t, got.joined())
}

func TestNewContainerEncoderEmptyStream(t *testing.T) {
	_, err := NewContainerEncoder(NewMediaStream(), matroskaMJPEG, EncoderOptions{})
	assert.ErrorIs(t, err, ErrEmptyStream)
	_, err = NewContainerEncoder(nil, matroskaMJPEG, EncoderOptions{})
	assert.ErrorIs(t, err, ErrEmptyStream)
}

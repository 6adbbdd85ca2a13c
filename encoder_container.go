package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// finalizeTimeout bounds how long Stop waits for the muxer to flush.
const finalizeTimeout = 2 * time.Second

// chunkSink collects muxer output until the next RequestData.
type chunkSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed chan struct{}
	once   sync.Once
}

func newChunkSink() *chunkSink {
	return &chunkSink{closed: make(chan struct{})}
}

func (s *chunkSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *chunkSink) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// drain returns and clears the buffered bytes.
func (s *chunkSink) drain() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	s.buf.Reset()
	return out
}

// ContainerEncoder encodes the first video and first audio track of a
// stream and muxes them into WebM or Matroska.
type ContainerEncoder struct {
	profile CodecProfile
	opts    EncoderOptions
	clock   clock.WithTicker
	log     *logrus.Entry

	videoTrack VideoTrack
	audioTrack AudioTrack

	sink     *chunkSink
	writeMu  sync.Mutex
	writers  []webm.BlockWriteCloser
	videoOut webm.BlockWriteCloser
	audioOut webm.BlockWriteCloser
	video    VideoEncoder
	audio    AudioEncoder
	scaler   *Canvas
	width    int
	height   int

	muxOnce  sync.Once
	muxErr   error
	muxReady chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time
	started   atomic.Bool
	finished  atomic.Bool

	cbMu    sync.Mutex
	onData  func([]byte)
	onError func(error)
	errOnce sync.Once

	lastVideoMs  int64
	audioFrames  int64
	audioStartMs int64
	videoFrames  atomic.Uint64
	audioPackets atomic.Uint64
}

// NewContainerEncoder creates an encoder for an explicit profile.
func NewContainerEncoder(stream *MediaStream, profile CodecProfile, opts EncoderOptions) (*ContainerEncoder, error) {
	if stream == nil || len(stream.GetTracks()) == 0 {
		return nil, ErrEmptyStream
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "encoder")
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.VideoBitrateBps <= 0 {
		opts.VideoBitrateBps = 2_500_000
	}
	if opts.AudioBitrateBps <= 0 {
		opts.AudioBitrateBps = 128_000
	}

	e := &ContainerEncoder{
		profile:  profile,
		opts:     opts,
		clock:    opts.Clock,
		log:      opts.Logger.WithField("mime", profile.MimeType),
		sink:     newChunkSink(),
		muxReady: make(chan struct{}),
	}
	if vts := stream.GetVideoTracks(); len(vts) > 0 {
		e.videoTrack = vts[0]
		if len(vts) > 1 {
			e.log.WithField("ignored", len(vts)-1).Warn("stream has several video tracks, recording the first")
		}
	}
	if ats := stream.GetAudioTracks(); len(ats) > 0 {
		e.audioTrack = ats[0]
		if len(ats) > 1 {
			e.log.WithField("ignored", len(ats)-1).Warn("stream has several audio tracks, recording the first")
		}
	}
	return e, nil
}

func (e *ContainerEncoder) MimeType() string { return e.profile.MimeType }

func (e *ContainerEncoder) OnDataAvailable(fn func([]byte)) {
	e.cbMu.Lock()
	e.onData = fn
	e.cbMu.Unlock()
}

func (e *ContainerEncoder) OnError(fn func(error)) {
	e.cbMu.Lock()
	e.onError = fn
	e.cbMu.Unlock()
}

// Start launches one pump per recorded track. The container header is
// written once the video dimensions are known.
func (e *ContainerEncoder) Start() error {
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.startTime = e.clock.Now()

	if e.videoTrack == nil {
		if err := e.initMuxer(0, 0); err != nil {
			e.cancel()
			return err
		}
	} else if s := e.videoTrack.Settings(); s.Width > 0 && s.Height > 0 {
		if err := e.initMuxer(s.Width, s.Height); err != nil {
			e.cancel()
			return err
		}
	}

	if e.videoTrack != nil {
		e.wg.Add(1)
		go e.videoPump()
	}
	if e.audioTrack != nil {
		e.wg.Add(1)
		go e.audioPump()
	}
	e.log.WithFields(logrus.Fields{
		"video": e.videoTrack != nil,
		"audio": e.audioTrack != nil,
	}).Info("encoder started")
	return nil
}

func (e *ContainerEncoder) initMuxer(width, height int) error {
	e.muxOnce.Do(func() {
		e.muxErr = e.openMuxer(width, height)
		if e.muxErr == nil {
			close(e.muxReady)
		}
	})
	return e.muxErr
}

func (e *ContainerEncoder) openMuxer(width, height int) error {
	var entries []webm.TrackEntry
	var trackNo uint64

	if e.videoTrack != nil {
		width, height = (width+1)&^1, (height+1)&^1
		venc, err := NewVideoEncoder(VideoEncoderConfig{
			Codec:      e.profile.Video,
			Width:      width,
			Height:     height,
			FPS:        e.opts.FPS,
			BitrateBps: e.opts.VideoBitrateBps,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrEncoderFailure, err)
		}
		e.video = venc
		e.width, e.height = width, height
		trackNo++
		entries = append(entries, webm.TrackEntry{
			Name:            "Video",
			TrackNumber:     trackNo,
			TrackUID:        trackNo,
			CodecID:         e.profile.Video.MatroskaID(),
			TrackType:       1,
			DefaultDuration: uint64(time.Second / time.Duration(e.opts.FPS)),
			Video: &webm.Video{
				PixelWidth:  uint64(width),
				PixelHeight: uint64(height),
			},
		})
	}

	if e.audioTrack != nil {
		aenc, err := NewAudioEncoder(AudioEncoderConfig{
			Codec:      e.profile.Audio,
			SampleRate: MixSampleRate,
			Channels:   MixChannels,
			BitrateBps: e.opts.AudioBitrateBps,
		})
		if err != nil {
			e.closeCodecs()
			return fmt.Errorf("%w: %w", ErrEncoderFailure, err)
		}
		e.audio = aenc
		trackNo++
		entry := webm.TrackEntry{
			Name:         "Audio",
			TrackNumber:  trackNo,
			TrackUID:     trackNo,
			CodecID:      e.profile.Audio.MatroskaID(),
			CodecPrivate: aenc.CodecPrivate(),
			TrackType:    2,
			Audio: &webm.Audio{
				SamplingFrequency: MixSampleRate,
				Channels:          MixChannels,
			},
		}
		if fs := aenc.FrameSize(); fs > 0 {
			entry.DefaultDuration = uint64(time.Duration(fs) * time.Second / MixSampleRate)
		}
		entries = append(entries, entry)
	}

	opts := []mkvcore.BlockWriterOption{
		mkvcore.WithOnFatalHandler(func(err error) {
			e.fail(fmt.Errorf("muxer: %w", err))
		}),
	}
	if e.profile.Container == ContainerMatroska {
		header := *webm.DefaultEBMLHeader
		header.DocType = ContainerMatroska.DocType()
		opts = append(opts, mkvcore.WithEBMLHeader(&header))
	}

	writers, err := webm.NewSimpleBlockWriter(e.sink, entries, opts...)
	if err != nil {
		e.closeCodecs()
		return fmt.Errorf("%w: create muxer: %w", ErrEncoderFailure, err)
	}

	e.writeMu.Lock()
	e.writers = writers
	i := 0
	if e.videoTrack != nil {
		e.videoOut = writers[i]
		i++
	}
	if e.audioTrack != nil {
		e.audioOut = writers[i]
	}
	e.writeMu.Unlock()

	e.log.WithFields(logrus.Fields{"width": width, "height": height, "tracks": len(entries)}).Debug("container opened")
	return nil
}

// RequestData hands everything muxed so far to the data callback.
func (e *ContainerEncoder) RequestData() {
	if !e.started.Load() || e.finished.Load() {
		return
	}
	e.deliver(e.sink.drain())
}

func (e *ContainerEncoder) deliver(data []byte) {
	e.cbMu.Lock()
	fn := e.onData
	e.cbMu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// Stop finalizes the container and delivers the last slice.
func (e *ContainerEncoder) Stop() error {
	if !e.started.Load() {
		return nil
	}
	if !e.finished.CompareAndSwap(false, true) {
		return nil
	}
	e.cancel()
	e.wg.Wait()

	err := e.closeWriters()
	if err == nil && e.muxOpened() {
		select {
		case <-e.sink.closed:
		case <-time.After(finalizeTimeout):
			e.log.Warn("muxer did not finish in time, delivering what was written")
		}
	}
	e.closeCodecs()
	e.deliver(e.sink.drain())

	e.log.WithFields(logrus.Fields{
		"video_frames":  e.videoFrames.Load(),
		"audio_packets": e.audioPackets.Load(),
	}).Info("encoder stopped")
	if err != nil {
		return fmt.Errorf("%w: finalize: %w", ErrEncoderFailure, err)
	}
	return nil
}

// Abort stops the pumps and drops any pending output.
func (e *ContainerEncoder) Abort() {
	if !e.started.Load() || !e.finished.CompareAndSwap(false, true) {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.closeWriters()
	e.closeCodecs()
	e.sink.drain()
	e.log.Info("encoder aborted")
}

func (e *ContainerEncoder) muxOpened() bool {
	select {
	case <-e.muxReady:
		return true
	default:
		return false
	}
}

func (e *ContainerEncoder) closeWriters() error {
	e.writeMu.Lock()
	writers := e.writers
	e.writers = nil
	e.videoOut, e.audioOut = nil, nil
	e.writeMu.Unlock()

	var errs []error
	for _, w := range writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *ContainerEncoder) closeCodecs() {
	if e.video != nil {
		e.video.Close()
		e.video = nil
	}
	if e.audio != nil {
		e.audio.Close()
		e.audio = nil
	}
}

func (e *ContainerEncoder) fail(err error) {
	e.errOnce.Do(func() {
		e.log.WithError(err).Error("encoder failed")
		e.cbMu.Lock()
		fn := e.onError
		e.cbMu.Unlock()
		if fn != nil {
			fn(fmt.Errorf("%w: %w", ErrEncoderFailure, err))
		}
	})
}

func (e *ContainerEncoder) elapsedMs() int64 {
	return e.clock.Since(e.startTime).Milliseconds()
}

func (e *ContainerEncoder) videoPump() {
	defer e.wg.Done()
	for {
		frame, err := e.videoTrack.ReadFrame(e.ctx)
		if err != nil {
			return
		}
		if err := e.initMuxer(frame.Width, frame.Height); err != nil {
			e.fail(err)
			return
		}
		if err := e.writeVideo(frame); err != nil {
			e.fail(err)
			return
		}
	}
}

func (e *ContainerEncoder) writeVideo(frame *VideoFrame) error {
	if e.video == nil {
		return nil
	}
	frame = e.fitFrame(frame)
	encoded, err := e.video.Encode(frame)
	if err != nil {
		return fmt.Errorf("encode video: %w", err)
	}
	if encoded == nil || len(encoded.Data) == 0 {
		return nil
	}

	ts := e.elapsedMs()
	if ts < e.lastVideoMs {
		ts = e.lastVideoMs
	}
	e.lastVideoMs = ts

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.videoOut == nil {
		return nil
	}
	if _, err := e.videoOut.Write(encoded.IsKeyframe(), ts, encoded.Data); err != nil {
		return fmt.Errorf("write video: %w", err)
	}
	e.videoFrames.Add(1)
	return nil
}

// fitFrame letterboxes frames whose size differs from the encoder's.
func (e *ContainerEncoder) fitFrame(frame *VideoFrame) *VideoFrame {
	if frame.Width == e.width && frame.Height == e.height {
		return frame
	}
	if e.scaler == nil {
		c, err := NewCanvas(e.width, e.height)
		if err != nil {
			return frame
		}
		e.scaler = c
	}
	e.scaler.Clear(ColorBlack)
	e.scaler.DrawFrame(frame, e.scaler.Bounds(), DrawOptions{Mode: ScaleModeFit})
	f := e.scaler.Snapshot()
	f.Timestamp = frame.Timestamp
	return f
}

func (e *ContainerEncoder) audioPump() {
	defer e.wg.Done()

	var pending []int16
	for {
		s, err := e.audioTrack.ReadSamples(e.ctx)
		if err != nil {
			return
		}
		if !e.muxOpened() {
			continue
		}
		if e.audioFrames == 0 && len(pending) == 0 {
			e.audioStartMs = e.elapsedMs()
		}
		pending = append(pending, resampleStereo48k(s)...)

		frameSize := e.audio.FrameSize()
		if frameSize <= 0 {
			frameSize = len(pending) / MixChannels
		}
		for frameSize > 0 && len(pending) >= frameSize*MixChannels {
			n := frameSize * MixChannels
			if err := e.writeAudio(pending[:n]); err != nil {
				e.fail(err)
				return
			}
			pending = append(pending[:0], pending[n:]...)
		}
	}
}

func (e *ContainerEncoder) writeAudio(pcm []int16) error {
	if e.audio == nil {
		return nil
	}
	ts := e.audioStartMs + e.audioFrames*1000/MixSampleRate
	samples := NewAudioSamples(pcm, MixSampleRate, MixChannels, ts*int64(time.Millisecond))
	encoded, err := e.audio.Encode(samples)
	if err != nil {
		return fmt.Errorf("encode audio: %w", err)
	}
	e.audioFrames += int64(samples.SampleCount)
	if encoded == nil || len(encoded.Data) == 0 {
		return nil
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.audioOut == nil {
		return nil
	}
	if _, err := e.audioOut.Write(true, ts, encoded.Data); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	e.audioPackets.Add(1)
	return nil
}

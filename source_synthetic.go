package recorder

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// SyntheticConfig configures a SyntheticProvider.
type SyntheticConfig struct {
	Cameras     []DeviceInfo // Default: one camera
	Microphones []DeviceInfo // Default: one microphone

	DisplayWidth  int // Default 1280
	DisplayHeight int // Default 720
	CameraWidth   int // Default 640
	CameraHeight  int // Default 480
	FrameRate     int // Default 30

	// DisplayAudio makes CaptureDisplayAudio succeed.
	DisplayAudio bool

	// CameraMetadataDelay holds back the first camera frame, like a real
	// camera whose resolution is only known once it starts streaming.
	CameraMetadataDelay time.Duration

	Clock  clock.WithTicker
	Logger *logrus.Entry
}

// SyntheticProvider is a DeviceProvider that generates test media: a
// moving box for the display, colour bars for cameras and a sine tone for
// microphones. Permission refusals can be injected per source kind.
type SyntheticProvider struct {
	config SyntheticConfig
	clock  clock.WithTicker
	log    *logrus.Entry

	mu     sync.Mutex
	denied map[SourceKind]bool
	tracks []MediaStreamTrack
	opens  map[SourceKind]int
}

// NewSyntheticProvider creates a provider with the given configuration.
func NewSyntheticProvider(config SyntheticConfig) *SyntheticProvider {
	if len(config.Cameras) == 0 {
		config.Cameras = []DeviceInfo{{DeviceID: "synthetic-camera", Kind: DeviceKindVideoInput, Label: "Synthetic Camera"}}
	}
	if len(config.Microphones) == 0 {
		config.Microphones = []DeviceInfo{{DeviceID: "synthetic-mic", Kind: DeviceKindAudioInput, Label: "Synthetic Microphone"}}
	}
	if config.DisplayWidth <= 0 || config.DisplayHeight <= 0 {
		config.DisplayWidth, config.DisplayHeight = 1280, 720
	}
	if config.CameraWidth <= 0 || config.CameraHeight <= 0 {
		config.CameraWidth, config.CameraHeight = 640, 480
	}
	if config.FrameRate <= 0 {
		config.FrameRate = 30
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	if config.Logger == nil {
		config.Logger = logrus.WithField("component", "synthetic")
	}
	return &SyntheticProvider{
		config: config,
		clock:  config.Clock,
		log:    config.Logger,
		denied: make(map[SourceKind]bool),
		opens:  make(map[SourceKind]int),
	}
}

// Deny makes every later acquisition of the kind fail with
// ErrPermissionDenied, or lifts the refusal.
func (p *SyntheticProvider) Deny(kind SourceKind, deny bool) {
	p.mu.Lock()
	p.denied[kind] = deny
	p.mu.Unlock()
}

// LiveTracks returns every track handed out that has not been stopped.
func (p *SyntheticProvider) LiveTracks() []MediaStreamTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	var live []MediaStreamTrack
	for _, t := range p.tracks {
		if t.State() == TrackStateLive {
			live = append(live, t)
		}
	}
	return live
}

// Opens reports how many acquisitions of the kind succeeded.
func (p *SyntheticProvider) Opens(kind SourceKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens[kind]
}

func (p *SyntheticProvider) ListVideoDevices(ctx context.Context) ([]DeviceInfo, error) {
	return append([]DeviceInfo(nil), p.config.Cameras...), nil
}

func (p *SyntheticProvider) ListAudioInputDevices(ctx context.Context) ([]DeviceInfo, error) {
	return append([]DeviceInfo(nil), p.config.Microphones...), nil
}

func (p *SyntheticProvider) OpenVideoDevice(ctx context.Context, deviceID string, constraints *VideoConstraints) (VideoTrack, error) {
	dev, err := p.admit(ctx, SourceKindCamera, deviceID, p.config.Cameras)
	if err != nil {
		return nil, err
	}
	w, h, fps := p.config.CameraWidth, p.config.CameraHeight, p.config.FrameRate
	if constraints != nil && constraints.FrameRate > 0 {
		fps = min(fps, constraints.FrameRate)
	}
	track := NewLocalVideoTrack(dev.Label, VideoTrackSettings{FrameRate: fps, DeviceID: dev.DeviceID})
	gen := &videoGenerator{width: w, height: h, draw: drawColorBars}
	p.startVideo(track, gen, fps, p.config.CameraMetadataDelay)
	p.register(SourceKindCamera, track)
	return track, nil
}

func (p *SyntheticProvider) OpenAudioDevice(ctx context.Context, deviceID string, constraints *AudioConstraints) (AudioTrack, error) {
	dev, err := p.admit(ctx, SourceKindMicrophone, deviceID, p.config.Microphones)
	if err != nil {
		return nil, err
	}
	track := NewLocalAudioTrack(dev.Label, AudioTrackSettings{SampleRate: MixSampleRate, ChannelCount: 1, DeviceID: dev.DeviceID})
	p.startAudio(track, &toneGenerator{frequency: 440, amplitude: 0.3, sampleRate: MixSampleRate, channels: 1})
	p.register(SourceKindMicrophone, track)
	return track, nil
}

func (p *SyntheticProvider) CaptureDisplay(ctx context.Context, options DisplayVideoOptions) (VideoTrack, error) {
	if _, err := p.admit(ctx, SourceKindDisplay, "", nil); err != nil {
		return nil, err
	}
	w, h := p.config.DisplayWidth, p.config.DisplayHeight
	fps := p.config.FrameRate
	if options.FrameRate > 0 {
		fps = options.FrameRate
	}
	track := NewLocalVideoTrack("Synthetic Display", VideoTrackSettings{Width: w, Height: h, FrameRate: fps, DeviceID: "display"})
	gen := &videoGenerator{width: w, height: h, draw: drawMovingBox}
	p.startVideo(track, gen, fps, 0)
	p.register(SourceKindDisplay, track)
	return track, nil
}

func (p *SyntheticProvider) CaptureDisplayAudio(ctx context.Context) (AudioTrack, error) {
	if !p.config.DisplayAudio {
		return nil, fmt.Errorf("display audio: %w", ErrDeviceUnavailable)
	}
	if _, err := p.admit(ctx, SourceKindDisplay, "", nil); err != nil {
		return nil, err
	}
	track := NewLocalAudioTrack("Synthetic Display Audio", AudioTrackSettings{SampleRate: 44100, ChannelCount: 2, DeviceID: "display"})
	p.startAudio(track, &toneGenerator{frequency: 660, amplitude: 0.1, sampleRate: 44100, channels: 2})
	p.register(SourceKindDisplay, track)
	return track, nil
}

// admit checks context, permission and device presence for one request.
// An empty deviceID selects the first device.
func (p *SyntheticProvider) admit(ctx context.Context, kind SourceKind, deviceID string, devices []DeviceInfo) (DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return DeviceInfo{}, err
	}
	p.mu.Lock()
	denied := p.denied[kind]
	p.mu.Unlock()
	if denied {
		return DeviceInfo{}, fmt.Errorf("%s: %w", kind, ErrPermissionDenied)
	}
	if devices == nil {
		return DeviceInfo{}, nil
	}
	if deviceID == "" {
		return devices[0], nil
	}
	for _, d := range devices {
		if d.DeviceID == deviceID {
			return d, nil
		}
	}
	return DeviceInfo{}, fmt.Errorf("%s %q: %w", kind, deviceID, ErrDeviceUnavailable)
}

func (p *SyntheticProvider) register(kind SourceKind, t MediaStreamTrack) {
	p.mu.Lock()
	p.tracks = append(p.tracks, t)
	p.opens[kind]++
	p.mu.Unlock()
	p.log.WithFields(logrus.Fields{"kind": kind, "track": t.ID()}).Debug("synthetic source opened")
}

// startVideo writes frames until the track stops. Without a delay the
// first frame is published before returning so consumers see dimensions
// immediately.
func (p *SyntheticProvider) startVideo(track *LocalVideoTrack, gen *videoGenerator, fps int, delay time.Duration) {
	start := p.clock.Now()
	if delay <= 0 {
		track.WriteFrame(gen.next(0))
	}
	ticker := p.clock.NewTicker(time.Second / time.Duration(fps))
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-track.Done():
				return
			case now := <-ticker.C():
				elapsed := now.Sub(start)
				if elapsed < delay {
					continue
				}
				f := gen.next(elapsed.Nanoseconds())
				f.Duration = int64(time.Second) / int64(fps)
				if track.WriteFrame(f) != nil {
					return
				}
			}
		}
	}()
}

// startAudio writes 20 ms blocks until the track stops.
func (p *SyntheticProvider) startAudio(track *LocalAudioTrack, gen *toneGenerator) {
	start := p.clock.Now()
	ticker := p.clock.NewTicker(mixQuantum)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-track.Done():
				return
			case now := <-ticker.C():
				s := gen.next(gen.sampleRate/50, now.Sub(start).Nanoseconds())
				if track.WriteSamples(s) != nil {
					return
				}
			}
		}
	}()
}

// videoGenerator renders a fresh I420 frame per call.
type videoGenerator struct {
	width, height int
	frame         uint64
	draw          func(f *VideoFrame, n uint64)
}

func (g *videoGenerator) next(ts int64) *VideoFrame {
	f := NewI420Frame(g.width, g.height)
	g.draw(f, g.frame)
	g.frame++
	f.Timestamp = ts
	return f
}

// SMPTE colour bars, 75%.
var colorBarsRGB = [8][3]uint8{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
	{16, 16, 16},
}

// drawColorBars draws bars that scroll one bar width every 8 frames.
func drawColorBars(f *VideoFrame, n uint64) {
	barW := max(f.Width/8, 1)
	shift := int(n/8) % 8
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			bar := (min(x/barW, 7) + shift) % 8
			c := colorBarsRGB[bar]
			yy, u, v := rgbToYUV(c[0], c[1], c[2])
			f.Data[0][y*f.Stride[0]+x] = yy
			if x%2 == 0 && y%2 == 0 {
				i := (y/2)*f.Stride[1] + x/2
				f.Data[1][i] = u
				f.Data[2][i] = v
			}
		}
	}
}

// drawMovingBox draws a white box circling the centre of a black frame.
func drawMovingBox(f *VideoFrame, n uint64) {
	fill(f.Data[0], ColorBlack[0])
	fill(f.Data[1], ColorBlack[1])
	fill(f.Data[2], ColorBlack[2])

	box := max(min(f.Width, f.Height)/8, 2)
	radius := float64(min(f.Width, f.Height)) / 4
	angle := float64(n) * 0.05
	bx := f.Width/2 + int(radius*math.Cos(angle)) - box/2
	by := f.Height/2 + int(radius*math.Sin(angle)) - box/2

	r := Rect{X: bx, Y: by, W: box, H: box}.Intersect(Rect{W: f.Width, H: f.Height})
	for y := r.Y; y < r.Y+r.H; y++ {
		row := f.Data[0][y*f.Stride[0]:]
		for x := r.X; x < r.X+r.W; x++ {
			row[x] = ColorWhite[0]
		}
	}
}

// rgbToYUV converts RGB to studio-range BT.601 YUV.
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	yf := 16 + 65.481*rf + 128.553*gf + 24.966*bf
	uf := 128 - 37.797*rf - 74.203*gf + 112.0*bf
	vf := 128 + 112.0*rf - 93.786*gf - 18.214*bf
	return uint8(math.Round(math.Max(16, math.Min(yf, 235)))),
		uint8(math.Round(math.Max(16, math.Min(uf, 240)))),
		uint8(math.Round(math.Max(16, math.Min(vf, 240))))
}

// toneGenerator produces a continuous sine tone.
type toneGenerator struct {
	frequency  float64
	amplitude  float64
	sampleRate int
	channels   int
	phase      float64
}

func (g *toneGenerator) next(frames int, ts int64) *AudioSamples {
	pcm := make([]int16, frames*g.channels)
	step := 2 * math.Pi * g.frequency / float64(g.sampleRate)
	for i := 0; i < frames; i++ {
		s := int16(g.amplitude * 32767 * math.Sin(g.phase))
		g.phase = math.Mod(g.phase+step, 2*math.Pi)
		for c := 0; c < g.channels; c++ {
			pcm[i*g.channels+c] = s
		}
	}
	return NewAudioSamples(pcm, g.sampleRate, g.channels, ts)
}

package recorder

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// VideoEncoderConfig configures a video encoder.
type VideoEncoderConfig struct {
	Codec      VideoCodec
	Provider   Provider // ProviderAuto = registry chooses
	Width      int
	Height     int
	FPS        int
	BitrateBps int
}

// AudioEncoderConfig configures an audio encoder.
type AudioEncoderConfig struct {
	Codec      AudioCodec
	Provider   Provider
	SampleRate int
	Channels   int
	BitrateBps int
}

// VideoEncoder compresses raw frames.
type VideoEncoder interface {
	io.Closer

	// Encode encodes one frame. A nil result means the encoder buffered
	// the input.
	Encode(frame *VideoFrame) (*EncodedFrame, error)

	Provider() Provider
}

// AudioEncoder compresses raw samples.
type AudioEncoder interface {
	io.Closer

	// Encode encodes exactly FrameSize() samples per channel, or any
	// amount when FrameSize() is 0.
	Encode(samples *AudioSamples) (*EncodedAudio, error)

	// FrameSize returns the required samples per channel per call.
	FrameSize() int

	// CodecPrivate returns the container codec setup data, if any.
	CodecPrivate() []byte

	Provider() Provider
}

// --- Registry ---

type videoEncoderFactory func(VideoEncoderConfig) (VideoEncoder, error)
type audioEncoderFactory func(AudioEncoderConfig) (AudioEncoder, error)

type encoderRegistry struct {
	mu sync.RWMutex

	// codec -> provider -> factory
	videoProviders map[VideoCodec]map[Provider]videoEncoderFactory
	audioProviders map[AudioCodec]map[Provider]audioEncoderFactory
}

var globalEncoderRegistry = &encoderRegistry{
	videoProviders: make(map[VideoCodec]map[Provider]videoEncoderFactory),
	audioProviders: make(map[AudioCodec]map[Provider]audioEncoderFactory),
}

// registerVideoEncoder registers a video encoder factory for a codec+provider.
func registerVideoEncoder(codec VideoCodec, provider Provider, factory videoEncoderFactory) {
	globalEncoderRegistry.mu.Lock()
	defer globalEncoderRegistry.mu.Unlock()

	if globalEncoderRegistry.videoProviders[codec] == nil {
		globalEncoderRegistry.videoProviders[codec] = make(map[Provider]videoEncoderFactory)
	}
	globalEncoderRegistry.videoProviders[codec][provider] = factory
}

// registerAudioEncoder registers an audio encoder factory for a codec+provider.
func registerAudioEncoder(codec AudioCodec, provider Provider, factory audioEncoderFactory) {
	globalEncoderRegistry.mu.Lock()
	defer globalEncoderRegistry.mu.Unlock()

	if globalEncoderRegistry.audioProviders[codec] == nil {
		globalEncoderRegistry.audioProviders[codec] = make(map[Provider]audioEncoderFactory)
	}
	globalEncoderRegistry.audioProviders[codec][provider] = factory
}

// bestProvider picks the highest ranked available provider.
func bestProvider[F any](providers map[Provider]F) (Provider, bool) {
	best, found := ProviderAuto, false
	for p := range providers {
		if !p.Available() {
			continue
		}
		if !found || p.rank() > best.rank() {
			best, found = p, true
		}
	}
	return best, found
}

// NewVideoEncoder creates a video encoder.
func NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	globalEncoderRegistry.mu.RLock()
	providers := globalEncoderRegistry.videoProviders[config.Codec]
	p := config.Provider
	if p == ProviderAuto {
		p, _ = bestProvider(providers)
	}
	factory, ok := providers[p]
	globalEncoderRegistry.mu.RUnlock()

	if providers == nil {
		return nil, fmt.Errorf("%w: no providers for %s", ErrCodecNotSupported, config.Codec)
	}
	if !ok || !p.Available() {
		return nil, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, p, config.Codec)
	}
	return factory(config)
}

// NewAudioEncoder creates an audio encoder.
func NewAudioEncoder(config AudioEncoderConfig) (AudioEncoder, error) {
	globalEncoderRegistry.mu.RLock()
	providers := globalEncoderRegistry.audioProviders[config.Codec]
	p := config.Provider
	if p == ProviderAuto {
		p, _ = bestProvider(providers)
	}
	factory, ok := providers[p]
	globalEncoderRegistry.mu.RUnlock()

	if providers == nil {
		return nil, fmt.Errorf("%w: no providers for %s", ErrCodecNotSupported, config.Codec)
	}
	if !ok || !p.Available() {
		return nil, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, p, config.Codec)
	}
	return factory(config)
}

// VideoCodecAvailable reports whether any provider can encode the codec.
func VideoCodecAvailable(codec VideoCodec) bool {
	globalEncoderRegistry.mu.RLock()
	defer globalEncoderRegistry.mu.RUnlock()
	_, ok := bestProvider(globalEncoderRegistry.videoProviders[codec])
	return ok
}

// AudioCodecAvailable reports whether any provider can encode the codec.
func AudioCodecAvailable(codec AudioCodec) bool {
	globalEncoderRegistry.mu.RLock()
	defer globalEncoderRegistry.mu.RUnlock()
	_, ok := bestProvider(globalEncoderRegistry.audioProviders[codec])
	return ok
}

// --- Recording encoder ---

// Encoder turns a live stream into container bytes, handed out in slices.
// It mirrors the browser MediaRecorder contract.
type Encoder interface {
	// MimeType returns the negotiated container/codec type.
	MimeType() string

	// Start begins consuming the stream's tracks. It may deliver data
	// before returning.
	Start() error

	// RequestData flushes everything muxed so far to OnDataAvailable.
	// Empty slices are still delivered.
	RequestData()

	// Stop finalizes the container, delivers the final slice and
	// releases codec resources.
	Stop() error

	// Abort releases resources without finalizing. Pending data is lost.
	Abort()

	// OnDataAvailable sets the slice callback.
	OnDataAvailable(fn func(data []byte))

	// OnError sets the callback for failures after Start.
	OnError(fn func(err error))
}

// EncoderOptions configures encoder negotiation.
type EncoderOptions struct {
	MimeTypes       []string // Preference list, best first
	VideoBitrateBps int
	AudioBitrateBps int
	FPS             int
	Clock           clock.WithTicker
	Logger          *logrus.Entry
}

// EncoderFactory creates an encoder for a stream.
type EncoderFactory func(stream *MediaStream, opts EncoderOptions) (Encoder, error)

// IsMimeTypeSupported reports whether a recording MIME type can be encoded
// with the codecs available at runtime.
func IsMimeTypeSupported(mimeType string) bool {
	p, err := ParseMimeType(mimeType)
	if err != nil {
		return false
	}
	return VideoCodecAvailable(p.Video) && AudioCodecAvailable(p.Audio)
}

// SupportedMimeTypes filters DefaultMimeTypes down to the usable ones.
func SupportedMimeTypes() []string {
	var out []string
	for _, m := range DefaultMimeTypes {
		if IsMimeTypeSupported(m) {
			out = append(out, m)
		}
	}
	return out
}

// NegotiateMimeType returns the first supported entry of prefs.
func NegotiateMimeType(prefs []string) (CodecProfile, error) {
	if len(prefs) == 0 {
		prefs = DefaultMimeTypes
	}
	for _, m := range prefs {
		if IsMimeTypeSupported(m) {
			return ParseMimeType(m)
		}
	}
	return CodecProfile{}, fmt.Errorf("%w: %v", ErrNoSupportedMime, prefs)
}

// NewEncoder negotiates a codec profile and creates a container encoder.
func NewEncoder(stream *MediaStream, opts EncoderOptions) (Encoder, error) {
	profile, err := NegotiateMimeType(opts.MimeTypes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoderFailure, err)
	}
	return NewContainerEncoder(stream, profile, opts)
}

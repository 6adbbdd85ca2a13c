//go:build (darwin || linux) && !nonative

// Native VP8/VP9 and Opus encoders loaded at runtime with purego.
//
// libmedia_vpx and libstream_opus are thin primitive-only wrappers around
// libvpx and libopus. Library locations checked, in order:
//   - MEDIA_VPX_LIB_PATH / STREAM_OPUS_LIB_PATH (full path)
//   - SCREENREC_LIB_PATH (directory)
//   - next to the executable, then ../lib
//   - build/ and build/ffi under the module root
//   - the system loader paths

package recorder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// nativeLibrary is a lazily opened shared library.
type nativeLibrary struct {
	name    string // base name without extension
	envPath string
	bind    func(handle uintptr)

	once   sync.Once
	handle uintptr
	err    error
}

func (l *nativeLibrary) load() error {
	l.once.Do(func() {
		var lastErr error
		for _, path := range l.paths() {
			handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
			if err != nil {
				lastErr = err
				continue
			}
			if err := l.bindSafely(handle); err != nil {
				purego.Dlclose(handle)
				lastErr = err
				continue
			}
			l.handle = handle
			return
		}
		if lastErr == nil {
			lastErr = errors.New("not found in any standard location")
		}
		l.err = fmt.Errorf("failed to load %s: %w", l.name, lastErr)
	})
	return l.err
}

// bindSafely turns a missing symbol panic from RegisterLibFunc into an error.
func (l *nativeLibrary) bindSafely(handle uintptr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %v", l.name, r)
		}
	}()
	l.bind(handle)
	return nil
}

func (l *nativeLibrary) paths() []string {
	file := l.name + ".so"
	if runtime.GOOS == "darwin" {
		file = l.name + ".dylib"
	}

	var paths []string
	if p := os.Getenv(l.envPath); p != "" {
		paths = append(paths, p)
	}
	if dir := os.Getenv("SCREENREC_LIB_PATH"); dir != "" {
		paths = append(paths, filepath.Join(dir, file))
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		paths = append(paths, filepath.Join(dir, file), filepath.Join(dir, "..", "lib", file))
	}
	if root := findModuleRoot(); root != "" {
		paths = append(paths, filepath.Join(root, "build", file), filepath.Join(root, "build", "ffi", file))
	}
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths, file, "/usr/local/lib/"+file, "/opt/homebrew/lib/"+file)
	case "linux":
		paths = append(paths, file, "/usr/local/lib/"+file, "/usr/lib/"+file)
	}
	return paths
}

// findModuleRoot walks up from the working directory to the nearest go.mod.
func findModuleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// goStringFromPtr copies a NUL-terminated C string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	n := 0
	for n < 1024 && *(*byte)(unsafe.Pointer(ptr + uintptr(n))) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
}

// --- libmedia_vpx ---

const (
	mediaVPXCodecVP8 = 0
	mediaVPXCodecVP9 = 1

	mediaVPXFrameKey = 0
)

var (
	mediaVPXEncoderCreate        func(codec, width, height, fps, bitrateKbps, threads int32) uint64
	mediaVPXEncoderEncode        func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, forceKeyframe int32, outData uintptr, outCapacity int32, outFrameType, outPts uintptr) int32
	mediaVPXEncoderMaxOutputSize func(encoder uint64) int32
	mediaVPXEncoderDestroy       func(encoder uint64)
	mediaVPXGetError             func() uintptr
	mediaVPXCodecAvailable       func(codec int32) int32
)

var mediaVPX = &nativeLibrary{
	name:    "libmedia_vpx",
	envPath: "MEDIA_VPX_LIB_PATH",
	bind: func(h uintptr) {
		purego.RegisterLibFunc(&mediaVPXEncoderCreate, h, "media_vpx_encoder_create")
		purego.RegisterLibFunc(&mediaVPXEncoderEncode, h, "media_vpx_encoder_encode")
		purego.RegisterLibFunc(&mediaVPXEncoderMaxOutputSize, h, "media_vpx_encoder_max_output_size")
		purego.RegisterLibFunc(&mediaVPXEncoderDestroy, h, "media_vpx_encoder_destroy")
		purego.RegisterLibFunc(&mediaVPXGetError, h, "media_vpx_get_error")
		purego.RegisterLibFunc(&mediaVPXCodecAvailable, h, "media_vpx_codec_available")
	},
}

func vpxError() string {
	if s := goStringFromPtr(mediaVPXGetError()); s != "" {
		return s
	}
	return "unknown error"
}

// vpxEncoder encodes I420 frames with libvpx. The first frame is a keyframe
// and the library decides the rest.
type vpxEncoder struct {
	mu     sync.Mutex
	codec  VideoCodec
	handle uint64
	out    []byte
	first  bool
}

func newVPXEncoder(config VideoEncoderConfig) (*vpxEncoder, error) {
	if err := mediaVPX.load(); err != nil {
		return nil, err
	}
	codecType := int32(mediaVPXCodecVP8)
	if config.Codec == VideoCodecVP9 {
		codecType = mediaVPXCodecVP9
	}
	fps := config.FPS
	if fps <= 0 {
		fps = 30
	}
	kbps := config.BitrateBps / 1000
	if kbps <= 0 {
		kbps = 2500
	}
	threads := min(max(runtime.NumCPU()/2, 1), 8)

	handle := mediaVPXEncoderCreate(codecType, int32(config.Width), int32(config.Height), int32(fps), int32(kbps), int32(threads))
	if handle == 0 {
		return nil, fmt.Errorf("create %s encoder: %s", config.Codec, vpxError())
	}
	maxOut := int(mediaVPXEncoderMaxOutputSize(handle))
	if maxOut <= 0 {
		maxOut = config.Width * config.Height * 3 / 2
	}
	return &vpxEncoder{codec: config.Codec, handle: handle, out: make([]byte, maxOut), first: true}, nil
}

func (e *vpxEncoder) Encode(frame *VideoFrame) (*EncodedFrame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle == 0 {
		return nil, fmt.Errorf("%s encoder closed", e.codec)
	}

	var force int32
	if e.first {
		force = 1
		e.first = false
	}
	var frameType int32
	var pts int64
	n := mediaVPXEncoderEncode(
		e.handle,
		uintptr(unsafe.Pointer(&frame.Data[0][0])),
		uintptr(unsafe.Pointer(&frame.Data[1][0])),
		uintptr(unsafe.Pointer(&frame.Data[2][0])),
		int32(frame.Stride[0]),
		int32(frame.Stride[1]),
		force,
		uintptr(unsafe.Pointer(&e.out[0])),
		int32(len(e.out)),
		uintptr(unsafe.Pointer(&frameType)),
		uintptr(unsafe.Pointer(&pts)),
	)
	runtime.KeepAlive(frame)
	if n < 0 {
		return nil, fmt.Errorf("%s encode: %s", e.codec, vpxError())
	}
	if n == 0 {
		return nil, nil
	}

	ft := FrameTypeDelta
	if frameType == mediaVPXFrameKey {
		ft = FrameTypeKey
	}
	data := make([]byte, n)
	copy(data, e.out[:n])
	return &EncodedFrame{Data: data, FrameType: ft, Timestamp: frame.Timestamp}, nil
}

func (e *vpxEncoder) Provider() Provider { return ProviderLibvpx }

func (e *vpxEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != 0 {
		mediaVPXEncoderDestroy(e.handle)
		e.handle = 0
	}
	return nil
}

// --- libstream_opus ---

const (
	streamOpusApplicationAudio = 2049

	// 20 ms at 48 kHz.
	opusFrameSize = 960
	// Encoder lookahead reported in the Opus header.
	opusPreSkip = 312
	// Largest packet libopus produces.
	opusMaxPacket = 4000
)

var (
	streamOpusEncoderCreate     func(sampleRate, channels, application int32) uint64
	streamOpusEncoderEncode     func(encoder uint64, pcm uintptr, frameSize int32, outData uintptr, outCapacity int32) int32
	streamOpusEncoderSetBitrate func(encoder uint64, bitrate int32) int32
	streamOpusEncoderDestroy    func(encoder uint64)
	streamOpusGetError          func() uintptr
)

var streamOpus = &nativeLibrary{
	name:    "libstream_opus",
	envPath: "STREAM_OPUS_LIB_PATH",
	bind: func(h uintptr) {
		purego.RegisterLibFunc(&streamOpusEncoderCreate, h, "stream_opus_encoder_create")
		purego.RegisterLibFunc(&streamOpusEncoderEncode, h, "stream_opus_encoder_encode")
		purego.RegisterLibFunc(&streamOpusEncoderSetBitrate, h, "stream_opus_encoder_set_bitrate")
		purego.RegisterLibFunc(&streamOpusEncoderDestroy, h, "stream_opus_encoder_destroy")
		purego.RegisterLibFunc(&streamOpusGetError, h, "stream_opus_get_error")
	},
}

func opusError() string {
	if s := goStringFromPtr(streamOpusGetError()); s != "" {
		return s
	}
	return "unknown error"
}

// opusHead builds the Matroska CodecPrivate for an Opus track.
func opusHead(channels, sampleRate int) []byte {
	b := make([]byte, 19)
	copy(b, "OpusHead")
	b[8] = 1
	b[9] = byte(channels)
	binary.LittleEndian.PutUint16(b[10:], opusPreSkip)
	binary.LittleEndian.PutUint32(b[12:], uint32(sampleRate))
	// Output gain and mapping family stay zero.
	return b
}

type opusEncoder struct {
	mu       sync.Mutex
	handle   uint64
	channels int
	rate     int
	pcm      []int16
	out      []byte
}

func newOpusEncoder(config AudioEncoderConfig) (*opusEncoder, error) {
	if err := streamOpus.load(); err != nil {
		return nil, err
	}
	rate, channels := config.SampleRate, config.Channels
	if rate <= 0 {
		rate = MixSampleRate
	}
	if channels <= 0 || channels > 2 {
		return nil, fmt.Errorf("opus: unsupported channel count %d", channels)
	}
	handle := streamOpusEncoderCreate(int32(rate), int32(channels), streamOpusApplicationAudio)
	if handle == 0 {
		return nil, fmt.Errorf("create opus encoder: %s", opusError())
	}
	if config.BitrateBps > 0 {
		streamOpusEncoderSetBitrate(handle, int32(config.BitrateBps))
	}
	return &opusEncoder{
		handle:   handle,
		channels: channels,
		rate:     rate,
		out:      make([]byte, opusMaxPacket),
	}, nil
}

func (e *opusEncoder) Encode(samples *AudioSamples) (*EncodedAudio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle == 0 {
		return nil, errors.New("opus encoder closed")
	}
	if samples.SampleCount != opusFrameSize || samples.Channels != e.channels {
		return nil, fmt.Errorf("opus: want %d samples x %d channels, got %d x %d",
			opusFrameSize, e.channels, samples.SampleCount, samples.Channels)
	}

	n := samples.SampleCount * samples.Channels
	if cap(e.pcm) < n {
		e.pcm = make([]int16, n)
	}
	e.pcm = e.pcm[:n]
	for i := range e.pcm {
		e.pcm[i] = int16(binary.LittleEndian.Uint16(samples.Data[i*2:]))
	}

	res := streamOpusEncoderEncode(
		e.handle,
		uintptr(unsafe.Pointer(&e.pcm[0])),
		int32(samples.SampleCount),
		uintptr(unsafe.Pointer(&e.out[0])),
		int32(len(e.out)),
	)
	if res < 0 {
		return nil, fmt.Errorf("opus encode: %s", opusError())
	}
	data := make([]byte, res)
	copy(data, e.out[:res])
	return &EncodedAudio{
		Data:     data,
		Samples:  samples.SampleCount,
		Duration: int64(samples.SampleCount) * 1e9 / int64(e.rate),
	}, nil
}

func (e *opusEncoder) FrameSize() int       { return opusFrameSize }
func (e *opusEncoder) CodecPrivate() []byte { return opusHead(e.channels, e.rate) }
func (e *opusEncoder) Provider() Provider   { return ProviderLibopus }

func (e *opusEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != 0 {
		streamOpusEncoderDestroy(e.handle)
		e.handle = 0
	}
	return nil
}

// NativeLibraryErrors reports why native codec libraries failed to load.
func NativeLibraryErrors() []error {
	var errs []error
	for _, l := range []*nativeLibrary{mediaVPX, streamOpus} {
		if err := l.load(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func init() {
	if os.Getenv("SCREENREC_DISABLE_NATIVE") != "" {
		return
	}
	if mediaVPX.load() == nil {
		newVideo := func(config VideoEncoderConfig) (VideoEncoder, error) { return newVPXEncoder(config) }
		if mediaVPXCodecAvailable(mediaVPXCodecVP8) != 0 {
			setProviderAvailable(ProviderLibvpx)
			registerVideoEncoder(VideoCodecVP8, ProviderLibvpx, newVideo)
		}
		if mediaVPXCodecAvailable(mediaVPXCodecVP9) != 0 {
			setProviderAvailable(ProviderLibvpx)
			registerVideoEncoder(VideoCodecVP9, ProviderLibvpx, newVideo)
		}
	}
	if streamOpus.load() == nil {
		setProviderAvailable(ProviderLibopus)
		registerAudioEncoder(AudioCodecOpus, ProviderLibopus, func(config AudioEncoderConfig) (AudioEncoder, error) {
			return newOpusEncoder(config)
		})
	}
}

// Core frame and sample types used across the recorder package.
package recorder

import "encoding/binary"

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420 PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	default:
		return "Unknown"
	}
}

// AudioFormat represents audio sample formats.
type AudioFormat int

const (
	AudioFormatS16 AudioFormat = iota // Signed 16-bit little-endian PCM, interleaved
)

func (a AudioFormat) String() string {
	switch a {
	case AudioFormatS16:
		return "S16"
	default:
		return "Unknown"
	}
}

// BytesPerSample returns the number of bytes per sample for this format.
func (a AudioFormat) BytesPerSample() int {
	switch a {
	case AudioFormatS16:
		return 2
	default:
		return 0
	}
}

// VideoFrame represents a raw I420 video frame.
type VideoFrame struct {
	Data      [][]byte    // Plane data (Y, U, V)
	Stride    []int       // Stride for each plane in bytes
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Format    PixelFormat // Pixel format
	Timestamp int64       // Capture timestamp in nanoseconds
	Duration  int64       // Frame duration in nanoseconds (optional)
}

// NewI420Frame allocates a frame with tightly packed planes.
func NewI420Frame(width, height int) *VideoFrame {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	buf := make([]byte, ySize+uvSize*2)
	return &VideoFrame{
		Data:   [][]byte{buf[:ySize], buf[ySize : ySize+uvSize], buf[ySize+uvSize:]},
		Stride: []int{width, width / 2, width / 2},
		Width:  width,
		Height: height,
		Format: PixelFormatI420,
	}
}

// Clone creates a deep copy of the video frame.
// Use this when you need to keep the frame data beyond its original lifetime.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:      make([][]byte, len(f.Data)),
		Stride:    make([]int, len(f.Stride)),
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format,
		Timestamp: f.Timestamp,
		Duration:  f.Duration,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return ySize + uvSize*2
}

// AudioSamples represents raw interleaved audio samples.
type AudioSamples struct {
	Data        []byte      // Sample data
	SampleRate  int         // Sample rate (e.g., 48000)
	Channels    int         // Number of channels (1 = mono, 2 = stereo)
	SampleCount int         // Number of samples (per channel)
	Format      AudioFormat // Sample format
	Timestamp   int64       // Capture timestamp in nanoseconds
}

// Clone creates a deep copy of the audio samples.
func (s *AudioSamples) Clone() *AudioSamples {
	clone := *s
	if s.Data != nil {
		clone.Data = make([]byte, len(s.Data))
		copy(clone.Data, s.Data)
	}
	return &clone
}

// Int16 decodes the S16LE payload into interleaved samples.
func (s *AudioSamples) Int16() []int16 {
	out := make([]int16, len(s.Data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(s.Data[i*2:]))
	}
	return out
}

// NewAudioSamples encodes interleaved int16 samples as S16LE.
func NewAudioSamples(pcm []int16, sampleRate, channels int, timestamp int64) *AudioSamples {
	data := make([]byte, len(pcm)*2)
	for i, v := range pcm {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	count := 0
	if channels > 0 {
		count = len(pcm) / channels
	}
	return &AudioSamples{
		Data:        data,
		SampleRate:  sampleRate,
		Channels:    channels,
		SampleCount: count,
		Format:      AudioFormatS16,
		Timestamp:   timestamp,
	}
}

// FrameType indicates whether a frame is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // Can be decoded independently
	FrameTypeDelta             // Requires previous frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// EncodedFrame holds encoded video data.
type EncodedFrame struct {
	Data      []byte
	FrameType FrameType
	Timestamp int64 // Presentation time in nanoseconds
}

// IsKeyframe returns true if this is a keyframe.
func (f *EncodedFrame) IsKeyframe() bool {
	return f.FrameType == FrameTypeKey
}

// EncodedAudio holds encoded audio data.
type EncodedAudio struct {
	Data     []byte
	Samples  int   // Samples per channel covered by Data
	Duration int64 // Nanoseconds
}

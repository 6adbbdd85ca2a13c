package recorder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// mjpegEncoder compresses every frame as a standalone JPEG.
type mjpegEncoder struct {
	config  VideoEncoderConfig
	quality int
	buf     bytes.Buffer
}

func newMJPEGEncoder(config VideoEncoderConfig) (*mjpegEncoder, error) {
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("mjpeg: invalid size %dx%d", config.Width, config.Height)
	}
	return &mjpegEncoder{config: config, quality: mjpegQuality(config.BitrateBps)}, nil
}

// mjpegQuality maps a bitrate budget onto the JPEG quality scale.
func mjpegQuality(bitrateBps int) int {
	q := 30 + bitrateBps/100_000
	return max(40, min(q, 90))
}

func (e *mjpegEncoder) Encode(frame *VideoFrame) (*EncodedFrame, error) {
	if frame == nil || len(frame.Data) < 3 {
		return nil, fmt.Errorf("mjpeg: incomplete frame")
	}
	img := &image.YCbCr{
		Y:              frame.Data[0],
		Cb:             frame.Data[1],
		Cr:             frame.Data[2],
		YStride:        frame.Stride[0],
		CStride:        frame.Stride[1],
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, frame.Width, frame.Height),
	}
	e.buf.Reset()
	if err := jpeg.Encode(&e.buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("mjpeg: %w", err)
	}
	data := make([]byte, e.buf.Len())
	copy(data, e.buf.Bytes())
	return &EncodedFrame{Data: data, FrameType: FrameTypeKey, Timestamp: frame.Timestamp}, nil
}

func (e *mjpegEncoder) Provider() Provider { return ProviderGo }
func (e *mjpegEncoder) Close() error       { return nil }

// pcmEncoder stores 16-bit little-endian samples as-is.
type pcmEncoder struct {
	config AudioEncoderConfig
}

// pcmFrameSize is 20 ms at 48 kHz.
const pcmFrameSize = 960

func (e *pcmEncoder) Encode(samples *AudioSamples) (*EncodedAudio, error) {
	if samples.Format != AudioFormatS16 {
		return nil, fmt.Errorf("pcm: unsupported format %s", samples.Format)
	}
	data := make([]byte, len(samples.Data))
	copy(data, samples.Data)
	return &EncodedAudio{
		Data:     data,
		Samples:  samples.SampleCount,
		Duration: int64(samples.SampleCount) * 1e9 / int64(max(samples.SampleRate, 1)),
	}, nil
}

func (e *pcmEncoder) FrameSize() int       { return pcmFrameSize }
func (e *pcmEncoder) CodecPrivate() []byte { return nil }
func (e *pcmEncoder) Provider() Provider   { return ProviderGo }
func (e *pcmEncoder) Close() error         { return nil }

// Register the pure Go encoders. They are always available.
func init() {
	setProviderAvailable(ProviderGo)
	registerVideoEncoder(VideoCodecMJPEG, ProviderGo, func(config VideoEncoderConfig) (VideoEncoder, error) {
		return newMJPEGEncoder(config)
	})
	registerAudioEncoder(AudioCodecPCM, ProviderGo, func(config AudioEncoderConfig) (AudioEncoder, error) {
		return &pcmEncoder{config: config}, nil
	})
}

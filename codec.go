package recorder

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecMJPEG
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecMJPEG:
		return "MJPEG"
	default:
		return "Unknown"
	}
}

// MimeType returns the RTP-style MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecVP8:
		return webrtc.MimeTypeVP8
	case VideoCodecVP9:
		return webrtc.MimeTypeVP9
	case VideoCodecMJPEG:
		return "video/MJPEG"
	default:
		return ""
	}
}

// MatroskaID returns the Matroska CodecID.
func (c VideoCodec) MatroskaID() string {
	switch c {
	case VideoCodecVP8:
		return "V_VP8"
	case VideoCodecVP9:
		return "V_VP9"
	case VideoCodecMJPEG:
		return "V_MJPEG"
	default:
		return ""
	}
}

// AudioCodec identifies the audio codec type.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecOpus
	AudioCodecPCM // 16-bit little-endian PCM
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecOpus:
		return "Opus"
	case AudioCodecPCM:
		return "PCM"
	default:
		return "Unknown"
	}
}

// MimeType returns the RTP-style MIME type for this codec.
func (c AudioCodec) MimeType() string {
	switch c {
	case AudioCodecOpus:
		return webrtc.MimeTypeOpus
	case AudioCodecPCM:
		return "audio/L16"
	default:
		return ""
	}
}

// MatroskaID returns the Matroska CodecID.
func (c AudioCodec) MatroskaID() string {
	switch c {
	case AudioCodecOpus:
		return "A_OPUS"
	case AudioCodecPCM:
		return "A_PCM/INT/LIT"
	default:
		return ""
	}
}

// Container identifies the output file format.
type Container int

const (
	ContainerWebM Container = iota
	ContainerMatroska
)

// Extension returns the file extension without the dot.
func (c Container) Extension() string {
	if c == ContainerMatroska {
		return "mkv"
	}
	return "webm"
}

// DocType returns the EBML DocType.
func (c Container) DocType() string {
	if c == ContainerMatroska {
		return "matroska"
	}
	return "webm"
}

// ContentType returns the container MIME type without codec parameters.
func (c Container) ContentType() string {
	if c == ContainerMatroska {
		return "video/x-matroska"
	}
	return "video/webm"
}

// CodecProfile is a parsed recording MIME type such as
// "video/webm;codecs=vp9,opus".
type CodecProfile struct {
	MimeType  string
	Container Container
	Video     VideoCodec
	Audio     AudioCodec
}

// DefaultMimeTypes is the codec preference list, best first.
var DefaultMimeTypes = []string{
	"video/webm;codecs=vp9,opus",
	"video/webm;codecs=vp8,opus",
	"video/x-matroska;codecs=mjpeg,pcm",
}

// ParseMimeType parses a recording MIME type.
func ParseMimeType(mimeType string) (CodecProfile, error) {
	p := CodecProfile{MimeType: mimeType}
	base, params, _ := strings.Cut(mimeType, ";")
	switch strings.ToLower(strings.TrimSpace(base)) {
	case "video/webm":
		p.Container = ContainerWebM
	case "video/x-matroska":
		p.Container = ContainerMatroska
	default:
		return p, fmt.Errorf("%w: %s", ErrCodecNotSupported, mimeType)
	}

	params = strings.TrimSpace(params)
	codecs, ok := strings.CutPrefix(strings.ToLower(params), "codecs=")
	if !ok {
		return p, fmt.Errorf("%w: %s: missing codecs", ErrCodecNotSupported, mimeType)
	}
	for _, name := range strings.Split(strings.Trim(codecs, `"`), ",") {
		switch strings.TrimSpace(name) {
		case "vp8":
			p.Video = VideoCodecVP8
		case "vp9", "vp09":
			p.Video = VideoCodecVP9
		case "mjpeg":
			p.Video = VideoCodecMJPEG
		case "opus":
			p.Audio = AudioCodecOpus
		case "pcm":
			p.Audio = AudioCodecPCM
		default:
			return p, fmt.Errorf("%w: %s: codec %q", ErrCodecNotSupported, mimeType, name)
		}
	}
	if p.Video == VideoCodecUnknown || p.Audio == AudioCodecUnknown {
		return p, fmt.Errorf("%w: %s: need one video and one audio codec", ErrCodecNotSupported, mimeType)
	}
	if p.Container == ContainerWebM && (p.Video == VideoCodecMJPEG || p.Audio == AudioCodecPCM) {
		return p, fmt.Errorf("%w: %s: codec not allowed in webm", ErrCodecNotSupported, mimeType)
	}
	return p, nil
}

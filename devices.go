package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// DeviceKind represents the type of media device.
type DeviceKind int

const (
	DeviceKindVideoInput DeviceKind = iota // Camera
	DeviceKindAudioInput                   // Microphone
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceKindVideoInput:
		return "videoinput"
	case DeviceKindAudioInput:
		return "audioinput"
	default:
		return "unknown"
	}
}

// DeviceInfo describes a media device.
type DeviceInfo struct {
	DeviceID string     // Unique identifier for the device
	Kind     DeviceKind // Device type
	Label    string     // Human-readable device name
}

// VideoConstraints requests camera properties. Values are ideals, not
// requirements.
type VideoConstraints struct {
	Width     int
	Height    int
	FrameRate int
}

// AudioConstraints requests microphone properties.
type AudioConstraints struct {
	SampleRate   int
	ChannelCount int
}

// DisplayVideoOptions configures display capture video.
type DisplayVideoOptions struct {
	Width     int
	Height    int
	FrameRate int
}

// DeviceProvider is the platform capability that owns permission prompts
// and device access. Implementations report refusals with
// ErrPermissionDenied and missing hardware with ErrDeviceUnavailable.
type DeviceProvider interface {
	// ListVideoDevices returns available video input devices.
	ListVideoDevices(ctx context.Context) ([]DeviceInfo, error)

	// ListAudioInputDevices returns available audio input devices.
	ListAudioInputDevices(ctx context.Context) ([]DeviceInfo, error)

	// OpenVideoDevice opens a camera.
	OpenVideoDevice(ctx context.Context, deviceID string, constraints *VideoConstraints) (VideoTrack, error)

	// OpenAudioDevice opens a microphone.
	OpenAudioDevice(ctx context.Context, deviceID string, constraints *AudioConstraints) (AudioTrack, error)

	// CaptureDisplay captures the screen or a window.
	CaptureDisplay(ctx context.Context, options DisplayVideoOptions) (VideoTrack, error)

	// CaptureDisplayAudio captures display audio, if the platform offers it.
	CaptureDisplayAudio(ctx context.Context) (AudioTrack, error)
}

// deviceRegistry holds the process-wide default provider.
type deviceRegistry struct {
	provider DeviceProvider
	mu       sync.RWMutex
}

var globalDeviceRegistry = &deviceRegistry{}

// RegisterDeviceProvider registers the default device provider.
func RegisterDeviceProvider(provider DeviceProvider) {
	globalDeviceRegistry.mu.Lock()
	defer globalDeviceRegistry.mu.Unlock()
	globalDeviceRegistry.provider = provider
}

// GetDeviceProvider returns the registered device provider.
func GetDeviceProvider() DeviceProvider {
	globalDeviceRegistry.mu.RLock()
	defer globalDeviceRegistry.mu.RUnlock()
	return globalDeviceRegistry.provider
}

// CameraPreviewConstraints are the ideal camera settings for preview and
// recording.
var CameraPreviewConstraints = VideoConstraints{Width: 1280, Height: 720, FrameRate: 30}

// MediaDevices turns provider calls into SourceHandles. Every acquisition
// either returns a live handle or leaves nothing open.
type MediaDevices struct {
	provider DeviceProvider
	log      *logrus.Entry
}

// NewMediaDevices wraps a provider. A nil provider falls back to the
// registered one.
func NewMediaDevices(provider DeviceProvider, log *logrus.Entry) (*MediaDevices, error) {
	if provider == nil {
		provider = GetDeviceProvider()
	}
	if provider == nil {
		return nil, ErrNoDeviceProvider
	}
	if log == nil {
		log = logrus.WithField("component", "devices")
	}
	return &MediaDevices{provider: provider, log: log}, nil
}

// EnumerateDevices lists cameras then microphones.
func (d *MediaDevices) EnumerateDevices(ctx context.Context) ([]DeviceInfo, error) {
	cams, err := d.provider.ListVideoDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list video devices: %w", err)
	}
	mics, err := d.provider.ListAudioInputDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	return append(cams, mics...), nil
}

// DefaultSelection picks the first camera and first microphone, used when
// nothing has been chosen yet.
func (d *MediaDevices) DefaultSelection(ctx context.Context) (cameraID, microphoneID string, err error) {
	devices, err := d.EnumerateDevices(ctx)
	if err != nil {
		return "", "", err
	}
	for _, dev := range devices {
		switch dev.Kind {
		case DeviceKindVideoInput:
			if cameraID == "" {
				cameraID = dev.DeviceID
			}
		case DeviceKindAudioInput:
			if microphoneID == "" {
				microphoneID = dev.DeviceID
			}
		}
	}
	return cameraID, microphoneID, nil
}

// OpenCamera acquires the camera with the given ID.
func (d *MediaDevices) OpenCamera(ctx context.Context, deviceID string) (*SourceHandle, error) {
	c := CameraPreviewConstraints
	track, err := d.provider.OpenVideoDevice(ctx, deviceID, &c)
	if err != nil {
		return nil, acquisitionError("open camera "+deviceID, err)
	}
	d.log.WithFields(logrus.Fields{"device": deviceID, "track": track.ID()}).Debug("camera acquired")
	return NewSourceHandle(SourceKindCamera, deviceID, track), nil
}

// OpenMicrophone acquires the microphone with the given ID.
func (d *MediaDevices) OpenMicrophone(ctx context.Context, deviceID string) (*SourceHandle, error) {
	track, err := d.provider.OpenAudioDevice(ctx, deviceID, &AudioConstraints{})
	if err != nil {
		return nil, acquisitionError("open microphone "+deviceID, err)
	}
	d.log.WithFields(logrus.Fields{"device": deviceID, "track": track.ID()}).Debug("microphone acquired")
	return NewSourceHandle(SourceKindMicrophone, deviceID, nil, track), nil
}

// CaptureDisplay acquires a display capture. When withAudio is set the
// display audio is requested too; its absence is not an error.
func (d *MediaDevices) CaptureDisplay(ctx context.Context, options DisplayVideoOptions, withAudio bool) (*SourceHandle, error) {
	video, err := d.provider.CaptureDisplay(ctx, options)
	if err != nil {
		return nil, acquisitionError("capture display", err)
	}

	var audio AudioTrack
	if withAudio {
		audio, err = d.provider.CaptureDisplayAudio(ctx)
		if err != nil {
			d.log.WithError(err).Info("display audio not available, continuing without it")
			audio = nil
		}
	}
	if ctx.Err() != nil {
		video.Stop()
		if audio != nil {
			audio.Stop()
		}
		return nil, acquisitionError("capture display", ctx.Err())
	}
	return NewSourceHandle(SourceKindDisplay, "display", video, audio), nil
}

func acquisitionError(op string, err error) error {
	if errors.Is(err, ErrSourceAcquisitionFailed) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrSourceAcquisitionFailed, op, err)
}

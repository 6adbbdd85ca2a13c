package recorder

import "errors"

// Failure kinds surfaced by the recorder. Callers match them with errors.Is;
// the wrapped chain carries the technical detail.
var (
	ErrPermissionDenied        = errors.New("permission denied")
	ErrDeviceUnavailable       = errors.New("device unavailable")
	ErrMissingSelection        = errors.New("missing device selection")
	ErrSourceAcquisitionFailed = errors.New("source acquisition failed")
	ErrAssemblyFailed          = errors.New("stream assembly failed")
	ErrEncoderFailure          = errors.New("encoder failure")
)

// Lifecycle and misuse errors.
var (
	ErrNoAudioSources     = errors.New("no audio sources")
	ErrEmptyStream        = errors.New("stream has no tracks")
	ErrNotRecording       = errors.New("not recording")
	ErrAlreadyRecording   = errors.New("recording already in progress")
	ErrSessionFinished    = errors.New("session already finished")
	ErrNothingToExport    = errors.New("nothing to export")
	ErrTrackEnded         = errors.New("track ended")
	ErrNotSupported       = errors.New("operation not supported")
	ErrProviderNotFound   = errors.New("provider not available")
	ErrCodecNotSupported  = errors.New("codec not supported")
	ErrNoSupportedMime    = errors.New("no supported mime type")
	ErrNoDeviceProvider   = errors.New("no device provider registered")
	ErrRecorderClosed     = errors.New("recorder closed")
	ErrModeNotSettable    = errors.New("controls cannot change the recording mode")
	ErrCompositorStopped  = errors.New("compositor stopped")
	ErrInvalidCanvasSize  = errors.New("invalid canvas size")
	ErrNoPrimaryOrOverlay = errors.New("compositor needs at least one video input")
)

// UserMessage maps an error to the short message shown to the person
// recording. Unknown errors get a generic message.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Permission to use the device was denied"
	case errors.Is(err, ErrDeviceUnavailable):
		return "The selected device is not available"
	case errors.Is(err, ErrMissingSelection):
		return "Please select a camera and microphone"
	case errors.Is(err, ErrSourceAcquisitionFailed):
		return "Failed to access media devices"
	case errors.Is(err, ErrAssemblyFailed):
		return "Failed to prepare the recording"
	case errors.Is(err, ErrEncoderFailure):
		return "Recording stopped unexpectedly"
	case errors.Is(err, ErrNothingToExport):
		return "There is no recording to download"
	case errors.Is(err, ErrAlreadyRecording):
		return "A recording is already in progress"
	default:
		return "Failed to start recording"
	}
}

package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// RecordingMode selects which sources are combined into the recording.
type RecordingMode int

const (
	ModeScreen RecordingMode = iota // Display video, mixed audio
	ModeCamera                      // Camera video, microphone audio
	ModeBoth                        // Display with camera overlay, mixed audio
)

func (m RecordingMode) String() string {
	switch m {
	case ModeScreen:
		return "screen"
	case ModeCamera:
		return "camera"
	case ModeBoth:
		return "both"
	default:
		return "unknown"
	}
}

// ParseRecordingMode parses "screen", "camera" or "both".
func ParseRecordingMode(s string) (RecordingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "screen":
		return ModeScreen, nil
	case "camera":
		return ModeCamera, nil
	case "both":
		return ModeBoth, nil
	}
	return ModeScreen, fmt.Errorf("unknown recording mode %q", s)
}

// NeedsDisplay reports whether the mode captures the display.
func (m RecordingMode) NeedsDisplay() bool { return m != ModeCamera }

// NeedsCamera reports whether the mode captures a camera.
func (m RecordingMode) NeedsCamera() bool { return m != ModeScreen }

// AssembleRequest lists the sources of one recording attempt. The handles
// stay owned by the caller.
type AssembleRequest struct {
	Mode       RecordingMode
	Screen     *SourceHandle
	Camera     *SourceHandle
	Microphone *SourceHandle

	// Mirrored routes the camera through the compositor in camera mode.
	Mirrored bool

	// Layout is read on every composed frame. Nil means the default
	// rectangle, mirrored according to Mirrored.
	Layout LayoutSource
}

// Assembly is the stream handed to the encoder plus the derived resources
// built for it.
type Assembly struct {
	Mode       RecordingMode
	Stream     *MediaStream
	Graph      *AudioGraph // Nil when audio is not mixed
	Compositor *Compositor // Nil when video is passed through

	releaseOnce sync.Once
}

// Release stops the compositor and closes the audio graph. Source handles
// are not touched.
func (a *Assembly) Release() {
	if a == nil {
		return
	}
	a.releaseOnce.Do(func() {
		if a.Compositor != nil {
			a.Compositor.Stop()
		}
		if a.Graph != nil {
			a.Graph.Close()
		}
	})
}

// AssemblerConfig configures the derived tracks an Assembler builds.
type AssemblerConfig struct {
	Canvas CompositorConfig
	Mixer  MixerConfig
	Logger *logrus.Entry
}

// Assembler builds the final recording stream for a mode.
type Assembler struct {
	config AssemblerConfig
	log    *logrus.Entry
}

// NewAssembler creates an assembler.
func NewAssembler(config AssemblerConfig) *Assembler {
	if config.Logger == nil {
		config.Logger = logrus.WithField("component", "assembler")
	}
	if config.Canvas.Logger == nil {
		config.Canvas.Logger = config.Logger.WithField("component", "compositor")
	}
	if config.Mixer.Logger == nil {
		config.Mixer.Logger = config.Logger.WithField("component", "mixer")
	}
	return &Assembler{config: config, log: config.Logger}
}

// Assemble builds the stream for req.Mode. Every required source is
// checked before anything is started, so a failed assembly leaves nothing
// running.
func (a *Assembler) Assemble(ctx context.Context, req AssembleRequest) (*Assembly, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// Derived tracks live until Release, not until ctx ends.
	ctx = context.WithoutCancel(ctx)

	asm := &Assembly{Mode: req.Mode}
	var video VideoTrack
	var audio AudioTrack

	switch req.Mode {
	case ModeScreen:
		video = req.Screen.Video

	case ModeCamera:
		video = req.Camera.Video
		if req.Mirrored {
			layout := req.Layout
			if layout == nil {
				layout = StaticLayout(OverlayLayout{Mirrored: true})
			}
			c, err := NewCompositor(nil, req.Camera.Video, layout, a.config.Canvas)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrAssemblyFailed, err)
			}
			if video, err = c.Start(ctx); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrAssemblyFailed, err)
			}
			asm.Compositor = c
		}
		audio = req.Microphone.Audio[0]

	case ModeBoth:
		layout := req.Layout
		if layout == nil {
			l := DefaultOverlayLayout(OverlayRect)
			l.Mirrored = req.Mirrored
			layout = StaticLayout(l)
		}
		c, err := NewCompositor(req.Screen.Video, req.Camera.Video, layout, a.config.Canvas)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAssemblyFailed, err)
		}
		if video, err = c.Start(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAssemblyFailed, err)
		}
		asm.Compositor = c
	}

	if req.Mode != ModeCamera {
		g, err := Mix(ctx, AudioBearing(req.Screen, req.Microphone), a.config.Mixer)
		switch {
		case err == nil:
			asm.Graph = g
			audio = g.Track()
		case errors.Is(err, ErrNoAudioSources):
			a.log.WithField("mode", req.Mode).Info("no audio sources, recording video only")
		default:
			asm.Release()
			return nil, fmt.Errorf("%w: %w", ErrAssemblyFailed, err)
		}
	}

	asm.Stream = NewMediaStream(video)
	if audio != nil {
		asm.Stream.AddTrack(audio)
	}

	a.log.WithFields(logrus.Fields{
		"mode":       req.Mode,
		"stream":     asm.Stream.ID(),
		"tracks":     len(asm.Stream.GetTracks()),
		"composited": asm.Compositor != nil,
		"mixed":      asm.Graph != nil,
	}).Info("stream assembled")
	return asm, nil
}

func validateRequest(req AssembleRequest) error {
	hasVideo := func(h *SourceHandle) bool { return h != nil && h.Video != nil }
	missing := func(what string) error {
		return fmt.Errorf("%w: %s mode requires %s", ErrAssemblyFailed, req.Mode, what)
	}
	switch req.Mode {
	case ModeScreen:
		if !hasVideo(req.Screen) {
			return missing("a display capture")
		}
	case ModeCamera:
		if !hasVideo(req.Camera) {
			return missing("a camera")
		}
		if req.Microphone == nil || !req.Microphone.HasAudio() {
			return missing("a microphone")
		}
	case ModeBoth:
		if !hasVideo(req.Screen) {
			return missing("a display capture")
		}
		if !hasVideo(req.Camera) {
			return missing("a camera")
		}
	default:
		return fmt.Errorf("%w: unknown mode %d", ErrAssemblyFailed, req.Mode)
	}
	return nil
}

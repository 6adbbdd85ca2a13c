package recorder

import (
	"sync"
)

// SourceKind identifies where a handle's media comes from.
type SourceKind int

const (
	SourceKindDisplay    SourceKind = iota // Screen/window capture
	SourceKindCamera                       // Camera capture
	SourceKindMicrophone                   // Microphone capture
)

func (k SourceKind) String() string {
	switch k {
	case SourceKindDisplay:
		return "display"
	case SourceKindCamera:
		return "camera"
	case SourceKindMicrophone:
		return "microphone"
	default:
		return "unknown"
	}
}

// SourceHandle is a live capture acquired from a DeviceProvider. Exactly one
// owner stops it; Stop is safe to call more than once.
type SourceHandle struct {
	Kind     SourceKind
	DeviceID string
	Label    string
	Video    VideoTrack
	Audio    []AudioTrack

	stopOnce sync.Once
}

// NewSourceHandle bundles the tracks of one acquisition.
func NewSourceHandle(kind SourceKind, deviceID string, video VideoTrack, audio ...AudioTrack) *SourceHandle {
	h := &SourceHandle{
		Kind:     kind,
		DeviceID: deviceID,
		Video:    video,
	}
	for _, a := range audio {
		if a != nil {
			h.Audio = append(h.Audio, a)
		}
	}
	switch {
	case video != nil:
		h.Label = video.Label()
	case len(h.Audio) > 0:
		h.Label = h.Audio[0].Label()
	}
	return h
}

// Tracks returns every track of the handle, video first.
func (h *SourceHandle) Tracks() []MediaStreamTrack {
	var tracks []MediaStreamTrack
	if h.Video != nil {
		tracks = append(tracks, h.Video)
	}
	for _, a := range h.Audio {
		tracks = append(tracks, a)
	}
	return tracks
}

// HasAudio reports whether the handle carries at least one audio track.
func (h *SourceHandle) HasAudio() bool { return len(h.Audio) > 0 }

// Live reports whether any of the handle's tracks is still producing.
func (h *SourceHandle) Live() bool {
	for _, t := range h.Tracks() {
		if t.State() == TrackStateLive {
			return true
		}
	}
	return false
}

// Stop stops all tracks of the handle.
func (h *SourceHandle) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() {
		for _, t := range h.Tracks() {
			t.Stop()
		}
	})
}

// AudioBearing filters handles down to those that carry audio. Nil handles
// are dropped.
func AudioBearing(handles ...*SourceHandle) []*SourceHandle {
	var out []*SourceHandle
	for _, h := range handles {
		if h != nil && h.HasAudio() {
			out = append(out, h)
		}
	}
	return out
}

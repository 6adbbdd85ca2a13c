package recorder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeReleasesInReverseOrder(t *testing.T) {
	s := NewScope()
	var order []string
	for _, name := range []string{"microphone", "display", "camera"} {
		name := name
		s.Add(name, func() error {
			order = append(order, name)
			return nil
		})
	}
	assert.Equal(t, 3, s.Len())

	assert.NoError(t, s.Release())
	assert.Equal(t, []string{"camera", "display", "microphone"}, order)
	assert.Equal(t, 0, s.Len())

	// Second release is a no-op.
	assert.NoError(t, s.Release())
	assert.Len(t, order, 3)
}

func TestScopeAddAfterRelease(t *testing.T) {
	s := NewScope()
	s.Release()

	v := NewLocalVideoTrack("late camera", VideoTrackSettings{})
	s.AddHandle(NewSourceHandle(SourceKindCamera, "cam", v))
	assert.Equal(t, TrackStateEnded, v.State())
	assert.Equal(t, 0, s.Len())
}

func TestScopeJoinsErrors(t *testing.T) {
	s := NewScope()
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	ran := 0
	s.Add("a", func() error { ran++; return errA })
	s.Add("ok", func() error { ran++; return nil })
	s.Add("b", func() error { ran++; return errB })

	err := s.Release()
	assert.Equal(t, 3, ran)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Contains(t, err.Error(), "release b")
}

func TestScopeAddHandle(t *testing.T) {
	s := NewScope()
	v := NewLocalVideoTrack("cam", VideoTrackSettings{})
	a := NewLocalAudioTrack("mic", AudioTrackSettings{})
	s.AddHandle(NewSourceHandle(SourceKindCamera, "cam", v))
	s.AddHandle(NewSourceHandle(SourceKindMicrophone, "mic", nil, a))
	s.AddHandle(nil)
	assert.Equal(t, 2, s.Len())

	assert.NoError(t, s.Release())
	assert.Equal(t, TrackStateEnded, v.State())
	assert.Equal(t, TrackStateEnded, a.State())
}

package recorder

import (
	"testing"
)

func TestPixelFormat_String(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   string
	}{
		{PixelFormatI420, "I420"},
		{PixelFormat(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.format.String(); got != tt.want {
				t.Errorf("PixelFormat.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAudioFormat_BytesPerSample(t *testing.T) {
	if got := AudioFormatS16.BytesPerSample(); got != 2 {
		t.Errorf("S16.BytesPerSample() = %d, want 2", got)
	}
	if got := AudioFormat(99).BytesPerSample(); got != 0 {
		t.Errorf("unknown BytesPerSample() = %d, want 0", got)
	}
}

func TestI420Size(t *testing.T) {
	tests := []struct {
		width, height int
		want          int
	}{
		{640, 480, 640*480 + 2*320*240},
		{1920, 1080, 1920*1080 + 2*960*540},
		{2, 2, 6},
	}

	for _, tt := range tests {
		if got := I420Size(tt.width, tt.height); got != tt.want {
			t.Errorf("I420Size(%d, %d) = %d, want %d", tt.width, tt.height, got, tt.want)
		}
	}
}

func TestNewI420Frame(t *testing.T) {
	f := NewI420Frame(64, 48)
	if len(f.Data) != 3 || len(f.Stride) != 3 {
		t.Fatalf("expected 3 planes, got %d", len(f.Data))
	}
	if len(f.Data[0]) != 64*48 || len(f.Data[1]) != 32*24 || len(f.Data[2]) != 32*24 {
		t.Errorf("unexpected plane sizes %d/%d/%d", len(f.Data[0]), len(f.Data[1]), len(f.Data[2]))
	}
	if f.Stride[0] != 64 || f.Stride[1] != 32 {
		t.Errorf("unexpected strides %v", f.Stride)
	}
}

func TestVideoFrame_Clone(t *testing.T) {
	original := NewI420Frame(4, 4)
	for i := range original.Data[0] {
		original.Data[0][i] = byte(i)
	}
	original.Timestamp = 12345
	original.Duration = 33333

	clone := original.Clone()

	if clone.Width != original.Width || clone.Height != original.Height {
		t.Error("Clone dimensions mismatch")
	}
	if clone.Timestamp != original.Timestamp || clone.Duration != original.Duration {
		t.Error("Clone timing mismatch")
	}

	// Modify original - clone should be unaffected
	original.Data[0][0] = 255
	if clone.Data[0][0] == 255 {
		t.Error("Clone shares data with original")
	}
}

func TestEncodedFrame_IsKeyframe(t *testing.T) {
	tests := []struct {
		frameType FrameType
		want      bool
	}{
		{FrameTypeKey, true},
		{FrameTypeDelta, false},
		{FrameTypeUnknown, false},
	}

	for _, tt := range tests {
		f := &EncodedFrame{FrameType: tt.frameType}
		if got := f.IsKeyframe(); got != tt.want {
			t.Errorf("IsKeyframe() for %v = %v, want %v", tt.frameType, got, tt.want)
		}
	}
}

func TestAudioSamples_Int16RoundTrip(t *testing.T) {
	pcm := []int16{0, 1, -1, 32767, -32768, 1234}
	s := NewAudioSamples(pcm, 48000, 2, 42)

	if s.SampleCount != 3 {
		t.Errorf("SampleCount = %d, want 3", s.SampleCount)
	}
	if len(s.Data) != len(pcm)*2 {
		t.Errorf("len(Data) = %d, want %d", len(s.Data), len(pcm)*2)
	}
	got := s.Int16()
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], pcm[i])
		}
	}
}

func TestAudioSamples_Clone(t *testing.T) {
	original := NewAudioSamples([]int16{1, 2, 3, 4}, 48000, 2, 500)
	clone := original.Clone()

	if clone.SampleRate != original.SampleRate || clone.Channels != original.Channels {
		t.Error("Clone format mismatch")
	}

	original.Data[0] = 0xFF
	if clone.Data[0] == 0xFF {
		t.Error("Clone shares data with original")
	}
}

func BenchmarkVideoFrame_Clone(b *testing.B) {
	frame := NewI420Frame(1920, 1080)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = frame.Clone()
	}
}

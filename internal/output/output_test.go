package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/thesyncim/recorder"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00"},
		{1500 * time.Millisecond, "00:02"},
		{65 * time.Second, "01:05"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in), tt.in.String())
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KiB", FormatSize(1536))
	assert.Equal(t, "2.0 MiB", FormatSize(2<<20))
}

func TestFormatterIsNotifier(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	var n recorder.Notifier = NewFormatter(&buf)

	n.Success(recorder.MsgRecordingStarted)
	n.Error("Failed to access media devices")

	assert.Equal(t, "✔ Recording started\n✖ Failed to access media devices\n", buf.String())
}

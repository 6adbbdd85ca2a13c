// Package output prints user-facing CLI messages.
package output

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/thesyncim/recorder"
)

// Formatter writes coloured status lines. It doubles as the recorder's
// Notifier.
type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

var (
	successMark = color.New(color.FgGreen, color.Bold).SprintFunc()
	errorMark   = color.New(color.FgRed, color.Bold).SprintFunc()
	faint       = color.New(color.Faint).SprintFunc()
)

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "%s %s\n", successMark("✔"), msg)
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "%s %s\n", errorMark("✖"), msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "  %s\n", faint(msg))
}

func (f *Formatter) Elapsed(d time.Duration) {
	fmt.Fprintf(f.w, "\r%s %s", color.RedString("●"), FormatDuration(d))
}

func (f *Formatter) Saved(path string, size int) {
	fmt.Fprintf(f.w, "\n%s %s (%s)\n", successMark("✔"), color.CyanString(path), FormatSize(size))
}

func (f *Formatter) DeviceHeader(kind string) {
	fmt.Fprintf(f.w, "%s\n", color.New(color.Bold).Sprint(kind))
}

func (f *Formatter) Device(d recorder.DeviceInfo, selected bool) {
	mark := " "
	if selected {
		mark = successMark("*")
	}
	fmt.Fprintf(f.w, " %s %s %s\n", mark, d.Label, faint(d.DeviceID))
}

func (f *Formatter) Codec(mimeType string, available bool) {
	if available {
		fmt.Fprintf(f.w, "  %s %s\n", successMark("✔"), mimeType)
		return
	}
	fmt.Fprintf(f.w, "  %s %s\n", faint("-"), faint(mimeType))
}

// FormatDuration renders d as mm:ss, or h:mm:ss past an hour.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// FormatSize renders a byte count with a binary unit.
func FormatSize(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

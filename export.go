package recorder

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Artifact is a finished recording ready to be saved.
type Artifact struct {
	Name         string // recording-<ISO8601>.<ext>
	MimeType     string // Negotiated container/codec type
	DetectedType string // Type sniffed from the bytes
	Data         []byte
}

// Size returns the artifact length in bytes.
func (a *Artifact) Size() int { return len(a.Data) }

// WriteTo implements io.WriterTo.
func (a *Artifact) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(a.Data)
	return int64(n), err
}

// Save writes the artifact into dir and returns the file path.
func (a *Artifact) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, a.Name)
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return "", fmt.Errorf("save recording: %w", err)
	}
	return path, nil
}

// ArtifactTimeFormat is the ISO 8601 form used in artifact names.
const ArtifactTimeFormat = "2006-01-02T15:04:05.000Z"

// Package concatenates chunks in order into one artifact named after at.
// An empty sequence yields ErrNothingToExport and no artifact.
func Package(chunks [][]byte, mimeType string, at time.Time) (*Artifact, error) {
	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	if size == 0 {
		return nil, ErrNothingToExport
	}

	var buf bytes.Buffer
	buf.Grow(size)
	for _, c := range chunks {
		buf.Write(c)
	}
	data := buf.Bytes()
	detected := mimetype.Detect(data)

	ext := strings.TrimPrefix(detected.Extension(), ".")
	if p, err := ParseMimeType(mimeType); err == nil {
		ext = p.Container.Extension()
	}
	if ext == "" {
		ext = "bin"
	}
	if mimeType == "" {
		mimeType = detected.String()
	}

	return &Artifact{
		Name:         "recording-" + at.UTC().Format(ArtifactTimeFormat) + "." + ext,
		MimeType:     mimeType,
		DetectedType: detected.String(),
		Data:         data,
	}, nil
}

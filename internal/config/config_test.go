package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "both", cfg.Mode)
	assert.Equal(t, "circle", cfg.Overlay.Shape)
	assert.Equal(t, 1920, cfg.Canvas.Width)
	assert.Equal(t, 1080, cfg.Canvas.Height)
	assert.Equal(t, 30, cfg.Canvas.FPS)
	assert.Equal(t, 60, cfg.Canvas.RefreshHz)
	assert.Equal(t, time.Second, cfg.Encoder.Slice)
	assert.Len(t, cfg.Encoder.Codecs, 3)
	assert.NotEmpty(t, cfg.OutputDir)
	assert.Empty(t, cfg.File)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "screenrec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: camera
mirror: true
overlay:
  shape: rect
  x: 40
canvas:
  fps: 24
encoder:
  slice: 500ms
`), 0o644))
	t.Setenv("SCREENREC_CAMERA", "cam-2")
	t.Setenv("SCREENREC_CANVAS_WIDTH", "1280")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "camera", cfg.Mode)
	assert.True(t, cfg.Mirror)
	assert.Equal(t, "rect", cfg.Overlay.Shape)
	assert.Equal(t, 40, cfg.Overlay.X)
	assert.Equal(t, 20, cfg.Overlay.Y)
	assert.Equal(t, 24, cfg.Canvas.FPS)
	assert.Equal(t, 500*time.Millisecond, cfg.Encoder.Slice)
	assert.Equal(t, "cam-2", cfg.Camera)
	assert.Equal(t, 1280, cfg.Canvas.Width)
	assert.Equal(t, path, cfg.File)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mode", func(c *Config) { c.Mode = "window" }},
		{"shape", func(c *Config) { c.Overlay.Shape = "hexagon" }},
		{"size", func(c *Config) { c.Canvas.Width = 0 }},
		{"fps", func(c *Config) { c.Canvas.FPS = 0 }},
		{"slice", func(c *Config) { c.Encoder.Slice = 0 }},
		{"codecs", func(c *Config) { c.Encoder.Codecs = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Mode:    "screen",
				Overlay: Overlay{Shape: "rect"},
				Canvas:  Canvas{Width: 640, Height: 480, FPS: 30, RefreshHz: 60},
				Encoder: Encoder{Slice: time.Second, Codecs: []string{"video/webm;codecs=vp8,opus"}},
			}
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// Package config loads screenrec settings from defaults, an optional
// config file and SCREENREC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SCREENREC_CANVAS_FPS.
const EnvPrefix = "SCREENREC"

type Overlay struct {
	Shape string
	X, Y  int
}

type Canvas struct {
	Width     int
	Height    int
	FPS       int
	RefreshHz int
}

type Encoder struct {
	Bitrate int
	Slice   time.Duration
	Codecs  []string
}

// Config is the resolved configuration.
type Config struct {
	Mode       string
	Camera     string
	Microphone string
	Mirror     bool
	Overlay    Overlay
	Canvas     Canvas
	Encoder    Encoder
	OutputDir  string
	LogLevel   string

	// File is the config file that was read, if any.
	File string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "both")
	v.SetDefault("camera", "")
	v.SetDefault("microphone", "")
	v.SetDefault("mirror", false)
	v.SetDefault("overlay.shape", "circle")
	v.SetDefault("overlay.x", 20)
	v.SetDefault("overlay.y", 20)
	v.SetDefault("canvas.width", 1920)
	v.SetDefault("canvas.height", 1080)
	v.SetDefault("canvas.fps", 30)
	v.SetDefault("canvas.refresh_hz", 60)
	v.SetDefault("encoder.bitrate", 8_000_000)
	v.SetDefault("encoder.slice", time.Second)
	v.SetDefault("encoder.codecs", []string{
		"video/webm;codecs=vp9,opus",
		"video/webm;codecs=vp8,opus",
		"video/x-matroska;codecs=mjpeg,pcm",
	})
	v.SetDefault("output.dir", filepath.Join(xdg.UserDirs.Videos, "screenrec"))
	v.SetDefault("log.level", "info")
}

// Load resolves the configuration. An explicit file must exist; otherwise
// config.yaml is looked up in the working directory and the XDG config
// directory, and is optional.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "screenrec"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Mode:       v.GetString("mode"),
		Camera:     v.GetString("camera"),
		Microphone: v.GetString("microphone"),
		Mirror:     v.GetBool("mirror"),
		Overlay: Overlay{
			Shape: v.GetString("overlay.shape"),
			X:     v.GetInt("overlay.x"),
			Y:     v.GetInt("overlay.y"),
		},
		Canvas: Canvas{
			Width:     v.GetInt("canvas.width"),
			Height:    v.GetInt("canvas.height"),
			FPS:       v.GetInt("canvas.fps"),
			RefreshHz: v.GetInt("canvas.refresh_hz"),
		},
		Encoder: Encoder{
			Bitrate: v.GetInt("encoder.bitrate"),
			Slice:   v.GetDuration("encoder.slice"),
			Codecs:  v.GetStringSlice("encoder.codecs"),
		},
		OutputDir: v.GetString("output.dir"),
		LogLevel:  v.GetString("log.level"),
		File:      v.ConfigFileUsed(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail deep inside a recording.
func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case "screen", "camera", "both":
	default:
		errs = append(errs, fmt.Errorf("mode: unknown value %q", c.Mode))
	}
	switch c.Overlay.Shape {
	case "rect", "rectangle", "circle":
	default:
		errs = append(errs, fmt.Errorf("overlay.shape: unknown value %q", c.Overlay.Shape))
	}
	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 {
		errs = append(errs, fmt.Errorf("canvas: invalid size %dx%d", c.Canvas.Width, c.Canvas.Height))
	}
	if c.Canvas.FPS <= 0 || c.Canvas.RefreshHz <= 0 {
		errs = append(errs, errors.New("canvas: fps and refresh_hz must be positive"))
	}
	if c.Encoder.Slice <= 0 {
		errs = append(errs, errors.New("encoder.slice: must be positive"))
	}
	if len(c.Encoder.Codecs) == 0 {
		errs = append(errs, errors.New("encoder.codecs: empty preference list"))
	}
	return errors.Join(errs...)
}

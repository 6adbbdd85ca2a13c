package recorder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// OverlayShape selects how the camera overlay is cut out.
type OverlayShape int

const (
	OverlayRect   OverlayShape = iota // 16:9 rectangle, a quarter of the canvas width
	OverlayCircle                     // Circle, a quarter of the shorter canvas side
)

func (s OverlayShape) String() string {
	switch s {
	case OverlayRect:
		return "rect"
	case OverlayCircle:
		return "circle"
	default:
		return "unknown"
	}
}

// ParseOverlayShape parses "rect" or "circle".
func ParseOverlayShape(s string) (OverlayShape, bool) {
	switch s {
	case "rect", "rectangle":
		return OverlayRect, true
	case "circle":
		return OverlayCircle, true
	}
	return OverlayRect, false
}

// Corner is the canvas corner an overlay offset is measured from.
type Corner int

const (
	CornerTopLeft Corner = iota
	CornerTopRight
	CornerBottomLeft
	CornerBottomRight
)

// OverlayLayout places the camera overlay on the canvas.
type OverlayLayout struct {
	Shape    OverlayShape
	Corner   Corner
	X, Y     int  // Offset from Corner in canvas pixels
	Mirrored bool // Flip the overlay horizontally
}

// DefaultOverlayInset is the distance of the default overlay from its corner.
const DefaultOverlayInset = 20

// DefaultOverlayLayout returns the starting layout for a shape: rectangles
// sit at the top-left, circles at the bottom-right.
func DefaultOverlayLayout(shape OverlayShape) OverlayLayout {
	l := OverlayLayout{Shape: shape, X: DefaultOverlayInset, Y: DefaultOverlayInset}
	if shape == OverlayCircle {
		l.Corner = CornerBottomRight
	}
	return l
}

// Size returns the overlay dimensions on a canvas.
func (l OverlayLayout) Size(canvasW, canvasH int) (w, h int) {
	switch l.Shape {
	case OverlayCircle:
		w = min(canvasW, canvasH) / 4
		h = w
	default:
		w = canvasW / 4
		h = w * 9 / 16
	}
	return max(w&^1, 2), max(h&^1, 2)
}

// Region returns the overlay rectangle, clamped so it never leaves the
// canvas.
func (l OverlayLayout) Region(canvasW, canvasH int) Rect {
	w, h := l.Size(canvasW, canvasH)
	w, h = min(w, canvasW), min(h, canvasH)

	x, y := l.X, l.Y
	switch l.Corner {
	case CornerTopRight:
		x = canvasW - w - l.X
	case CornerBottomLeft:
		y = canvasH - h - l.Y
	case CornerBottomRight:
		x = canvasW - w - l.X
		y = canvasH - h - l.Y
	}
	x = max(0, min(x, canvasW-w))
	y = max(0, min(y, canvasH-h))
	return Rect{X: x, Y: y, W: w, H: h}
}

// LayoutSource supplies the overlay layout. It is consulted on every draw,
// so moving the overlay takes effect on the next frame.
type LayoutSource interface {
	Layout() OverlayLayout
}

// LayoutFunc adapts a function to LayoutSource.
type LayoutFunc func() OverlayLayout

func (f LayoutFunc) Layout() OverlayLayout { return f() }

// StaticLayout is a fixed layout.
type StaticLayout OverlayLayout

func (l StaticLayout) Layout() OverlayLayout { return OverlayLayout(l) }

// CompositorConfig configures the frame compositor.
type CompositorConfig struct {
	Width       int     // Canvas width (ignored without a primary input)
	Height      int     // Canvas height (ignored without a primary input)
	FPS         int     // Capture rate of the output track
	RefreshRate int     // Draw rate
	Background  [3]byte // Background color (Y, U, V)
	StrokeWidth int     // Outline width of circular overlays
	StrokeColor [3]byte
	Clock       clock.WithTicker
	Logger      *logrus.Entry
}

// DefaultCompositorConfig returns a 1080p, 30 fps configuration drawn at
// 60 Hz.
func DefaultCompositorConfig() CompositorConfig {
	return CompositorConfig{
		Width:       1920,
		Height:      1080,
		FPS:         30,
		RefreshRate: 60,
		Background:  ColorBlack,
		StrokeWidth: 4,
		StrokeColor: ColorWhite,
	}
}

// CompositorStats counts loop activity.
type CompositorStats struct {
	Draws    uint64 // Refresh ticks that drew a frame
	Skipped  uint64 // Refresh ticks skipped while inputs were not ready
	Captured uint64 // Frames published on the output track
}

// Compositor renders a primary video and an optional overlay into one
// canvas and publishes snapshots of it as a video track.
//
// With no primary input the overlay is drawn over the whole canvas, which
// then takes the overlay's native resolution.
type Compositor struct {
	config  CompositorConfig
	primary VideoTrack
	overlay VideoTrack
	layout  LayoutSource
	clock   clock.WithTicker
	log     *logrus.Entry

	canvasMu sync.Mutex
	canvas   *Canvas
	ready    atomic.Bool

	lifeMu    sync.Mutex
	output    *LocalVideoTrack
	cancel    context.CancelFunc
	done      chan struct{}
	startTime time.Time

	draws, skipped, captured atomic.Uint64
}

// NewCompositor creates a compositor. Either input may be nil, not both.
func NewCompositor(primary, overlay VideoTrack, layout LayoutSource, config CompositorConfig) (*Compositor, error) {
	if primary == nil && overlay == nil {
		return nil, ErrNoPrimaryOrOverlay
	}
	def := DefaultCompositorConfig()
	if config.FPS <= 0 {
		config.FPS = def.FPS
	}
	if config.RefreshRate <= 0 {
		config.RefreshRate = def.RefreshRate
	}
	if config.Width <= 0 || config.Height <= 0 {
		config.Width, config.Height = def.Width, def.Height
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	if config.Logger == nil {
		config.Logger = logrus.WithField("component", "compositor")
	}
	if layout == nil {
		layout = StaticLayout(DefaultOverlayLayout(OverlayRect))
	}

	c := &Compositor{
		config:  config,
		primary: primary,
		overlay: overlay,
		layout:  layout,
		clock:   config.Clock,
		log:     config.Logger,
	}
	if primary != nil {
		canvas, err := NewCanvas(config.Width, config.Height)
		if err != nil {
			return nil, err
		}
		c.canvas = canvas
		c.canvas.Clear(config.Background)
	}
	return c, nil
}

// Start launches the draw loop and returns the composite track. Stopping
// that track stops the compositor.
func (c *Compositor) Start(ctx context.Context) (VideoTrack, error) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.output != nil {
		select {
		case <-c.output.Done():
			return nil, ErrCompositorStopped
		default:
			return c.output, nil
		}
	}

	settings := VideoTrackSettings{FrameRate: c.config.FPS}
	if c.canvas != nil {
		settings.Width, settings.Height = c.canvas.Width(), c.canvas.Height()
	}
	c.output = NewLocalVideoTrack("composite", settings)

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.startTime = c.clock.Now()

	refresh := c.clock.NewTicker(time.Second / time.Duration(c.config.RefreshRate))
	capture := c.clock.NewTicker(time.Second / time.Duration(c.config.FPS))
	go c.loop(loopCtx, refresh, capture)

	c.output.OnStop(c.halt)
	c.log.WithFields(logrus.Fields{
		"fps":     c.config.FPS,
		"refresh": c.config.RefreshRate,
		"overlay": c.overlay != nil,
		"primary": c.primary != nil,
	}).Info("compositor started")
	return c.output, nil
}

// Stop cancels the draw loop, waits for it to exit and ends the output
// track. No frame is drawn after Stop returns.
func (c *Compositor) Stop() {
	c.halt()
	c.lifeMu.Lock()
	out := c.output
	c.lifeMu.Unlock()
	if out != nil {
		out.Stop()
	}
}

func (c *Compositor) halt() {
	c.lifeMu.Lock()
	cancel, done := c.cancel, c.done
	c.lifeMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Ready reports whether input dimensions are known and drawing has begun.
func (c *Compositor) Ready() bool { return c.ready.Load() }

// Stats returns loop counters.
func (c *Compositor) Stats() CompositorStats {
	return CompositorStats{
		Draws:    c.draws.Load(),
		Skipped:  c.skipped.Load(),
		Captured: c.captured.Load(),
	}
}

// Canvas returns the drawing surface, or nil before the compositor is
// ready in overlay-only mode.
func (c *Compositor) Canvas() *Canvas {
	c.canvasMu.Lock()
	defer c.canvasMu.Unlock()
	return c.canvas
}

func (c *Compositor) loop(ctx context.Context, refresh, capture clock.Ticker) {
	defer close(c.done)
	defer refresh.Stop()
	defer capture.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.WithFields(logrus.Fields{
				"draws":    c.draws.Load(),
				"captured": c.captured.Load(),
			}).Debug("compositor loop exited")
			return
		case <-refresh.C():
			c.drawFrame()
		case <-capture.C():
			c.captureFrame()
		}
	}
}

// ensureReady gates drawing until the input that defines the layout has
// produced a frame.
func (c *Compositor) ensureReady() bool {
	if c.ready.Load() {
		return true
	}
	sizing := c.primary
	if sizing == nil {
		sizing = c.overlay
	}
	f := sizing.CurrentFrame()
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return false
	}

	c.canvasMu.Lock()
	if c.canvas == nil {
		canvas, err := NewCanvas(f.Width, f.Height)
		if err != nil {
			c.canvasMu.Unlock()
			return false
		}
		canvas.Clear(c.config.Background)
		c.canvas = canvas
	}
	w, h := c.canvas.Width(), c.canvas.Height()
	c.canvasMu.Unlock()

	c.ready.Store(true)
	c.log.WithFields(logrus.Fields{"width": w, "height": h}).Info("compositor ready")
	return true
}

func (c *Compositor) drawFrame() {
	if !c.ensureReady() {
		c.skipped.Add(1)
		return
	}
	layout := c.layout.Layout()

	c.canvasMu.Lock()
	defer c.canvasMu.Unlock()

	if c.primary == nil {
		if f := c.overlay.CurrentFrame(); f != nil {
			c.canvas.DrawFrame(f, c.canvas.Bounds(), DrawOptions{Mode: ScaleModeFill, Mirror: layout.Mirrored})
		}
		c.draws.Add(1)
		return
	}

	c.canvas.Clear(c.config.Background)
	if f := c.primary.CurrentFrame(); f != nil {
		c.canvas.DrawFrame(f, c.canvas.Bounds(), DrawOptions{Mode: ScaleModeStretch})
	}
	if c.overlay != nil {
		if f := c.overlay.CurrentFrame(); f != nil {
			c.drawOverlay(f, layout)
		}
	}
	c.draws.Add(1)
}

func (c *Compositor) drawOverlay(f *VideoFrame, layout OverlayLayout) {
	region := layout.Region(c.canvas.Width(), c.canvas.Height())
	switch layout.Shape {
	case OverlayCircle:
		c.canvas.DrawFrame(f, region, DrawOptions{Mode: ScaleModeFill, Mirror: layout.Mirrored, Circle: true})
		c.canvas.StrokeCircle(region, c.config.StrokeWidth, c.config.StrokeColor)
	default:
		c.canvas.DrawFrame(f, region, DrawOptions{Mode: ScaleModeStretch, Mirror: layout.Mirrored})
	}
}

func (c *Compositor) captureFrame() {
	if !c.ready.Load() {
		return
	}
	c.canvasMu.Lock()
	frame := c.canvas.Snapshot()
	c.canvasMu.Unlock()

	frame.Timestamp = c.clock.Since(c.startTime).Nanoseconds()
	frame.Duration = (time.Second / time.Duration(c.config.FPS)).Nanoseconds()
	if err := c.output.WriteFrame(frame); err != nil {
		return
	}
	c.captured.Add(1)
}

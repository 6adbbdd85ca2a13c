package recorder

// Colors in Y, U, V.
var (
	ColorBlack = [3]byte{16, 128, 128}
	ColorWhite = [3]byte{235, 128, 128}
)

// DrawOptions controls how a frame is placed on the canvas.
type DrawOptions struct {
	Mode   ScaleMode
	Mirror bool // Flip horizontally within the destination rectangle
	Circle bool // Clip to the circle inscribed in the destination rectangle
}

// Canvas is an off-screen I420 surface. Every draw is clipped to its bounds.
type Canvas struct {
	width, height int
	y, u, v       []byte
}

// NewCanvas allocates a canvas. Odd dimensions are rounded up to even.
func NewCanvas(width, height int) (*Canvas, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidCanvasSize
	}
	width = (width + 1) &^ 1
	height = (height + 1) &^ 1
	f := NewI420Frame(width, height)
	return &Canvas{width: width, height: height, y: f.Data[0], u: f.Data[1], v: f.Data[2]}, nil
}

func (c *Canvas) Width() int  { return c.width }
func (c *Canvas) Height() int { return c.height }

// Bounds returns the canvas rectangle.
func (c *Canvas) Bounds() Rect { return Rect{W: c.width, H: c.height} }

// Clear fills the canvas with a solid color.
func (c *Canvas) Clear(color [3]byte) {
	fill(c.y, color[0])
	fill(c.u, color[1])
	fill(c.v, color[2])
}

func fill(b []byte, v byte) {
	if len(b) == 0 {
		return
	}
	b[0] = v
	for n := 1; n < len(b); n *= 2 {
		copy(b[n:], b[:n])
	}
}

// DrawFrame scales frame into dst. Parts of dst outside the canvas are
// discarded.
func (c *Canvas) DrawFrame(frame *VideoFrame, dst Rect, opts DrawOptions) {
	if frame == nil || len(frame.Data) < 3 || frame.Width <= 0 || frame.Height <= 0 {
		return
	}
	dst = destinationRegion(frame.Width, frame.Height, dst, opts.Mode)
	src := sourceRegion(frame.Width, frame.Height, dst.W, dst.H, opts.Mode)
	bounds := c.Bounds()

	var lumaMask, chromaMask planeMask
	if opts.Circle {
		lumaMask = circleMask(dst)
		chromaMask = circleMask(dst.half())
	}

	drawPlane(c.y, c.width, bounds, dst, frame.Data[0], frame.Stride[0], src, opts.Mirror, lumaMask)

	cb := bounds.half()
	cd := dst.half()
	cs := src.half()
	cs.W = min(cs.W, frame.Width/2-cs.X)
	cs.H = min(cs.H, frame.Height/2-cs.Y)
	drawPlane(c.u, c.width/2, cb, cd, frame.Data[1], frame.Stride[1], cs, opts.Mirror, chromaMask)
	drawPlane(c.v, c.width/2, cb, cd, frame.Data[2], frame.Stride[2], cs, opts.Mirror, chromaMask)
}

// StrokeCircle draws the outline of the circle inscribed in r.
func (c *Canvas) StrokeCircle(r Rect, thickness int, color [3]byte) {
	if r.Empty() || thickness <= 0 {
		return
	}
	outer := circleMask(r)
	inner := circleMask(Rect{X: r.X + thickness, Y: r.Y + thickness, W: r.W - 2*thickness, H: r.H - 2*thickness})
	area := r.Intersect(c.Bounds())
	for y := area.Y; y < area.Y+area.H; y++ {
		for x := area.X; x < area.X+area.W; x++ {
			if outer(x, y) && (r.W <= 2*thickness || !inner(x, y)) {
				c.y[y*c.width+x] = color[0]
				ci := (y/2)*(c.width/2) + x/2
				c.u[ci] = color[1]
				c.v[ci] = color[2]
			}
		}
	}
}

// circleMask accepts pixels whose centers fall inside the ellipse
// inscribed in r.
func circleMask(r Rect) planeMask {
	if r.Empty() {
		return func(int, int) bool { return false }
	}
	// Work in doubled coordinates to keep pixel centers integral.
	cx := 2*r.X + r.W
	cy := 2*r.Y + r.H
	rx := int64(r.W)
	ry := int64(r.H)
	return func(x, y int) bool {
		dx := int64(2*x + 1 - cx)
		dy := int64(2*y + 1 - cy)
		return dx*dx*ry*ry+dy*dy*rx*rx <= rx*rx*ry*ry
	}
}

// Snapshot copies the current canvas contents into a new frame.
func (c *Canvas) Snapshot() *VideoFrame {
	f := NewI420Frame(c.width, c.height)
	copy(f.Data[0], c.y)
	copy(f.Data[1], c.u)
	copy(f.Data[2], c.v)
	return f
}

// Pixel returns the Y, U, V values at (x, y).
func (c *Canvas) Pixel(x, y int) [3]byte {
	ci := (y/2)*(c.width/2) + x/2
	return [3]byte{c.y[y*c.width+x], c.u[ci], c.v[ci]}
}

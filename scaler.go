package recorder

// ScaleMode defines how scaling should handle aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeFit scales to fit within target dimensions, preserving aspect ratio (may letterbox).
	ScaleModeFit ScaleMode = iota
	// ScaleModeFill scales to fill target dimensions, preserving aspect ratio (may crop).
	ScaleModeFill
	// ScaleModeStretch scales to exactly match target dimensions (may distort).
	ScaleModeStretch
)

// Rect is an axis-aligned pixel rectangle.
type Rect struct {
	X, Y, W, H int
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Intersect returns the overlap of r and o.
func (r Rect) Intersect(o Rect) Rect {
	x0, y0 := max(r.X, o.X), max(r.Y, o.Y)
	x1, y1 := min(r.X+r.W, o.X+o.W), min(r.Y+r.H, o.Y+o.H)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.X+o.W <= r.X+r.W && o.Y+o.H <= r.Y+r.H
}

// half maps a luma rectangle onto the 4:2:0 chroma grid.
func (r Rect) half() Rect {
	x0, y0 := r.X/2, r.Y/2
	x1, y1 := (r.X+r.W+1)/2, (r.Y+r.H+1)/2
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// sourceRegion determines what region of a srcW x srcH image is mapped onto
// a dstW x dstH box for the given mode.
func sourceRegion(srcW, srcH, dstW, dstH int, mode ScaleMode) Rect {
	if mode != ScaleModeFill || srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return Rect{W: srcW, H: srcH}
	}

	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(dstW) / float64(dstH)

	if srcAspect > dstAspect {
		// Source is wider, crop horizontally
		newW := int(float64(srcH) * dstAspect)
		return Rect{X: (srcW - newW) / 2, W: newW, H: srcH}
	} else if srcAspect < dstAspect {
		// Source is taller, crop vertically
		newH := int(float64(srcW) / dstAspect)
		return Rect{Y: (srcH - newH) / 2, W: srcW, H: newH}
	}
	return Rect{W: srcW, H: srcH}
}

// destinationRegion shrinks dst to the letterboxed area for ScaleModeFit.
func destinationRegion(srcW, srcH int, dst Rect, mode ScaleMode) Rect {
	if mode != ScaleModeFit || srcW <= 0 || srcH <= 0 {
		return dst
	}
	w, h := CalculateScaledSize(srcW, srcH, dst.W, dst.H, mode)
	w, h = min(w, dst.W), min(h, dst.H)
	return Rect{X: dst.X + (dst.W-w)/2, Y: dst.Y + (dst.H-h)/2, W: w, H: h}
}

// planeMask decides per destination pixel whether it is painted.
type planeMask func(x, y int) bool

// drawPlane scales src[srcRect] into dst[dstRect] using bilinear
// interpolation. Only pixels inside clip are written. mirror flips the
// image horizontally within dstRect.
func drawPlane(dst []byte, dstStride int, clip, dstRect Rect,
	src []byte, srcStride int, srcRect Rect, mirror bool, mask planeMask) {

	if srcRect.Empty() || dstRect.Empty() {
		return
	}
	area := dstRect.Intersect(clip)
	if area.Empty() {
		return
	}

	// Fixed-point scaling factors (16.16)
	xRatio := (srcRect.W << 16) / dstRect.W
	yRatio := (srcRect.H << 16) / dstRect.H

	for y := area.Y; y < area.Y+area.H; y++ {
		srcYFP := (y - dstRect.Y) * yRatio
		y0 := srcYFP>>16 + srcRect.Y
		y1 := y0 + 1
		if y1 >= srcRect.Y+srcRect.H {
			y1 = y0
		}
		yWeight := srcYFP & 0xFFFF
		row0 := y0 * srcStride
		row1 := y1 * srcStride
		out := dst[y*dstStride:]

		for x := area.X; x < area.X+area.W; x++ {
			if mask != nil && !mask(x, y) {
				continue
			}
			lx := x - dstRect.X
			if mirror {
				lx = dstRect.W - 1 - lx
			}
			srcXFP := lx * xRatio
			x0 := srcXFP>>16 + srcRect.X
			x1 := x0 + 1
			if x1 >= srcRect.X+srcRect.W {
				x1 = x0
			}
			xWeight := srcXFP & 0xFFFF

			p00 := int(src[row0+x0])
			p10 := int(src[row0+x1])
			p01 := int(src[row1+x0])
			p11 := int(src[row1+x1])

			top := (p00*(0x10000-xWeight) + p10*xWeight) >> 16
			bottom := (p01*(0x10000-xWeight) + p11*xWeight) >> 16
			out[x] = byte((top*(0x10000-yWeight) + bottom*yWeight) >> 16)
		}
	}
}

// CalculateScaledSize returns the output dimensions when scaling with a given mode.
// This is useful for determining letterbox dimensions in ScaleModeFit.
func CalculateScaledSize(srcW, srcH, maxW, maxH int, mode ScaleMode) (w, h int) {
	switch mode {
	case ScaleModeFit:
		srcAspect := float64(srcW) / float64(srcH)
		dstAspect := float64(maxW) / float64(maxH)

		if srcAspect > dstAspect {
			w = maxW
			h = int(float64(maxW) / srcAspect)
		} else {
			h = maxH
			w = int(float64(maxH) * srcAspect)
		}
		// Even dimensions for YUV
		w = (w + 1) &^ 1
		h = (h + 1) &^ 1
		return w, h

	default:
		return maxW, maxH
	}
}

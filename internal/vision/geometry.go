// Package vision holds the image-space types and capability contracts shared
// by the frame pipeline and its stages.
package vision

import (
	"image"
	"math"
)

// Point is an image-space coordinate in pixels.
type Point struct {
	X, Y float64
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Cross returns the z component of the 2D cross product p × q.
func (p Point) Cross(q Point) float64 { return p.X*q.Y - p.Y*q.X }

// BBox is an axis-aligned box in pixel coordinates, (X1,Y1) top-left and
// (X2,Y2) bottom-right.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

func (b BBox) Width() float64  { return b.X2 - b.X1 }
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Area is zero for empty or inverted boxes.
func (b BBox) Area() float64 {
	if b.Empty() {
		return 0
	}
	return b.Width() * b.Height()
}

// Empty reports whether the box has no positive extent.
func (b BBox) Empty() bool { return b.X2 <= b.X1 || b.Y2 <= b.Y1 }

// Center returns the box midpoint.
func (b BBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Contains reports whether p lies inside b, edges included.
func (b BBox) Contains(p Point) bool {
	return b.X1 <= p.X && p.X <= b.X2 && b.Y1 <= p.Y && p.Y <= b.Y2
}

// Intersection returns the area shared by a and b.
func (b BBox) Intersection(o BBox) float64 {
	ix1 := math.Max(b.X1, o.X1)
	iy1 := math.Max(b.Y1, o.Y1)
	ix2 := math.Min(b.X2, o.X2)
	iy2 := math.Min(b.Y2, o.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	return (ix2 - ix1) * (iy2 - iy1)
}

// IoU returns intersection over union, zero when both boxes are empty.
func (b BBox) IoU(o BBox) float64 {
	inter := b.Intersection(o)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Translate shifts the box by (dx, dy).
func (b BBox) Translate(dx, dy float64) BBox {
	return BBox{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// Expand grows the box by padding × width/height on each side, truncates to
// whole pixels and clips to bounds. ok is false when the result is degenerate.
func (b BBox) Expand(padding float64, bounds image.Rectangle) (image.Rectangle, bool) {
	padW := b.Width() * padding
	padH := b.Height() * padding
	x1 := max(bounds.Min.X, int(b.X1-padW))
	y1 := max(bounds.Min.Y, int(b.Y1-padH))
	x2 := min(bounds.Max.X, int(b.X2+padW))
	y2 := min(bounds.Max.Y, int(b.Y2+padH))
	if x2 <= x1 || y2 <= y1 {
		return image.Rectangle{}, false
	}
	return image.Rect(x1, y1, x2, y2), true
}

// Rect converts the box to an integer rectangle by truncation.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// BBoxFromRect converts an integer rectangle to a BBox.
func BBoxFromRect(r image.Rectangle) BBox {
	return BBox{X1: float64(r.Min.X), Y1: float64(r.Min.Y), X2: float64(r.Max.X), Y2: float64(r.Max.Y)}
}

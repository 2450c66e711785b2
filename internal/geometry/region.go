package geometry

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// Region is a board quadrilateral in image coordinates. Corners are ordered
// clockwise from the top-left: TL, TR, BR, BL.
type Region struct {
	Corners [4]image.Point `json:"corners"`
}

// ErrDegenerate is returned for quadrilaterals that cannot hold a board.
var ErrDegenerate = errors.New("degenerate region")

// NewRegion orders four arbitrary points into a Region.
func NewRegion(pts []image.Point) (Region, error) {
	if len(pts) != 4 {
		return Region{}, fmt.Errorf("expected 4 corners, got %d", len(pts))
	}
	ordered := OrderCorners(pts)
	r := Region{Corners: ordered}
	if r.Area() < 1 {
		return Region{}, ErrDegenerate
	}
	seen := make(map[image.Point]bool, 4)
	for _, p := range ordered {
		if seen[p] {
			return Region{}, ErrDegenerate
		}
		seen[p] = true
	}
	return r, nil
}

// RectRegion returns the axis-aligned region covering rect.
func RectRegion(rect image.Rectangle) Region {
	return Region{Corners: [4]image.Point{
		{rect.Min.X, rect.Min.Y},
		{rect.Max.X, rect.Min.Y},
		{rect.Max.X, rect.Max.Y},
		{rect.Min.X, rect.Max.Y},
	}}
}

// OrderCorners sorts four points as TL, TR, BR, BL. TL has the smallest
// x+y, BR the largest; TR has the largest x-y, BL the smallest.
func OrderCorners(pts []image.Point) [4]image.Point {
	var out [4]image.Point
	if len(pts) < 4 {
		copy(out[:], pts)
		return out
	}
	tl, br, tr, bl := pts[0], pts[0], pts[0], pts[0]
	for _, p := range pts[1:] {
		if p.X+p.Y < tl.X+tl.Y {
			tl = p
		}
		if p.X+p.Y > br.X+br.Y {
			br = p
		}
		if p.X-p.Y > tr.X-tr.Y {
			tr = p
		}
		if p.X-p.Y < bl.X-bl.Y {
			bl = p
		}
	}
	out[0], out[1], out[2], out[3] = tl, tr, br, bl
	return out
}

// Area is the shoelace area of the quadrilateral.
func (r Region) Area() float64 {
	sum := 0
	for i := 0; i < 4; i++ {
		a, b := r.Corners[i], r.Corners[(i+1)%4]
		sum += a.X*b.Y - b.X*a.Y
	}
	return math.Abs(float64(sum)) / 2
}

// Bounds returns the axis-aligned bounding box.
func (r Region) Bounds() image.Rectangle {
	rect := image.Rectangle{Min: r.Corners[0], Max: r.Corners[0]}
	for _, p := range r.Corners[1:] {
		rect.Min.X = min(rect.Min.X, p.X)
		rect.Min.Y = min(rect.Min.Y, p.Y)
		rect.Max.X = max(rect.Max.X, p.X)
		rect.Max.Y = max(rect.Max.Y, p.Y)
	}
	return rect
}

// Aspect returns the ratio of the mean horizontal edge length to the mean
// vertical edge length.
func (r Region) Aspect() float64 {
	c := r.Corners
	w := (dist(c[0], c[1]) + dist(c[3], c[2])) / 2
	h := (dist(c[0], c[3]) + dist(c[1], c[2])) / 2
	if h == 0 {
		return 0
	}
	return w / h
}

// CellCenter maps the centre of grid cell (row, col) back to image
// coordinates.
func (r Region) CellCenter(row, col int) (image.Point, error) {
	h, err := r.Homography(8)
	if err != nil {
		return image.Point{}, err
	}
	x, y := h.Apply(float64(col)+0.5, float64(row)+0.5)
	return image.Pt(int(math.Round(x)), int(math.Round(y))), nil
}

func (r Region) String() string {
	c := r.Corners
	return fmt.Sprintf("[%v %v %v %v]", c[0], c[1], c[2], c[3])
}

func dist(a, b image.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

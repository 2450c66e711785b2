package vision

import (
	"image"
	"sort"

	"github.com/thyrook/boardsight/internal/geometry"
)

// FullFrameFinder proposes the whole image, which is the right answer when
// the capture region was already cropped to the board.
type FullFrameFinder struct{}

func (FullFrameFinder) Name() string { return "full-frame" }

func (FullFrameFinder) Candidates(img image.Image) ([]geometry.Region, error) {
	return []geometry.Region{geometry.RectRegion(img.Bounds())}, nil
}

// MarginFinder trims a uniform background from around the board. It
// catches boards on plain page backgrounds where the outline is too faint
// for the edge detector.
type MarginFinder struct {
	// Tolerance is the luminance difference from the background that
	// counts as foreground.
	Tolerance uint8
}

func (MarginFinder) Name() string { return "margin" }

func (f MarginFinder) Candidates(img image.Image) ([]geometry.Region, error) {
	gray := geometry.ToGray(img)
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	if w < 16 || h < 16 {
		return nil, nil
	}
	tol := f.Tolerance
	if tol == 0 {
		tol = 12
	}

	bg := borderMedian(gray)
	differs := func(x, y int) bool {
		v := gray.Pix[y*gray.Stride+x]
		if v > bg {
			return v-bg > tol
		}
		return bg-v > tol
	}

	rowHit := func(y int) bool {
		n := 0
		for x := 0; x < w; x++ {
			if differs(x, y) {
				n++
			}
		}
		return n*8 > w
	}
	colHit := func(x int) bool {
		n := 0
		for y := 0; y < h; y++ {
			if differs(x, y) {
				n++
			}
		}
		return n*8 > h
	}

	top, bottom, left, right := 0, h-1, 0, w-1
	for top < h && !rowHit(top) {
		top++
	}
	for bottom > top && !rowHit(bottom) {
		bottom--
	}
	for left < w && !colHit(left) {
		left++
	}
	for right > left && !colHit(right) {
		right--
	}
	if top >= bottom || left >= right {
		return nil, nil
	}

	rect := image.Rect(left, top, right+1, bottom+1).Add(img.Bounds().Min)
	return []geometry.Region{geometry.RectRegion(rect)}, nil
}

func borderMedian(gray *image.Gray) uint8 {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	vals := make([]int, 0, 2*(w+h))
	for x := 0; x < w; x++ {
		vals = append(vals, int(gray.Pix[x]), int(gray.Pix[(h-1)*gray.Stride+x]))
	}
	for y := 0; y < h; y++ {
		vals = append(vals, int(gray.Pix[y*gray.Stride]), int(gray.Pix[y*gray.Stride+w-1]))
	}
	sort.Ints(vals)
	return uint8(vals[len(vals)/2])
}

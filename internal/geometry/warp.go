package geometry

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// ToRGBA returns img as an *image.RGBA with a zero origin, copying only when
// needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// ToGray converts img to 8-bit luminance with its origin at zero.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// Warp de-skews the region of img into a size x size image using bilinear
// sampling. Pixels that map outside the source are black.
func Warp(img image.Image, region Region, size int) (*image.RGBA, error) {
	h, err := region.Homography(size)
	if err != nil {
		return nil, err
	}
	src := ToRGBA(img)
	origin := img.Bounds().Min
	dst := image.NewRGBA(image.Rect(0, 0, size, size))

	for v := 0; v < size; v++ {
		for u := 0; u < size; u++ {
			x, y := h.Apply(float64(u)+0.5, float64(v)+0.5)
			c := bilinear(src, x-float64(origin.X)-0.5, y-float64(origin.Y)-0.5)
			off := dst.PixOffset(u, v)
			dst.Pix[off+0] = c.R
			dst.Pix[off+1] = c.G
			dst.Pix[off+2] = c.B
			dst.Pix[off+3] = c.A
		}
	}
	return dst, nil
}

func bilinear(src *image.RGBA, x, y float64) color.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if x < -0.5 || y < -0.5 || x > float64(w)-0.5 || y > float64(h)-0.5 {
		return color.RGBA{A: 0xff}
	}
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	at := func(px, py int) [4]float64 {
		px = clampInt(px, 0, w-1)
		py = clampInt(py, 0, h-1)
		off := src.PixOffset(px, py)
		p := src.Pix[off : off+4 : off+4]
		return [4]float64{float64(p[0]), float64(p[1]), float64(p[2]), float64(p[3])}
	}

	c00, c10 := at(x0, y0), at(x0+1, y0)
	c01, c11 := at(x0, y0+1), at(x0+1, y0+1)
	var out [4]uint8
	for i := 0; i < 4; i++ {
		top := c00[i]*(1-fx) + c10[i]*fx
		bot := c01[i]*(1-fx) + c11[i]*fx
		out[i] = uint8(math.Round(top*(1-fy) + bot*fy))
	}
	return color.RGBA{out[0], out[1], out[2], out[3]}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

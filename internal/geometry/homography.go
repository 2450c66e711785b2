package geometry

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 projective transform stored row-major with h[8] = 1.
type Homography [9]float64

// Homography returns the transform taking the square [0,size]x[0,size] to
// the region, so a de-skewed pixel (u, v) is sampled at Apply(u, v).
func (r Region) Homography(size int) (Homography, error) {
	s := float64(size)
	dst := [4][2]float64{{0, 0}, {s, 0}, {s, s}, {0, s}}

	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		u, v := dst[i][0], dst[i][1]
		x, y := float64(r.Corners[i].X), float64(r.Corners[i].Y)
		a.SetRow(2*i, []float64{u, v, 1, 0, 0, 0, -u * x, -v * x})
		a.SetRow(2*i+1, []float64{0, 0, 0, u, v, 1, -u * y, -v * y})
		b.SetVec(2*i, x)
		b.SetVec(2*i+1, y)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return Homography{}, fmt.Errorf("solve homography: %w", err)
	}

	var h Homography
	for i := 0; i < 8; i++ {
		h[i] = sol.AtVec(i)
	}
	h[8] = 1
	return h, nil
}

// Apply maps (u, v) through the transform.
func (h Homography) Apply(u, v float64) (float64, float64) {
	w := h[6]*u + h[7]*v + h[8]
	if w == 0 {
		w = 1e-12
	}
	x := (h[0]*u + h[1]*v + h[2]) / w
	y := (h[3]*u + h[4]*v + h[5]) / w
	return x, y
}

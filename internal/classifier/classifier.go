// Package classifier provides piece classifiers for board cell images.
package classifier

import (
	"context"
	"image"

	"github.com/thyrook/boardsight/internal/board"
	"golang.org/x/image/draw"
)

// Classifier labels a single cell image with a piece and a confidence in
// [0,1]. Implementations are safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, patch image.Image) (board.Piece, float64, error)
}

// grayVector scales patch to side x side and returns luminance in [0,1],
// row-major.
func grayVector(patch image.Image, side int) []float64 {
	gray := image.NewGray(image.Rect(0, 0, side, side))
	draw.BiLinear.Scale(gray, gray.Bounds(), patch, patch.Bounds(), draw.Src, nil)

	out := make([]float64, side*side)
	for i, v := range gray.Pix {
		out[i] = float64(v) / 255
	}
	return out
}

// argmax returns the index and value of the largest element.
func argmax(v []float64) (int, float64) {
	best, bestVal := 0, v[0]
	for i, x := range v[1:] {
		if x > bestVal {
			best, bestVal = i+1, x
		}
	}
	return best, bestVal
}

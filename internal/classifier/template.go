package classifier

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/thyrook/boardsight/internal/board"
	"gonum.org/v1/gonum/stat"
)

// Template matching defaults.
const (
	DefaultTemplateSide = 32
	// emptyStdDev is the luminance spread (0..1) below which a patch is
	// plain square colour.
	emptyStdDev = 0.025
	// brightnessWeight penalizes templates whose mean brightness differs
	// from the patch, which separates White from Black pieces of the same
	// shape.
	brightnessWeight = 1.5
)

type template struct {
	piece  board.Piece
	name   string
	pixels []float64
	mean   float64
	std    float64
}

// TemplateClassifier matches cells against reference images by normalized
// cross-correlation.
type TemplateClassifier struct {
	side      int
	mu        sync.RWMutex
	templates []template
}

// NewTemplateClassifier creates an empty classifier working at side x side.
func NewTemplateClassifier(side int) *TemplateClassifier {
	if side <= 0 {
		side = DefaultTemplateSide
	}
	return &TemplateClassifier{side: side}
}

// LoadTemplateDir loads every PNG/JPEG in dir. The file name up to the
// first '_' or '.' is the label code: "wK.png", "bP_light.png",
// "empty_dark.png".
func LoadTemplateDir(dir string, side int) (*TemplateClassifier, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read template dir: %w", err)
	}

	tc := NewTemplateClassifier(side)
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".png" && ext != ".jpg" && ext != ".jpeg") {
			continue
		}
		code := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if i := strings.IndexByte(code, '_'); i >= 0 {
			code = code[:i]
		}
		piece, err := board.ParsePiece(code)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", e.Name(), err)
		}

		img, err := decodeFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		tc.Add(piece, e.Name(), img)
	}

	if tc.Len() == 0 {
		return nil, fmt.Errorf("no templates found in %s", dir)
	}
	return tc, nil
}

// Add registers a reference image for piece.
func (tc *TemplateClassifier) Add(piece board.Piece, name string, img image.Image) {
	pixels := grayVector(img, tc.side)
	mean, std := stat.PopMeanStdDev(pixels, nil)

	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.templates = append(tc.templates, template{
		piece:  piece,
		name:   name,
		pixels: pixels,
		mean:   mean,
		std:    std,
	})
}

// Len returns the number of templates.
func (tc *TemplateClassifier) Len() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.templates)
}

// Classify returns the best matching template's piece.
func (tc *TemplateClassifier) Classify(ctx context.Context, patch image.Image) (board.Piece, float64, error) {
	if err := ctx.Err(); err != nil {
		return board.Empty, 0, err
	}

	pixels := grayVector(patch, tc.side)
	mean, std := stat.PopMeanStdDev(pixels, nil)
	if std < emptyStdDev {
		return board.Empty, 1 - 0.5*std/emptyStdDev, nil
	}

	tc.mu.RLock()
	defer tc.mu.RUnlock()
	if len(tc.templates) == 0 {
		return board.Empty, 0, fmt.Errorf("no templates loaded")
	}

	bestPiece := board.Empty
	bestScore := math.Inf(-1)
	for _, t := range tc.templates {
		score := ncc(pixels, mean, std, t) - brightnessWeight*math.Abs(mean-t.mean)
		if score > bestScore {
			bestScore = score
			bestPiece = t.piece
		}
	}
	return bestPiece, math.Max(0, math.Min(1, bestScore)), nil
}

// ncc is the zero-mean normalized cross-correlation in [-1,1].
func ncc(pixels []float64, mean, std float64, t template) float64 {
	if std == 0 || t.std == 0 {
		return 0
	}
	sum := 0.0
	for i, v := range pixels {
		sum += (v - mean) * (t.pixels[i] - t.mean)
	}
	return sum / (float64(len(pixels)) * std * t.std)
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

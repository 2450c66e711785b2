package vision

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/thyrook/boardsight/internal/board"
	"github.com/thyrook/boardsight/internal/geometry"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.PatchSize != 64 {
		t.Errorf("Expected patch size 64, got %d", config.PatchSize)
	}

	if config.Workers < 1 {
		t.Errorf("Invalid workers: %d", config.Workers)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Default config validation failed: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		expectErr bool
	}{
		{
			name:      "Valid config",
			modifyFn:  func(c *Config) {},
			expectErr: false,
		},
		{
			name: "Even blur kernel",
			modifyFn: func(c *Config) {
				c.BlurKernel = 4
			},
			expectErr: true,
		},
		{
			name: "Inverted canny thresholds",
			modifyFn: func(c *Config) {
				c.CannyLow, c.CannyHigh = 150, 50
			},
			expectErr: true,
		},
		{
			name: "Invalid patch size",
			modifyFn: func(c *Config) {
				c.PatchSize = 0
			},
			expectErr: true,
		},
		{
			name: "Invalid confidence",
			modifyFn: func(c *Config) {
				c.ConfidenceMin = 2.0
			},
			expectErr: true,
		},
		{
			name: "Invalid min score",
			modifyFn: func(c *Config) {
				c.MinScore = -0.1
			},
			expectErr: true,
		},
		{
			name: "No workers",
			modifyFn: func(c *Config) {
				c.Workers = 0
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modifyFn(config)

			err := config.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}

// paddedBoard draws an 8x8 checkerboard of side size at offset on a
// uniform background.
func paddedBoard(w, h int, offset image.Point, size int, bg uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.Gray{Y: bg})
		}
	}
	cell := size / 8
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8(70)
			if (x/cell+y/cell)%2 == 0 {
				v = 235
			}
			img.Set(offset.X+x, offset.Y+y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func nearRegion(t *testing.T, got geometry.Region, want image.Rectangle, tol int) {
	t.Helper()
	expected := geometry.RectRegion(want)
	for i := range got.Corners {
		d := got.Corners[i].Sub(expected.Corners[i])
		if d.X < -tol || d.X > tol || d.Y < -tol || d.Y > tol {
			t.Errorf("corner %d: Expected %v, got %v", i, expected.Corners[i], got.Corners[i])
		}
	}
}

func TestLocateBlankImage(t *testing.T) {
	blank := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for i := range blank.Pix {
		blank.Pix[i] = 200
	}

	localizer := NewLocalizer(DefaultConfig(), nil, MarginFinder{}, FullFrameFinder{})
	_, err := localizer.Locate(blank)
	if !errors.Is(err, ErrBoardNotFound) {
		t.Errorf("Expected ErrBoardNotFound, got %v", err)
	}
}

func TestLocateTightCrop(t *testing.T) {
	img := paddedBoard(400, 400, image.Point{}, 400, 0)

	localizer := NewLocalizer(DefaultConfig(), nil, FullFrameFinder{})
	det, err := localizer.Locate(img)
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	nearRegion(t, det.Region, image.Rect(0, 0, 400, 400), 0)
	if det.Fit.Score < 0.9 {
		t.Errorf("Expected a high fit score, got %.3f", det.Fit.Score)
	}
}

func TestLocatePaddedBoard(t *testing.T) {
	img := paddedBoard(640, 520, image.Pt(120, 60), 400, 150)

	localizer := NewLocalizer(DefaultConfig(), nil, MarginFinder{}, FullFrameFinder{})
	det, err := localizer.Locate(img)
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if det.Finder != "margin" {
		t.Errorf("Expected margin finder to win, got %s", det.Finder)
	}
	nearRegion(t, det.Region, image.Rect(120, 60, 520, 460), 1)
}

func TestMarginFinderSubImage(t *testing.T) {
	full := geometry.ToGray(paddedBoard(640, 520, image.Pt(120, 60), 400, 150))
	sub := full.SubImage(image.Rect(100, 40, 540, 480)).(*image.Gray)

	regions, err := MarginFinder{}.Candidates(sub)
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("Expected 1 region, got %d", len(regions))
	}
	nearRegion(t, regions[0], image.Rect(120, 60, 520, 460), 1)
}

func TestContourFinder(t *testing.T) {
	img := paddedBoard(640, 520, image.Pt(120, 60), 400, 150)

	finder := NewContourFinder(DefaultConfig())
	regions, err := finder.Candidates(img)
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}

	want := geometry.RectRegion(image.Rect(120, 60, 520, 460))
	for _, r := range regions {
		ok := true
		for i := range r.Corners {
			d := r.Corners[i].Sub(want.Corners[i])
			if d.X < -6 || d.X > 6 || d.Y < -6 || d.Y > 6 {
				ok = false
			}
		}
		if ok {
			return
		}
	}
	t.Errorf("No candidate near %v among %v", want, regions)
}

// gridClassifier reads the cell coordinates encoded in the centre pixel.
type gridClassifier struct{}

func (gridClassifier) Classify(ctx context.Context, patch image.Image) (board.Piece, float64, error) {
	b := patch.Bounds()
	r, g, _, _ := patch.At((b.Min.X+b.Max.X)/2, (b.Min.Y+b.Max.Y)/2).RGBA()
	row, col := int(r>>8)/32, int(g>>8)/32
	if row == col {
		return board.WhiteQueen, 0.1, nil
	}
	return board.Piece((row*8+col)%board.NumPieces), 0.9, nil
}

type failingClassifier struct{}

func (failingClassifier) Classify(ctx context.Context, patch image.Image) (board.Piece, float64, error) {
	return board.Empty, 0, errors.New("model unavailable")
}

func coordinateImage(patch int) *image.RGBA {
	size := patch * 8
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{uint8((y/patch)*32 + 16), uint8((x/patch)*32 + 16), 0, 255})
		}
	}
	return img
}

func TestSamplerOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PatchSize = 32
	cfg.Workers = 5
	img := coordinateImage(cfg.PatchSize)

	sampler := NewSampler(cfg, gridClassifier{}, nil)
	raw, stats, err := sampler.Sample(context.Background(), img, geometry.RectRegion(img.Bounds()))
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	for r := 0; r < 8; r++ {
		for c := 0; c < 8; c++ {
			label := raw.At(r, c)
			if r == c {
				if label.Piece != board.Empty || !label.LowConfidence {
					t.Errorf("cell (%d,%d): Expected low-confidence empty, got %+v", r, c, label)
				}
				continue
			}
			want := board.Piece((r*8 + c) % board.NumPieces)
			if label.Piece != want {
				t.Errorf("cell (%d,%d): Expected %v, got %v", r, c, want, label.Piece)
			}
		}
	}
	if stats.LowConfidence != 8 {
		t.Errorf("Expected 8 low-confidence cells, got %d", stats.LowConfidence)
	}
}

func TestSamplerClassifierErrorsDoNotAbort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PatchSize = 16
	img := coordinateImage(cfg.PatchSize)

	sampler := NewSampler(cfg, failingClassifier{}, nil)
	raw, stats, err := sampler.Sample(context.Background(), img, geometry.RectRegion(img.Bounds()))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if stats.Errors != 64 {
		t.Errorf("Expected 64 errors, got %d", stats.Errors)
	}
	if raw.LowConfidenceCount() != 64 {
		t.Errorf("Expected every cell flagged, got %d", raw.LowConfidenceCount())
	}
}

func TestSamplerCancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PatchSize = 16
	img := coordinateImage(cfg.PatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sampler := NewSampler(cfg, gridClassifier{}, nil)
	if _, _, err := sampler.Sample(ctx, img, geometry.RectRegion(img.Bounds())); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

package vision

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"sync"

	"github.com/kbinani/screenshot"
	"gocv.io/x/gocv"
)

// ScreenSource captures a fixed screen region on every call.
type ScreenSource struct {
	region  image.Rectangle
	display int
	mu      sync.Mutex
}

// NewScreenSource creates a screen source. An empty region means the whole
// display.
func NewScreenSource(region CaptureRegion, display int) *ScreenSource {
	var rect image.Rectangle
	if !region.Empty() {
		rect = region.ToRectangle()
	}
	return &ScreenSource{region: rect, display: display}
}

// Capture grabs the current screen contents.
func (s *ScreenSource) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rect := s.region
	if rect.Empty() {
		if n := screenshot.NumActiveDisplays(); s.display >= n {
			return nil, fmt.Errorf("display %d not available (%d active)", s.display, n)
		}
		rect = screenshot.GetDisplayBounds(s.display)
	}

	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screen: %w", err)
	}
	return img, nil
}

// FileSource decodes the same image file on every call, so edits to the
// file between cycles are picked up.
type FileSource struct {
	path string
}

// NewFileSource creates a source backed by a PNG or JPEG file.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Capture reads and decodes the file.
func (s *FileSource) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadImage(s.path)
}

// LoadImage decodes a PNG or JPEG file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// SavePNG writes img to path.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return f.Close()
}

// imageToMat converts image.Image to a BGRA gocv.Mat
func imageToMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	data := make([]byte, 0, width*height*4)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			data = append(data, uint8(b>>8), uint8(g>>8), uint8(r>>8), uint8(a>>8))
		}
	}

	return gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC4, data)
}

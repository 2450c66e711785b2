package vision

import (
	"fmt"
	"image"
	"runtime"
)

// Config holds capture, localization and sampling settings.
type Config struct {
	// Screen capture settings. A zero-sized region captures the whole display.
	CaptureRegion CaptureRegion `json:"capture_region"`
	Display       int           `json:"display"`

	// Board localization settings
	BlurKernel      int     `json:"blur_kernel"`       // Gaussian kernel, odd, 0 disables
	CannyLow        float32 `json:"canny_low"`         // Lower hysteresis threshold
	CannyHigh       float32 `json:"canny_high"`        // Upper hysteresis threshold
	MinAreaFraction float64 `json:"min_area_fraction"` // Smallest candidate as share of the image
	MinScore        float64 `json:"min_score"`         // Checker fit needed to accept a board
	ScoreSize       int     `json:"score_size"`        // De-skew size used for scoring

	// Grid sampling settings
	PatchSize     int     `json:"patch_size"`     // Pixels per cell after de-skew
	ConfidenceMin float64 `json:"confidence_min"` // Below this a cell is forced to Empty
	Workers       int     `json:"workers"`        // Concurrent classifier calls
}

// CaptureRegion defines the screen area to capture
type CaptureRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ToRectangle converts CaptureRegion to image.Rectangle
func (cr CaptureRegion) ToRectangle() image.Rectangle {
	return image.Rect(cr.X, cr.Y, cr.X+cr.Width, cr.Y+cr.Height)
}

// Empty reports whether the region is unset.
func (cr CaptureRegion) Empty() bool {
	return cr.Width <= 0 || cr.Height <= 0
}

// DefaultConfig returns default vision configuration
func DefaultConfig() *Config {
	return &Config{
		BlurKernel:      5,
		CannyLow:        50,
		CannyHigh:       150,
		MinAreaFraction: 0.05,
		MinScore:        0.5,
		ScoreSize:       256,
		PatchSize:       64,
		ConfidenceMin:   0.5,
		Workers:         runtime.NumCPU(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.CaptureRegion.Width < 0 || c.CaptureRegion.Height < 0 {
		return fmt.Errorf("invalid capture region dimensions")
	}

	if c.BlurKernel < 0 || (c.BlurKernel > 0 && c.BlurKernel%2 == 0) {
		return fmt.Errorf("invalid blur kernel: %d (must be 0 or odd)", c.BlurKernel)
	}

	if c.CannyLow <= 0 || c.CannyHigh <= c.CannyLow {
		return fmt.Errorf("invalid canny thresholds: %.0f/%.0f", c.CannyLow, c.CannyHigh)
	}

	if c.MinAreaFraction <= 0 || c.MinAreaFraction > 1 {
		return fmt.Errorf("invalid min area fraction: %f (must be 0-1)", c.MinAreaFraction)
	}

	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("invalid min score: %f (must be 0-1)", c.MinScore)
	}

	if c.ScoreSize < 64 || c.ScoreSize > 1024 {
		return fmt.Errorf("invalid score size: %d (must be 64-1024)", c.ScoreSize)
	}

	if c.PatchSize < 8 || c.PatchSize > 256 {
		return fmt.Errorf("invalid patch size: %d (must be 8-256)", c.PatchSize)
	}

	if c.ConfidenceMin < 0 || c.ConfidenceMin > 1 {
		return fmt.Errorf("invalid confidence minimum: %f (must be 0-1)", c.ConfidenceMin)
	}

	if c.Workers < 1 || c.Workers > 64 {
		return fmt.Errorf("invalid workers: %d (must be 1-64)", c.Workers)
	}

	return nil
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Vision Config:\n"+
			"  Capture Region: (%d,%d) %dx%d\n"+
			"  Canny: %.0f/%.0f  Blur: %d\n"+
			"  Min Area: %.2f  Min Score: %.2f\n"+
			"  Patch Size: %dpx\n"+
			"  Confidence Min: %.2f\n"+
			"  Workers: %d\n",
		c.CaptureRegion.X, c.CaptureRegion.Y,
		c.CaptureRegion.Width, c.CaptureRegion.Height,
		c.CannyLow, c.CannyHigh, c.BlurKernel,
		c.MinAreaFraction, c.MinScore,
		c.PatchSize,
		c.ConfidenceMin,
		c.Workers,
	)
}

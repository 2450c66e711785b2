package vision

import (
	"fmt"
	"image"

	"github.com/thyrook/boardsight/internal/geometry"
	"gocv.io/x/gocv"
)

// ContourFinder proposes quadrilaterals traced from the edge map.
type ContourFinder struct {
	blurKernel      int
	cannyLow        float32
	cannyHigh       float32
	minAreaFraction float64
}

// NewContourFinder creates a contour-based candidate finder
func NewContourFinder(cfg *Config) *ContourFinder {
	return &ContourFinder{
		blurKernel:      cfg.BlurKernel,
		cannyLow:        cfg.CannyLow,
		cannyHigh:       cfg.CannyHigh,
		minAreaFraction: cfg.MinAreaFraction,
	}
}

// Name identifies the finder in logs.
func (f *ContourFinder) Name() string { return "contour" }

// Candidates returns every four-cornered contour above the area floor.
func (f *ContourFinder) Candidates(img image.Image) ([]geometry.Region, error) {
	mat, err := imageToMat(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image to mat: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRAToGray)

	if f.blurKernel > 0 {
		blurred := gocv.NewMat()
		defer blurred.Close()
		gocv.GaussianBlur(gray, &blurred, image.Pt(f.blurKernel, f.blurKernel), 0, 0, gocv.BorderDefault)
		blurred.CopyTo(&gray)
	}

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, f.cannyLow, f.cannyHigh)

	// Close one-pixel gaps so the board outline forms a single contour.
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(edges, &dilated, kernel)

	contours := gocv.FindContours(dilated, gocv.RetrievalList, gocv.ChainApproxSimple)
	defer contours.Close()

	b := img.Bounds()
	minArea := f.minAreaFraction * float64(b.Dx()*b.Dy())
	offset := b.Min

	var regions []geometry.Region
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		if gocv.ContourArea(contour) < minArea {
			continue
		}

		perimeter := gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, 0.02*perimeter, true)
		pts := approx.ToPoints()
		approx.Close()
		if len(pts) != 4 {
			continue
		}

		for j := range pts {
			pts[j] = pts[j].Add(offset)
		}
		region, err := geometry.NewRegion(pts)
		if err != nil {
			continue
		}
		regions = append(regions, region)
	}
	return regions, nil
}

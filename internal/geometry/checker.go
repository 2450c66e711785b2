package geometry

import (
	"image"
	"math"

	"gonum.org/v1/gonum/stat"
)

// CheckerFit breaks down how well a de-skewed image matches an 8x8 board.
type CheckerFit struct {
	// Contrast is the normalized luminance gap between the two square colors.
	Contrast float64
	// Consistency is the share of cells whose brightness agrees with the
	// alternating pattern, rescaled so chance agreement is 0.
	Consistency float64
	// Lines measures how well gradient energy concentrates on the seven
	// internal grid lines and how evenly it is spread across them.
	Lines float64
	Score float64
}

// minContrast is the luminance gap (0..1) at which contrast stops limiting
// the score.
const minContrast = 0.08

// CheckerScore rates a square grayscale image as a checkerboard. Cell
// brightness is sampled near the cell corners, where pieces rarely reach.
func CheckerScore(gray *image.Gray) CheckerFit {
	gray = ToGray(gray)
	size := min(gray.Rect.Dx(), gray.Rect.Dy())
	cell := size / 8
	if cell < 4 {
		return CheckerFit{}
	}

	var means [64]float64
	for r := 0; r < 8; r++ {
		for c := 0; c < 8; c++ {
			means[r*8+c] = cornerMean(gray, c*cell, r*cell, cell)
		}
	}

	var even, odd []float64
	for i, m := range means {
		if (i/8+i%8)%2 == 0 {
			even = append(even, m)
		} else {
			odd = append(odd, m)
		}
	}
	meanEven := stat.Mean(even, nil)
	meanOdd := stat.Mean(odd, nil)
	contrast := math.Abs(meanEven-meanOdd) / 255
	mid := (meanEven + meanOdd) / 2

	agree := 0
	for i, m := range means {
		evenCell := (i/8+i%8)%2 == 0
		brighter := m > mid
		if brighter == (evenCell == (meanEven > meanOdd)) {
			agree++
		}
	}
	consistency := math.Max(0, 2*float64(agree)/64-1)

	lines := (lineFit(gray, cell, true) + lineFit(gray, cell, false)) / 2

	fit := CheckerFit{
		Contrast:    contrast,
		Consistency: consistency,
		Lines:       lines,
	}
	fit.Score = consistency * math.Min(1, contrast/minContrast) * (0.6 + 0.4*lines)
	return fit
}

// cornerMean averages four small boxes inset from the corners of a cell.
func cornerMean(gray *image.Gray, x0, y0, cell int) float64 {
	inset := max(1, cell/10)
	box := max(1, cell/7)
	sum, n := 0.0, 0
	for _, corner := range [4][2]int{
		{x0 + inset, y0 + inset},
		{x0 + cell - inset - box, y0 + inset},
		{x0 + inset, y0 + cell - inset - box},
		{x0 + cell - inset - box, y0 + cell - inset - box},
	} {
		for y := corner[1]; y < corner[1]+box; y++ {
			row := gray.Pix[(y-gray.Rect.Min.Y)*gray.Stride:]
			for x := corner[0]; x < corner[0]+box; x++ {
				sum += float64(row[x-gray.Rect.Min.X])
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// lineFit profiles gradient energy across columns (vertical=true) or rows
// and compares the energy at expected grid lines with the rest.
func lineFit(gray *image.Gray, cell int, vertical bool) float64 {
	size := cell * 8
	profile := make([]float64, size)
	for i := 1; i < size; i++ {
		sum := 0.0
		for j := 0; j < size; j++ {
			var a, b uint8
			if vertical {
				a, b = gray.GrayAt(gray.Rect.Min.X+i, gray.Rect.Min.Y+j).Y, gray.GrayAt(gray.Rect.Min.X+i-1, gray.Rect.Min.Y+j).Y
			} else {
				a, b = gray.GrayAt(gray.Rect.Min.X+j, gray.Rect.Min.Y+i).Y, gray.GrayAt(gray.Rect.Min.X+j, gray.Rect.Min.Y+i-1).Y
			}
			sum += math.Abs(float64(a) - float64(b))
		}
		profile[i] = sum / float64(size)
	}

	tol := max(1, cell/16)
	onLine := make([]bool, size)
	lineEnergy := make([]float64, 0, 7)
	for k := 1; k < 8; k++ {
		peak := 0.0
		for i := k*cell - tol; i <= k*cell+tol; i++ {
			if i <= 0 || i >= size {
				continue
			}
			onLine[i] = true
			peak = math.Max(peak, profile[i])
		}
		lineEnergy = append(lineEnergy, peak)
	}

	var off []float64
	for i := 1; i < size; i++ {
		if !onLine[i] {
			off = append(off, profile[i])
		}
	}

	lineMean, lineStd := stat.MeanStdDev(lineEnergy, nil)
	if lineMean == 0 {
		return 0
	}
	offMean := stat.Mean(off, nil)
	alignment := lineMean / (lineMean + offMean)
	uniformity := math.Max(0, 1-lineStd/lineMean)
	return alignment * uniformity
}

package vision

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/thyrook/boardsight/internal/geometry"
	"go.uber.org/zap"
)

// ErrBoardNotFound means no candidate looked enough like an 8x8 board.
var ErrBoardNotFound = errors.New("board not found")

// CandidateFinder proposes board quadrilaterals for scoring.
type CandidateFinder interface {
	Name() string
	Candidates(img image.Image) ([]geometry.Region, error)
}

// Detection is the accepted board region and how well it scored.
type Detection struct {
	Region     geometry.Region     `json:"region"`
	Fit        geometry.CheckerFit `json:"fit"`
	Finder     string              `json:"finder"`
	Candidates int                 `json:"candidates"`
}

// scoreTie is the score difference under which the larger area wins.
const scoreTie = 0.01

// Localizer picks the best-scoring board candidate in an image.
type Localizer struct {
	finders   []CandidateFinder
	minScore  float64
	scoreSize int
	logger    *zap.Logger
}

// NewLocalizer creates a localizer. With no finders it uses the contour,
// margin and full-frame finders in that order.
func NewLocalizer(cfg *Config, logger *zap.Logger, finders ...CandidateFinder) *Localizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(finders) == 0 {
		finders = []CandidateFinder{NewContourFinder(cfg), MarginFinder{}, FullFrameFinder{}}
	}
	return &Localizer{
		finders:   finders,
		minScore:  cfg.MinScore,
		scoreSize: cfg.ScoreSize,
		logger:    logger,
	}
}

// Locate returns the region of img most likely to be the board, or
// ErrBoardNotFound.
func (l *Localizer) Locate(img image.Image) (Detection, error) {
	b := img.Bounds()
	if b.Dx() < 16 || b.Dy() < 16 {
		return Detection{}, fmt.Errorf("%w: image too small (%dx%d)", ErrBoardNotFound, b.Dx(), b.Dy())
	}

	var best Detection
	var bestArea float64
	found := false
	total := 0
	seen := make(map[geometry.Region]bool)

	for _, finder := range l.finders {
		regions, err := finder.Candidates(img)
		if err != nil {
			l.logger.Warn("Candidate finder failed", zap.String("finder", finder.Name()), zap.Error(err))
			continue
		}

		for _, region := range regions {
			if seen[region] {
				continue
			}
			seen[region] = true
			total++

			aspect := region.Aspect()
			if aspect < 0.75 || aspect > 1.33 {
				continue
			}

			fit, err := l.score(img, region)
			if err != nil {
				l.logger.Debug("Candidate scoring failed", zap.Stringer("region", region), zap.Error(err))
				continue
			}

			area := region.Area()
			better := fit.Score > best.Fit.Score+scoreTie ||
				(math.Abs(fit.Score-best.Fit.Score) <= scoreTie && area > bestArea)
			if !found || better {
				best = Detection{Region: region, Fit: fit, Finder: finder.Name()}
				bestArea = area
				found = true
			}
		}
	}

	best.Candidates = total
	if !found || best.Fit.Score < l.minScore {
		return best, fmt.Errorf("%w: best score %.2f of %d candidates (need %.2f)",
			ErrBoardNotFound, best.Fit.Score, total, l.minScore)
	}

	l.logger.Debug("Board located",
		zap.Stringer("region", best.Region),
		zap.String("finder", best.Finder),
		zap.Float64("score", best.Fit.Score),
		zap.Int("candidates", total))
	return best, nil
}

func (l *Localizer) score(img image.Image, region geometry.Region) (geometry.CheckerFit, error) {
	warped, err := geometry.Warp(img, region, l.scoreSize)
	if err != nil {
		return geometry.CheckerFit{}, err
	}
	return geometry.CheckerScore(geometry.ToGray(warped)), nil
}

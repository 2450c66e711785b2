package vision

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/thyrook/boardsight/internal/board"
	"github.com/thyrook/boardsight/internal/geometry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PatchClassifier labels one de-skewed cell image. Implementations must be
// safe for concurrent use.
type PatchClassifier interface {
	Classify(ctx context.Context, patch image.Image) (board.Piece, float64, error)
}

// SampleStats summarizes one sampling pass.
type SampleStats struct {
	LowConfidence int           `json:"low_confidence"`
	Errors        int           `json:"errors"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Sampler cuts a located board into 64 cells and classifies each one.
type Sampler struct {
	classifier    PatchClassifier
	patchSize     int
	confidenceMin float64
	workers       int
	logger        *zap.Logger
}

// NewSampler creates a grid sampler
func NewSampler(cfg *Config, classifier PatchClassifier, logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Sampler{
		classifier:    classifier,
		patchSize:     cfg.PatchSize,
		confidenceMin: cfg.ConfidenceMin,
		workers:       workers,
		logger:        logger,
	}
}

// Cells de-skews the region and returns the 64 cell images in row-major
// image order. The patches share one backing image.
func (s *Sampler) Cells(img image.Image, region geometry.Region) ([board.Size * board.Size]image.Image, error) {
	var cells [board.Size * board.Size]image.Image
	warped, err := geometry.Warp(img, region, s.patchSize*board.Size)
	if err != nil {
		return cells, fmt.Errorf("failed to de-skew board: %w", err)
	}
	for i := range cells {
		r, c := i/board.Size, i%board.Size
		rect := image.Rect(c*s.patchSize, r*s.patchSize, (c+1)*s.patchSize, (r+1)*s.patchSize)
		cells[i] = warped.SubImage(rect)
	}
	return cells, nil
}

// Sample classifies every cell. A failed or unsure cell becomes Empty with
// LowConfidence set; only cancellation aborts the pass.
func (s *Sampler) Sample(ctx context.Context, img image.Image, region geometry.Region) (board.RawBoard, SampleStats, error) {
	start := time.Now()
	cells, err := s.Cells(img, region)
	if err != nil {
		return board.RawBoard{}, SampleStats{}, err
	}

	var labels [board.Size * board.Size]board.Label
	var errs [board.Size * board.Size]error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range cells {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			piece, conf, err := s.classifier.Classify(gctx, cells[i])
			if err != nil {
				errs[i] = err
				labels[i] = board.Label{Piece: board.Empty, LowConfidence: true}
				return nil
			}
			labels[i] = s.label(piece, conf)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return board.RawBoard{}, SampleStats{}, err
	}
	if err := ctx.Err(); err != nil {
		return board.RawBoard{}, SampleStats{}, err
	}

	stats := SampleStats{Elapsed: time.Since(start)}
	for i, err := range errs {
		if err != nil {
			stats.Errors++
			s.logger.Debug("Cell classification failed",
				zap.Int("row", i/board.Size), zap.Int("col", i%board.Size), zap.Error(err))
		}
		if labels[i].LowConfidence {
			stats.LowConfidence++
		}
	}

	if stats.Errors > 0 {
		s.logger.Warn("Some cells could not be classified", zap.Int("errors", stats.Errors))
	}
	return board.NewRawBoard(labels), stats, nil
}

func (s *Sampler) label(piece board.Piece, conf float64) board.Label {
	if !piece.Valid() || conf < s.confidenceMin {
		return board.Label{Piece: board.Empty, Confidence: conf, LowConfidence: true}
	}
	return board.Label{Piece: piece, Confidence: conf}
}

package classifier

import (
	"context"
	"image"

	"github.com/cespare/xxhash/v2"
	"github.com/thyrook/boardsight/internal/board"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// LabelStore persists labels by patch fingerprint.
type LabelStore interface {
	Get(key uint64) (board.Label, bool, error)
	Put(key uint64, label board.Label) error
}

// fingerprintSide is the downsample size hashed for the cache key. Small
// enough to absorb resampling noise between captures of a static board.
const fingerprintSide = 16

// Cached serves repeated cells from a store before asking the wrapped
// classifier.
type Cached struct {
	next   Classifier
	store  LabelStore
	logger *zap.Logger
}

// NewCached wraps next with store.
func NewCached(next Classifier, store LabelStore, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, store: store, logger: logger}
}

// Classify implements Classifier.
func (c *Cached) Classify(ctx context.Context, patch image.Image) (board.Piece, float64, error) {
	key := Fingerprint(patch)

	if label, ok, err := c.store.Get(key); err != nil {
		c.logger.Debug("Label cache read failed", zap.Error(err))
	} else if ok {
		return label.Piece, label.Confidence, nil
	}

	piece, conf, err := c.next.Classify(ctx, patch)
	if err != nil {
		return piece, conf, err
	}

	if err := c.store.Put(key, board.Label{Piece: piece, Confidence: conf}); err != nil {
		c.logger.Debug("Label cache write failed", zap.Error(err))
	}
	return piece, conf, nil
}

// Fingerprint hashes a coarse, quantized grayscale copy of the patch.
func Fingerprint(patch image.Image) uint64 {
	gray := image.NewGray(image.Rect(0, 0, fingerprintSide, fingerprintSide))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), patch, patch.Bounds(), draw.Src, nil)
	for i, v := range gray.Pix {
		gray.Pix[i] = v &^ 0x07
	}
	return xxhash.Sum64(gray.Pix)
}

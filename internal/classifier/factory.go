package classifier

import (
	"errors"
	"fmt"
	"time"

	"github.com/thyrook/boardsight/internal/storage"
	"go.uber.org/zap"
)

// Backend names accepted by New.
const (
	BackendTemplate = "template"
	BackendNet      = "net"
	BackendRemote   = "remote"
)

// Options selects a backend and its optional label cache.
type Options struct {
	Backend      string
	TemplateDir  string
	TemplateSide int
	ModelPath    string
	HiddenSize   int
	RemoteURL    string
	Timeout      time.Duration
	// CachePath enables the bbolt label cache when set.
	CachePath string
	CacheSize int
}

// New builds the configured classifier. The returned close func releases
// the model and the cache and is never nil.
func New(opts Options, logger *zap.Logger) (Classifier, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		c       Classifier
		closers []func() error
	)
	switch opts.Backend {
	case BackendTemplate, "":
		tc, err := LoadTemplateDir(opts.TemplateDir, opts.TemplateSide)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Template classifier loaded",
			zap.String("dir", opts.TemplateDir), zap.Int("templates", tc.Len()))
		c = tc
	case BackendNet:
		nc, err := NewNetClassifier(opts.ModelPath, opts.HiddenSize)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Patch network loaded", zap.String("model", opts.ModelPath))
		c = nc
		closers = append(closers, nc.Close)
	case BackendRemote:
		c = NewRemoteClassifier(opts.RemoteURL, opts.Timeout)
		logger.Info("Remote classifier configured", zap.String("url", opts.RemoteURL))
	default:
		return nil, nil, fmt.Errorf("unknown classifier backend %q", opts.Backend)
	}

	if opts.CachePath != "" {
		store, err := storage.NewPatchCache(opts.CachePath, opts.CacheSize)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("failed to open label cache: %w", err)
		}
		closers = append(closers, store.Close)
		c = NewCached(c, store, logger)
	}

	return c, func() error { return closeAll(closers) }, nil
}

func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

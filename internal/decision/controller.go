// Package decision runs the capture-to-report analysis cycle and keeps the
// session state that survives between cycles.
package decision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thyrook/boardsight/internal/board"
	"github.com/thyrook/boardsight/internal/engine"
	"github.com/thyrook/boardsight/internal/geometry"
	"github.com/thyrook/boardsight/internal/position"
	"github.com/thyrook/boardsight/internal/vision"
)

type Source interface {
	Capture(ctx context.Context) (image.Image, error)
}

type Locator interface {
	Locate(img image.Image) (vision.Detection, error)
}

type Sampler interface {
	Sample(ctx context.Context, img image.Image, region geometry.Region) (board.RawBoard, vision.SampleStats, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, req engine.Request) (engine.Result, error)
}

// Annotator draws the analysis over the captured image and returns where it
// was written.
type Annotator interface {
	Annotate(img image.Image, region geometry.Region, o board.Orientation, res engine.Result, name string) (string, error)
}

// Reporter receives every finished report, successful or not.
type Reporter interface {
	Publish(r Report)
}

// Components are the collaborators of one cycle. Annotator and Reporters
// are optional.
type Components struct {
	Source    Source
	Locator   Locator
	Sampler   Sampler
	Encoder   *position.Encoder
	Analyzer  Analyzer
	Annotator Annotator
	Reporters []Reporter
}

type Options struct {
	MinMargin      float64
	CaptureRetries int
	RetryDelay     time.Duration
	// Interval repeats cycles without a command when positive.
	Interval    time.Duration
	HistorySize int
}

func DefaultOptions() Options {
	return Options{
		MinMargin:      board.DefaultMinMargin,
		CaptureRetries: 3,
		RetryDelay:     100 * time.Millisecond,
		HistorySize:    32,
	}
}

// Controller is the analysis loop state machine.
type Controller struct {
	c       Components
	opts    Options
	logger  *zap.Logger
	history *History

	mu      sync.RWMutex
	session SessionState
	state   State

	// Statistics
	cycles         int
	completed      int
	failed         int
	failuresByKind map[string]int
	totalCycleTime time.Duration
}

func NewController(c Components, session SessionState, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.Encoder == nil {
		c.Encoder = position.NewEncoder()
	}
	if opts.CaptureRetries < 1 {
		opts.CaptureRetries = 1
	}
	return &Controller{
		c:              c,
		opts:           opts,
		logger:         logger,
		history:        NewHistory(opts.HistorySize),
		session:        session,
		failuresByKind: make(map[string]int),
	}
}

// Session returns a copy of the current session state.
func (ctl *Controller) Session() SessionState {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	return ctl.session
}

// Apply changes the session state. It must not be called while a cycle
// runs; Run guarantees that.
func (ctl *Controller) Apply(cmd Command) error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if err := ctl.session.Apply(cmd); err != nil {
		return err
	}
	ctl.logger.Info("Session updated",
		zap.Stringer("mode", ctl.session.Mode),
		zap.Stringer("strength", ctl.session.Strength))
	return nil
}

func (ctl *Controller) State() State {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	return ctl.state
}

func (ctl *Controller) History() *History {
	return ctl.history
}

// Run executes a cycle for every command and, when an interval is set, on
// every tick. Commands arriving during a cycle wait for it to finish. Run
// returns nil on a quit command or a closed channel and ctx.Err() on
// cancellation; cycle failures never end it.
func (ctl *Controller) Run(ctx context.Context, commands <-chan Command) error {
	var tick <-chan time.Time
	if ctl.opts.Interval > 0 {
		ticker := time.NewTicker(ctl.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-commands:
			if !ok || cmd.Action == ActionQuit {
				return nil
			}
			if err := ctl.Apply(cmd); err != nil {
				ctl.logger.Warn("Command rejected", zap.Error(err))
				continue
			}
		case <-tick:
		}
		ctl.RunCycle(ctx)
	}
}

// RunCycle performs one capture-to-report pass. It always ends in Idle and
// reports failures in the returned Report instead of returning an error.
func (ctl *Controller) RunCycle(ctx context.Context) Report {
	start := time.Now()
	rep := Report{
		Cycle:   uuid.NewString(),
		Started: start,
		Session: ctl.Session(),
	}
	logger := ctl.logger.With(zap.String("cycle", rep.Cycle))

	ctl.runStages(ctx, &rep, logger)

	rep.Elapsed = time.Since(start)
	ctl.record(rep)
	for _, r := range ctl.c.Reporters {
		r.Publish(rep)
	}
	ctl.enter(&rep, Idle)
	return rep
}

func (ctl *Controller) runStages(ctx context.Context, rep *Report, logger *zap.Logger) {
	ctl.enter(rep, Capturing)
	img, err := ctl.capture(ctx, logger)
	if err != nil {
		ctl.fail(rep, logger, KindCaptureFailed, err)
		return
	}

	ctl.enter(rep, Localizing)
	det, err := ctl.c.Locator.Locate(img)
	if err != nil {
		kind := KindLocalizeFailed
		if errors.Is(err, vision.ErrBoardNotFound) {
			kind = KindBoardNotFound
		}
		ctl.fail(rep, logger, kind, err)
		return
	}
	rep.Detection = &det

	ctl.enter(rep, Classifying)
	raw, stats, err := ctl.c.Sampler.Sample(ctx, img, det.Region)
	if err != nil {
		ctl.fail(rep, logger, KindClassifyFailed, err)
		return
	}
	rep.Raw = &raw
	rep.Sampling = &stats
	if stats.LowConfidence > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d low-confidence cells treated as empty", stats.LowConfidence))
	}

	ctl.enter(rep, Resolving)
	res := board.Resolve(raw, rep.Session.Mode, ctl.opts.MinMargin)
	rep.Resolution = &res
	if res.Ambiguous {
		rep.Warnings = append(rep.Warnings, "orientation ambiguous, assuming white at the bottom")
	}
	enc := ctl.c.Encoder.Encode(raw, res.Orientation)
	enc, fixes, err := position.Repair(enc)
	rep.Warnings = append(rep.Warnings, fixes...)
	if err != nil {
		logger.Debug("Position still invalid after repair", zap.Error(err))
	}
	rep.Position = &enc
	rep.FEN = enc.FEN()

	ctl.enter(rep, Analyzing)
	result, err := ctl.c.Analyzer.Analyze(ctx, engine.Request{
		Position:    enc,
		Strength:    rep.Session.Strength,
		Perspective: position.PerspectiveFor(res.Orientation),
	})
	if err != nil {
		ctl.fail(rep, logger, KindAnalysisFailed, err)
		return
	}
	rep.Analysis = &result

	ctl.enter(rep, Reporting)
	if ctl.c.Annotator != nil && result.BestMove != "" {
		path, err := ctl.c.Annotator.Annotate(img, det.Region, res.Orientation, result, rep.Cycle)
		if err != nil {
			logger.Warn("Annotation failed", zap.Error(err))
		} else {
			rep.Annotated = path
		}
	}

	logger.Info("Cycle complete",
		zap.String("fen", rep.FEN),
		zap.Stringer("orientation", res.Orientation),
		zap.String("best", result.BestMove),
		zap.Stringer("score", result.Score),
		zap.Int("warnings", len(rep.Warnings)))
}

// capture retries transient capture errors.
func (ctl *Controller) capture(ctx context.Context, logger *zap.Logger) (image.Image, error) {
	var lastErr error
	for i := 0; i < ctl.opts.CaptureRetries; i++ {
		img, err := ctl.c.Source.Capture(ctx)
		if err == nil {
			return img, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		logger.Warn("Capture attempt failed",
			zap.Int("attempt", i+1),
			zap.Int("max_retries", ctl.opts.CaptureRetries),
			zap.Error(err))

		if i < ctl.opts.CaptureRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(ctl.opts.RetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("all capture attempts failed: %w", lastErr)
}

func (ctl *Controller) enter(rep *Report, s State) {
	ctl.mu.Lock()
	ctl.state = s
	ctl.mu.Unlock()
	rep.Trace = append(rep.Trace, s)
}

func (ctl *Controller) fail(rep *Report, logger *zap.Logger, kind string, err error) {
	stage := ctl.State()
	rep.Failure = &Failure{Stage: stage, Kind: kind, Message: err.Error()}
	ctl.enter(rep, Failed)
	logger.Error("Cycle failed",
		zap.Stringer("stage", stage),
		zap.String("kind", kind),
		zap.Error(err))
}

func (ctl *Controller) record(rep Report) {
	ctl.history.Add(rep)

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.cycles++
	ctl.totalCycleTime += rep.Elapsed
	if rep.Failure != nil {
		ctl.failed++
		ctl.failuresByKind[rep.Failure.Kind]++
	} else {
		ctl.completed++
	}
}

// GetStatistics returns controller statistics.
func (ctl *Controller) GetStatistics() Stats {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()

	stats := Stats{
		Cycles:         ctl.cycles,
		Completed:      ctl.completed,
		Failed:         ctl.failed,
		FailuresByKind: make(map[string]int, len(ctl.failuresByKind)),
		State:          ctl.state,
	}
	if ctl.cycles > 0 {
		stats.SuccessRate = float64(ctl.completed) / float64(ctl.cycles) * 100
		stats.AvgCycleMs = ctl.totalCycleTime.Seconds() * 1000 / float64(ctl.cycles)
	}
	for k, v := range ctl.failuresByKind {
		stats.FailuresByKind[k] = v
	}
	return stats
}

// Package engine turns a position encoding into candidate moves by driving
// a UCI engine, and reports scores from the human side's point of view.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thyrook/boardsight/internal/engine/uci"
	"github.com/thyrook/boardsight/internal/position"
)

// ErrAnalysisFailed matches every AnalysisError.
var ErrAnalysisFailed = errors.New("analysis failed")

type Reason int

const (
	EngineUnavailable Reason = iota
	MalformedEncoding
	Timeout
	Protocol
)

func (r Reason) String() string {
	switch r {
	case EngineUnavailable:
		return "engine unavailable"
	case MalformedEncoding:
		return "malformed encoding"
	case Timeout:
		return "timeout"
	case Protocol:
		return "protocol error"
	default:
		return "unknown"
	}
}

// AnalysisError is returned for every failed Analyze call.
type AnalysisError struct {
	Reason Reason
	Err    error
}

func (e *AnalysisError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("analysis failed: %s", e.Reason)
	}
	return fmt.Sprintf("analysis failed: %s: %v", e.Reason, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

func (e *AnalysisError) Is(target error) bool { return target == ErrAnalysisFailed }

func failed(reason Reason, err error) error {
	return &AnalysisError{Reason: reason, Err: err}
}

// Engine is a synchronous search capability. *uci.Session implements it.
type Engine interface {
	Search(ctx context.Context, req uci.SearchRequest) (uci.SearchResponse, error)
	EnsureReady(ctx context.Context) error
	Broken() bool
	Close() error
}

// Factory starts a fresh engine configured with opt.
type Factory func(ctx context.Context, opt uci.Options) (Engine, error)

// ProcessFactory starts the engine binary at path.
func ProcessFactory(path string, args []string, logger *zap.Logger) Factory {
	return func(ctx context.Context, opt uci.Options) (Engine, error) {
		s, err := uci.NewSession(ctx, uci.Config{Path: path, Args: args, Options: opt, Logger: logger})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Cache memoizes raw engine responses. storage.AnalysisCache implements it.
type Cache interface {
	Load(ctx context.Context, key string, out any) (bool, error)
	Store(ctx context.Context, key string, v any) error
}

type Config struct {
	Threads       int
	HashMB        int
	MultiPV       int
	LimitStrength bool
	// MoveTime bounds each search in addition to the strength's depth.
	MoveTime time.Duration
	// Timeout caps a whole Analyze call.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threads: 1,
		HashMB:  64,
		MultiPV: 3,
		Timeout: 15 * time.Second,
	}
}

// Request is one analysis job.
type Request struct {
	Position    position.Encoding
	Strength    Strength
	Perspective position.Perspective
}

// Score is relative to the human side. When Mate is set, Value is the
// signed number of moves to mate.
type Score struct {
	Mate  bool `json:"mate"`
	Value int  `json:"value"`
}

func (s Score) String() string {
	if s.Mate {
		if s.Value < 0 {
			return fmt.Sprintf("-M%d", -s.Value)
		}
		return fmt.Sprintf("M%d", s.Value)
	}
	return fmt.Sprintf("%+.2f", float64(s.Value)/100)
}

// Candidate is one ranked line.
type Candidate struct {
	Move         string   `json:"move"`
	SAN          string   `json:"san,omitempty"`
	Score        Score    `json:"score"`
	Depth        int      `json:"depth"`
	Principal    []string `json:"pv"`
	PrincipalSAN []string `json:"pv_san,omitempty"`
}

type Result struct {
	FEN            string               `json:"fen"`
	Perspective    position.Perspective `json:"perspective"`
	Strength       Strength             `json:"strength"`
	BestMove       string               `json:"best_move,omitempty"`
	Score          Score                `json:"score"`
	Candidates     []Candidate          `json:"candidates,omitempty"`
	Terminal       bool                 `json:"terminal,omitempty"`
	TerminalReason string               `json:"terminal_reason,omitempty"`
	Cached         bool                 `json:"cached,omitempty"`
	Elapsed        time.Duration        `json:"elapsed"`
}

// Best returns the engine's chosen line, or false for terminal positions.
func (r Result) Best() (Candidate, bool) {
	if len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}

// Client owns at most one engine process. A session that failed or lost
// protocol sync is discarded and a new one is started on the next call.
type Client struct {
	factory Factory
	cfg     Config
	cache   Cache
	logger  *zap.Logger

	mu     sync.Mutex
	engine Engine
	opt    uci.Options
}

func NewClient(factory Factory, cfg Config, cache Cache, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MultiPV <= 0 {
		cfg.MultiPV = 1
	}
	if cfg.HashMB <= 0 {
		cfg.HashMB = 16
	}
	return &Client{factory: factory, cfg: cfg, cache: cache, logger: logger}
}

// Analyze validates the encoding, searches it and converts the engine's
// side-to-move scores into the request's perspective.
func (c *Client) Analyze(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	enc := req.Position
	fen := enc.FEN()

	if err := req.Strength.Validate(); err != nil {
		return Result{}, failed(Protocol, err)
	}
	if err := position.Validate(enc); err != nil {
		return Result{}, failed(MalformedEncoding, err)
	}

	result := Result{FEN: fen, Perspective: req.Perspective, Strength: req.Strength}

	terminal, reason, err := position.Status(enc)
	if err != nil {
		return Result{}, failed(MalformedEncoding, err)
	}
	if terminal {
		result.Terminal = true
		result.TerminalReason = reason
		result.Elapsed = time.Since(start)
		return result, nil
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	search := uci.SearchRequest{
		FEN: fen,
		Limits: uci.Limits{
			Depth:          req.Strength.Depth,
			MoveTimeMillis: int(c.cfg.MoveTime / time.Millisecond),
		},
	}
	opt := c.options(req.Strength)
	key := cacheKey(fen, opt, search.Limits)

	resp, cached := c.lookup(ctx, key)
	if !cached {
		resp, err = c.search(ctx, opt, search)
		if err != nil {
			return Result{}, err
		}
		c.store(ctx, key, resp)
	}

	if resp.BestMove == "" {
		return Result{}, failed(Protocol, fmt.Errorf("engine returned no move for %s", fen))
	}

	result.Candidates = c.candidates(enc, req.Perspective, resp)
	result.BestMove = resp.BestMove
	if best, ok := result.Best(); ok {
		result.Score = best.Score
	}
	result.Cached = cached
	result.Elapsed = time.Since(start)
	return result, nil
}

func (c *Client) options(s Strength) uci.Options {
	return uci.Options{
		Threads:       c.cfg.Threads,
		SkillLevel:    s.SkillLevel,
		HashMB:        c.cfg.HashMB,
		MultiPV:       c.cfg.MultiPV,
		Elo:           s.Elo,
		LimitStrength: c.cfg.LimitStrength,
	}
}

func (c *Client) search(ctx context.Context, opt uci.Options, req uci.SearchRequest) (uci.SearchResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	eng, err := c.acquire(ctx, opt)
	if err != nil {
		return uci.SearchResponse{}, failed(EngineUnavailable, err)
	}

	resp, err := eng.Search(ctx, req)
	if err == nil {
		return resp, nil
	}

	timedOut := ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded)
	if eng.Broken() || !timedOut {
		c.discard()
	}
	switch {
	case timedOut:
		return uci.SearchResponse{}, failed(Timeout, err)
	case errors.Is(err, uci.ErrClosed):
		return uci.SearchResponse{}, failed(EngineUnavailable, err)
	default:
		return uci.SearchResponse{}, failed(Protocol, err)
	}
}

// acquire returns a ready engine with the given options, replacing the
// current one when it is broken, configured differently or not ready.
func (c *Client) acquire(ctx context.Context, opt uci.Options) (Engine, error) {
	if c.engine != nil {
		if c.engine.Broken() || c.opt != opt {
			c.discard()
		} else if err := c.engine.EnsureReady(ctx); err != nil {
			c.logger.Warn("Engine not ready, restarting", zap.Error(err))
			c.discard()
		}
	}
	if c.engine != nil {
		return c.engine, nil
	}

	eng, err := c.factory(ctx, opt)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Engine started", zap.Int("skill", opt.SkillLevel), zap.Int("multipv", opt.MultiPV))
	c.engine = eng
	c.opt = opt
	return eng, nil
}

func (c *Client) discard() {
	if c.engine == nil {
		return
	}
	if err := c.engine.Close(); err != nil {
		c.logger.Debug("Engine close failed", zap.Error(err))
	}
	c.engine = nil
}

func (c *Client) lookup(ctx context.Context, key string) (uci.SearchResponse, bool) {
	if c.cache == nil {
		return uci.SearchResponse{}, false
	}
	var resp uci.SearchResponse
	ok, err := c.cache.Load(ctx, key, &resp)
	if err != nil {
		c.logger.Debug("Analysis cache load failed", zap.Error(err))
		return uci.SearchResponse{}, false
	}
	return resp, ok
}

func (c *Client) store(ctx context.Context, key string, resp uci.SearchResponse) {
	if c.cache == nil || resp.BestMove == "" {
		return
	}
	if err := c.cache.Store(ctx, key, resp); err != nil {
		c.logger.Debug("Analysis cache store failed", zap.Error(err))
	}
}

func (c *Client) candidates(enc position.Encoding, p position.Perspective, resp uci.SearchResponse) []Candidate {
	lines := resp.Lines
	if len(lines) == 0 {
		lines = []uci.Line{{MultiPV: 1, Principal: []string{resp.BestMove}}}
	}

	out := make([]Candidate, 0, len(lines))
	for _, l := range lines {
		if len(l.Principal) == 0 {
			continue
		}
		cand := Candidate{
			Move:      l.Principal[0],
			Depth:     l.Depth,
			Principal: l.Principal,
			Score: Score{
				Mate:  l.Score.Mate,
				Value: p.AdjustScore(l.Score.Value, enc.SideToMove),
			},
		}
		san, err := position.SAN(enc, l.Principal)
		if err != nil {
			c.logger.Debug("Could not render line", zap.Strings("pv", l.Principal), zap.Error(err))
		}
		cand.PrincipalSAN = san
		if len(san) > 0 {
			cand.SAN = san[0]
		}
		out = append(out, cand)
	}
	return promote(out, resp.BestMove, func(move string) Candidate {
		cand := Candidate{Move: move, Principal: []string{move}}
		if san, err := position.SAN(enc, cand.Principal); err == nil && len(san) > 0 {
			cand.SAN = san[0]
			cand.PrincipalSAN = san
		}
		return cand
	})
}

// promote moves the line starting with best to the front. Below full skill
// the chosen move need not be multipv 1. A move with no line of its own gets
// the candidate built by bare.
func promote(cands []Candidate, best string, bare func(string) Candidate) []Candidate {
	for i, cand := range cands {
		if cand.Move != best {
			continue
		}
		if i > 0 {
			copy(cands[1:i+1], cands[:i])
			cands[0] = cand
		}
		return cands
	}
	return append([]Candidate{bare(best)}, cands...)
}

func cacheKey(fen string, opt uci.Options, l uci.Limits) string {
	return fmt.Sprintf("%s|skill=%d|elo=%d|multipv=%d|depth=%d|movetime=%d",
		strings.ReplaceAll(fen, " ", "_"), opt.SkillLevel, opt.Elo, opt.MultiPV, l.Depth, l.MoveTimeMillis)
}

// Close stops the engine process.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return nil
	}
	err := c.engine.Close()
	c.engine = nil
	return err
}

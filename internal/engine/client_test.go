package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/thyrook/boardsight/internal/board"
	"github.com/thyrook/boardsight/internal/engine/uci"
	"github.com/thyrook/boardsight/internal/position"
)

type stubEngine struct {
	resp     uci.SearchResponse
	block    bool
	expire   bool
	broken   bool
	closed   bool
	searches int
	last     uci.SearchRequest
}

func (s *stubEngine) Search(ctx context.Context, req uci.SearchRequest) (uci.SearchResponse, error) {
	s.searches++
	s.last = req
	if s.expire {
		return uci.SearchResponse{}, fmt.Errorf("read line: %w", context.DeadlineExceeded)
	}
	if s.block {
		<-ctx.Done()
		s.broken = true
		return uci.SearchResponse{}, fmt.Errorf("read line: %w", ctx.Err())
	}
	return s.resp, nil
}

func (s *stubEngine) EnsureReady(ctx context.Context) error { return nil }
func (s *stubEngine) Broken() bool                          { return s.broken }
func (s *stubEngine) Close() error                          { s.closed = true; return nil }

// stubFactory hands out the given engines in order.
type stubFactory struct {
	engines []*stubEngine
	started int
	err     error
}

func (f *stubFactory) start(ctx context.Context, opt uci.Options) (Engine, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.started >= len(f.engines) {
		return nil, errors.New("no more engines")
	}
	e := f.engines[f.started]
	f.started++
	return e, nil
}

type mapCache map[string][]byte

func (m mapCache) Load(ctx context.Context, key string, out any) (bool, error) {
	data, ok := m[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

func (m mapCache) Store(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m[key] = data
	return nil
}

func encode(t *testing.T, o board.Orientation, swap bool, rows ...string) position.Encoding {
	t.Helper()
	raw, err := board.ParseRows(rows...)
	if err != nil {
		t.Fatalf("ParseRows failed: %v", err)
	}
	return (&position.Encoder{SwapColorsOnFlip: swap}).Encode(raw, o)
}

func startPosition(t *testing.T) position.Encoding {
	return encode(t, board.NormalView, true,
		"rnbqkbnr", "pppppppp", "........", "........",
		"........", "........", "PPPPPPPP", "RNBQKBNR")
}

var openingResponse = uci.SearchResponse{
	BestMove: "e2e4",
	Lines: []uci.Line{
		{MultiPV: 1, Depth: 6, Score: uci.Score{Value: 35}, Principal: []string{"e2e4", "e7e5"}},
		{MultiPV: 2, Depth: 6, Score: uci.Score{Value: 20}, Principal: []string{"d2d4"}},
	},
}

func request(enc position.Encoding) Request {
	return Request{
		Position:    enc,
		Strength:    DefaultStrength(),
		Perspective: position.PerspectiveFor(enc.Orientation),
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	f := &stubFactory{engines: []*stubEngine{{resp: openingResponse}}}
	c := NewClient(f.start, DefaultConfig(), nil, nil)
	defer c.Close()

	for i := 0; i < 3; i++ {
		res, err := c.Analyze(context.Background(), request(startPosition(t)))
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if res.BestMove != "e2e4" {
			t.Errorf("Expected e2e4, got %s", res.BestMove)
		}
		if res.Score != (Score{Value: 35}) {
			t.Errorf("Expected +35, got %v", res.Score)
		}
		best, _ := res.Best()
		if best.SAN != "e4" || len(best.PrincipalSAN) != 2 || best.PrincipalSAN[1] != "e5" {
			t.Errorf("Unexpected SAN rendering: %+v", best)
		}
		if len(res.Candidates) != 2 {
			t.Errorf("Expected 2 candidates, got %d", len(res.Candidates))
		}
	}

	if f.started != 1 {
		t.Errorf("Expected one engine start, got %d", f.started)
	}
	if got := f.engines[0].last.Limits.Depth; got != DefaultDepth {
		t.Errorf("Expected depth %d, got %d", DefaultDepth, got)
	}
}

func TestAnalyzeScoreSignFlipped(t *testing.T) {
	// Image taken from Black's side: White has an extra queen, Black to
	// move.
	enc := encode(t, board.FlippedView, false,
		"...K....", "....Q...", "........", "........",
		"........", "........", "........", "...k....")
	if got := enc.FEN(); got != "4k3/8/8/8/8/8/3Q4/4K3 b - - 0 1" {
		t.Fatalf("Unexpected encoding %s", got)
	}

	f := &stubFactory{engines: []*stubEngine{{resp: uci.SearchResponse{
		BestMove: "e8e7",
		Lines: []uci.Line{
			{MultiPV: 1, Score: uci.Score{Value: -900}, Principal: []string{"e8e7"}},
			{MultiPV: 2, Score: uci.Score{Mate: true, Value: -5}, Principal: []string{"e8f7"}},
		},
	}}}}
	c := NewClient(f.start, DefaultConfig(), nil, nil)

	res, err := c.Analyze(context.Background(), request(enc))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.Perspective.HumanSide != board.Black {
		t.Errorf("Expected black perspective, got %v", res.Perspective.HumanSide)
	}
	if res.Score.Value >= 0 {
		t.Errorf("Expected negative score with White ahead, got %v", res.Score)
	}
	if got := res.Candidates[1].Score; got != (Score{Mate: true, Value: -5}) {
		t.Errorf("Expected -M5, got %v", got)
	}
	if res.Candidates[0].SAN != "Ke7" {
		t.Errorf("Expected Ke7, got %q", res.Candidates[0].SAN)
	}
}

func TestAnalyzeTwoKings(t *testing.T) {
	enc := encode(t, board.NormalView, true,
		"....k...", "........", "........", "........",
		"........", "........", "........", "....K...")
	f := &stubFactory{engines: []*stubEngine{{resp: uci.SearchResponse{
		BestMove: "e1e2",
		Lines:    []uci.Line{{MultiPV: 1, Principal: []string{"e1e2"}}},
	}}}}
	c := NewClient(f.start, DefaultConfig(), nil, nil)

	res, err := c.Analyze(context.Background(), request(enc))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(res.Candidates) == 0 || res.BestMove == "" {
		t.Errorf("Expected a best move, got %+v", res)
	}
}

func TestAnalyzeFailures(t *testing.T) {
	tests := []struct {
		name    string
		enc     func(t *testing.T) position.Encoding
		factory *stubFactory
		reason  Reason
	}{
		{
			name: "malformed",
			enc: func(t *testing.T) position.Encoding {
				return encode(t, board.NormalView, true,
					"........", "........", "........", "........",
					"........", "........", "........", "....K...")
			},
			factory: &stubFactory{},
			reason:  MalformedEncoding,
		},
		{
			name:    "engine missing",
			enc:     startPosition,
			factory: &stubFactory{err: errors.New("exec: not found")},
			reason:  EngineUnavailable,
		},
		{
			name:    "no move",
			enc:     startPosition,
			factory: &stubFactory{engines: []*stubEngine{{}}},
			reason:  Protocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.factory.start, DefaultConfig(), nil, nil)
			_, err := c.Analyze(context.Background(), request(tt.enc(t)))
			if !errors.Is(err, ErrAnalysisFailed) {
				t.Fatalf("Expected ErrAnalysisFailed, got %v", err)
			}
			var ae *AnalysisError
			if !errors.As(err, &ae) || ae.Reason != tt.reason {
				t.Errorf("Expected reason %v, got %v", tt.reason, err)
			}
		})
	}
}

func TestAnalyzeTerminal(t *testing.T) {
	enc := encode(t, board.NormalView, true,
		"rnb.kbnr", "pppp.ppp", "........", "....p...",
		"......Pq", ".....P..", "PPPPP..P", "RNBQKBNR")
	f := &stubFactory{}
	c := NewClient(f.start, DefaultConfig(), nil, nil)

	res, err := c.Analyze(context.Background(), request(enc))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !res.Terminal || res.TerminalReason != "checkmate" {
		t.Errorf("Expected checkmate, got %+v", res)
	}
	if f.started != 0 {
		t.Error("Engine should not start for a finished game")
	}
}

func TestAnalyzeTimeoutRestartsEngine(t *testing.T) {
	hung := &stubEngine{block: true}
	fresh := &stubEngine{resp: openingResponse}
	f := &stubFactory{engines: []*stubEngine{hung, fresh}}

	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	c := NewClient(f.start, cfg, nil, nil)

	_, err := c.Analyze(context.Background(), request(startPosition(t)))
	var ae *AnalysisError
	if !errors.As(err, &ae) || ae.Reason != Timeout {
		t.Fatalf("Expected timeout, got %v", err)
	}
	if !hung.closed {
		t.Error("Expected broken engine to be closed")
	}

	res, err := c.Analyze(context.Background(), request(startPosition(t)))
	if err != nil {
		t.Fatalf("Analyze after restart failed: %v", err)
	}
	if res.BestMove != "e2e4" || f.started != 2 {
		t.Errorf("Expected restarted engine to answer, got %q after %d starts", res.BestMove, f.started)
	}
}

func TestAnalyzeSearchDeadlineKeepsEngine(t *testing.T) {
	eng := &stubEngine{expire: true}
	f := &stubFactory{engines: []*stubEngine{eng}}
	c := NewClient(f.start, DefaultConfig(), nil, nil)

	_, err := c.Analyze(context.Background(), request(startPosition(t)))
	var ae *AnalysisError
	if !errors.As(err, &ae) || ae.Reason != Timeout {
		t.Fatalf("Expected timeout, got %v", err)
	}
	if eng.closed {
		t.Error("Engine that answered stop should be kept")
	}

	eng.expire = false
	eng.resp = openingResponse
	if _, err := c.Analyze(context.Background(), request(startPosition(t))); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if f.started != 1 {
		t.Errorf("Expected the engine to be reused, got %d starts", f.started)
	}
}

func TestAnalyzeReportsChosenMove(t *testing.T) {
	tests := []struct {
		name      string
		resp      uci.SearchResponse
		wantSAN   string
		wantScore Score
		wantLines int
	}{
		{
			name: "weaker line chosen",
			resp: uci.SearchResponse{
				BestMove: "d2d4",
				Lines:    openingResponse.Lines,
			},
			wantSAN:   "d4",
			wantScore: Score{Value: 20},
			wantLines: 2,
		},
		{
			name: "chosen move without a line",
			resp: uci.SearchResponse{
				BestMove: "g1f3",
				Lines:    openingResponse.Lines,
			},
			wantSAN:   "Nf3",
			wantScore: Score{},
			wantLines: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &stubFactory{engines: []*stubEngine{{resp: tt.resp}}}
			c := NewClient(f.start, DefaultConfig(), nil, nil)

			res, err := c.Analyze(context.Background(), request(startPosition(t)))
			if err != nil {
				t.Fatalf("Analyze failed: %v", err)
			}
			best, ok := res.Best()
			if !ok {
				t.Fatal("Expected a best line")
			}
			if best.Move != res.BestMove {
				t.Errorf("Expected best line %s, got %s", res.BestMove, best.Move)
			}
			if best.SAN != tt.wantSAN {
				t.Errorf("Expected SAN %s, got %s", tt.wantSAN, best.SAN)
			}
			if res.Score != tt.wantScore {
				t.Errorf("Expected score %v, got %v", tt.wantScore, res.Score)
			}
			if len(res.Candidates) != tt.wantLines {
				t.Errorf("Expected %d candidates, got %d", tt.wantLines, len(res.Candidates))
			}
		})
	}
}

func TestAnalyzeStrengthChangeRestarts(t *testing.T) {
	f := &stubFactory{engines: []*stubEngine{{resp: openingResponse}, {resp: openingResponse}}}
	c := NewClient(f.start, DefaultConfig(), nil, nil)

	req := request(startPosition(t))
	if _, err := c.Analyze(context.Background(), req); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	req.Strength, _ = Preset("master")
	if _, err := c.Analyze(context.Background(), req); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if f.started != 2 || !f.engines[0].closed {
		t.Errorf("Expected a restart with the new strength, got %d starts", f.started)
	}
}

func TestAnalyzeCache(t *testing.T) {
	eng := &stubEngine{resp: openingResponse}
	f := &stubFactory{engines: []*stubEngine{eng}}
	c := NewClient(f.start, DefaultConfig(), mapCache{}, nil)

	first, err := c.Analyze(context.Background(), request(startPosition(t)))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	second, err := c.Analyze(context.Background(), request(startPosition(t)))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if first.Cached || !second.Cached {
		t.Errorf("Expected second result from cache, got %v/%v", first.Cached, second.Cached)
	}
	if eng.searches != 1 {
		t.Errorf("Expected one search, got %d", eng.searches)
	}
	if second.BestMove != first.BestMove || second.Score != first.Score {
		t.Errorf("Cached result differs: %+v vs %+v", second, first)
	}
}

func TestScoreString(t *testing.T) {
	tests := []struct {
		score Score
		want  string
	}{
		{Score{Value: 35}, "+0.35"},
		{Score{Value: -120}, "-1.20"},
		{Score{Mate: true, Value: 3}, "M3"},
		{Score{Mate: true, Value: -2}, "-M2"},
	}
	for _, tt := range tests {
		if got := tt.score.String(); got != tt.want {
			t.Errorf("Expected %s, got %s", tt.want, got)
		}
	}
}

// Package uci drives a chess engine process over the UCI protocol.
package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultReadyTimeout = 4 * time.Second
	stopGrace           = time.Second
	lineBuffer          = 256
)

var (
	// ErrClosed is returned once the engine process has exited or the
	// session was closed.
	ErrClosed = errors.New("engine session closed")

	// ErrBroken is returned by a session that lost protocol sync and must be
	// replaced.
	ErrBroken = errors.New("engine session out of sync")
)

type Options struct {
	Threads    int
	SkillLevel int
	HashMB     int
	MultiPV    int
	// Elo is applied through UCI_LimitStrength only when LimitStrength is
	// set.
	Elo           int
	LimitStrength bool
}

type Limits struct {
	Depth          int
	MoveTimeMillis int
	NodeCap        int
}

// Score is an evaluation relative to the side to move. When Mate is set,
// Value is the signed distance to mate in moves.
type Score struct {
	Mate  bool
	Value int
}

func (s Score) String() string {
	if s.Mate {
		return fmt.Sprintf("mate %d", s.Value)
	}
	return fmt.Sprintf("cp %d", s.Value)
}

// Line is one principal variation from a multipv search.
type Line struct {
	MultiPV   int
	Depth     int
	Score     Score
	Principal []string
}

// Config describes how to start the engine.
type Config struct {
	Path    string
	Args    []string
	Options Options
	Logger  *zap.Logger
}

type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	done   chan struct{}
	logger *zap.Logger

	readErr error
	broken  atomic.Bool

	mu        sync.Mutex
	closeOnce sync.Once
	search    sync.Mutex
}

func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	if err := validateOptions(cfg.Options); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Not CommandContext: the process outlives the context of the call that
	// happened to start it.
	cmd := exec.Command(cfg.Path, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := &Session{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan string, lineBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.pump(stdoutPipe)

	if err := s.initialize(ctx, cfg.Options); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// pump is the only reader of the engine's stdout.
func (s *Session) pump(r io.Reader) {
	defer close(s.lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case s.lines <- strings.TrimSpace(sc.Text()):
		case <-s.done:
			return
		}
	}
	s.readErr = sc.Err()
}

type SearchRequest struct {
	FEN    string
	Moves  []string
	Limits Limits
}

type SearchResponse struct {
	Lines    []Line
	BestMove string
	Ponder   string
}

// Search runs one bounded search. BestMove is empty when the engine reports
// "bestmove (none)", which it does for mated or stalemated positions. The
// search runs until ctx's deadline, or a limit-derived one when ctx has none.
// On expiry the search is stopped; a session that does not answer the stop
// is marked broken.
func (s *Session) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	s.search.Lock()
	defer s.search.Unlock()

	if s.broken.Load() {
		return SearchResponse{}, ErrBroken
	}

	positionCmd := buildPositionCommand(req.FEN, req.Moves)
	if err := s.send(positionCmd); err != nil {
		return SearchResponse{}, fmt.Errorf("send position: %w", err)
	}

	goTokens, err := buildGoTokens(req.Limits)
	if err != nil {
		return SearchResponse{}, err
	}
	goCmd := strings.Join(goTokens, " ")
	if err := s.send(goCmd + "\n"); err != nil {
		return SearchResponse{}, fmt.Errorf("send go: %w", err)
	}

	searchCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, computeSearchTimeout(req.Limits))
		defer cancel()
	}

	lines := make(map[int]Line)
	for {
		line, err := s.readLine(searchCtx)
		if err != nil {
			s.logger.Warn("Engine read failed",
				zap.String("position", strings.TrimSpace(positionCmd)),
				zap.String("go", goCmd),
				zap.Error(err))
			if searchCtx.Err() != nil {
				s.stop()
			}
			return SearchResponse{}, fmt.Errorf("read line: %w", err)
		}
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "info "):
			if l, ok := parseInfo(line); ok {
				lines[l.MultiPV] = l
			}
		case strings.HasPrefix(line, "bestmove"):
			return parseBestMove(line, lines), nil
		}
	}
}

// stop interrupts a running search and discards output up to its bestmove.
func (s *Session) stop() {
	if err := s.send("stop\n"); err != nil {
		s.broken.Store(true)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			s.logger.Warn("Engine did not answer stop", zap.Error(err))
			s.broken.Store(true)
			return
		}
		if strings.HasPrefix(line, "bestmove") {
			return
		}
	}
}

// Broken reports whether the session must be discarded.
func (s *Session) Broken() bool {
	return s.broken.Load()
}

func parseBestMove(line string, lines map[int]Line) SearchResponse {
	resp := SearchResponse{Lines: collapseLines(lines)}
	parts := strings.Fields(line)
	if len(parts) >= 2 && parts[1] != "(none)" && parts[1] != "0000" {
		resp.BestMove = parts[1]
	}
	if len(parts) >= 4 && parts[2] == "ponder" {
		resp.Ponder = parts[3]
	}
	return resp
}

func buildPositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

func validateOptions(opt Options) error {
	if opt.SkillLevel < 0 || opt.SkillLevel > 20 {
		return fmt.Errorf("skill level %d out of range 0-20", opt.SkillLevel)
	}
	if opt.HashMB <= 0 {
		return fmt.Errorf("hash size must be > 0: %d", opt.HashMB)
	}
	if opt.MultiPV <= 0 {
		return fmt.Errorf("multipv must be > 0: %d", opt.MultiPV)
	}
	if opt.Elo < 0 {
		return fmt.Errorf("elo must be >= 0: %d", opt.Elo)
	}
	return nil
}

func buildGoTokens(l Limits) ([]string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(l.MoveTimeMillis))
	}
	if l.NodeCap > 0 {
		args = append(args, "nodes", strconv.Itoa(l.NodeCap))
	}
	if len(args) == 1 {
		return nil, fmt.Errorf("no search limits specified")
	}
	return args, nil
}

func computeSearchTimeout(l Limits) time.Duration {
	if l.MoveTimeMillis > 0 {
		ms := l.MoveTimeMillis + 2000
		return time.Duration(ms) * time.Millisecond * 3
	}
	if l.Depth > 0 {
		base := time.Duration(l.Depth) * 300 * time.Millisecond
		return min(max(base, 6*time.Second), 20*time.Second)
	}
	return 6 * time.Second
}

func parseInfo(line string) (Line, bool) {
	parts := strings.Fields(line)
	var (
		l        = Line{MultiPV: 1}
		scoreSet bool
		pvIdx    = -1
	)

	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					l.MultiPV = v
				}
				i++
			}
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					l.Depth = v
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				v, err := strconv.Atoi(parts[i+2])
				if err == nil && (parts[i+1] == "cp" || parts[i+1] == "mate") {
					l.Score = Score{Mate: parts[i+1] == "mate", Value: v}
					scoreSet = true
				}
				i += 2
			}
		case "pv":
			pvIdx = i + 1
			i = len(parts)
		}
	}

	if !scoreSet || pvIdx == -1 || pvIdx >= len(parts) {
		return Line{}, false
	}
	l.Principal = append([]string(nil), parts[pvIdx:]...)
	return l, true
}

func collapseLines(m map[int]Line) []Line {
	if len(m) == 0 {
		return nil
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	result := make([]Line, 0, len(keys))
	for _, k := range keys {
		result = append(result, m[k])
	}
	return result
}

func (s *Session) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(readyCtx, "readyok"); err != nil {
		s.broken.Store(true)
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *Session) NewGame(ctx context.Context) error {
	if err := s.send("ucinewgame\n"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}
	return s.EnsureReady(ctx)
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.stdin != nil {
			_, _ = io.WriteString(s.stdin, "quit\n")
			s.stdin.Close()
		}
		s.mu.Unlock()

		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		err = s.cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Killed on purpose.
			err = nil
		}
	})
	return err
}

func (s *Session) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}

	if err := s.applyOptions(opt); err != nil {
		return err
	}

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *Session) applyOptions(opt Options) error {
	threadCount := opt.Threads
	if threadCount <= 0 {
		threadCount = 1
	}
	cmds := []string{
		fmt.Sprintf("setoption name Threads value %d\n", threadCount),
		fmt.Sprintf("setoption name Hash value %d\n", opt.HashMB),
		fmt.Sprintf("setoption name Skill Level value %d\n", opt.SkillLevel),
		fmt.Sprintf("setoption name MultiPV value %d\n", opt.MultiPV),
	}
	if opt.LimitStrength && opt.Elo > 0 {
		cmds = append(cmds,
			"setoption name UCI_LimitStrength value true\n",
			fmt.Sprintf("setoption name UCI_Elo value %d\n", opt.Elo))
	}
	for _, cmd := range cmds {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	return nil
}

func (s *Session) send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.stdin, msg)
	return err
}

func (s *Session) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (s *Session) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			if s.readErr != nil {
				return "", fmt.Errorf("%w: %v", ErrClosed, s.readErr)
			}
			return "", ErrClosed
		}
		return line, nil
	}
}

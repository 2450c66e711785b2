package iface

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/thyrook/boardsight/internal/board"
	"github.com/thyrook/boardsight/internal/decision"
	"github.com/thyrook/boardsight/internal/engine"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
)

// Console prints cycle reports for the operator. In quiet mode only the
// best move line (or the failure) is written.
type Console struct {
	out    io.Writer
	quiet  bool
	colors bool
	mu     sync.Mutex
}

// NewConsole creates a console reporter writing to out.
func NewConsole(out io.Writer, quiet bool) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{
		out:    out,
		quiet:  quiet,
		colors: out == os.Stdout && os.Getenv("NO_COLOR") == "",
	}
}

// Colorize applies color to text if the console supports it
func (c *Console) Colorize(text string, color string) string {
	if !c.colors {
		return text
	}
	return color + text + ColorReset
}

// PrintBanner displays the application banner and the command words.
func (c *Console) PrintBanner(version string) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.out, strings.Repeat("━", 60))
	fmt.Fprintln(c.out, c.Colorize(" BOARDSIGHT "+version, ColorBold+ColorCyan))
	fmt.Fprintln(c.out, " Screen chess board analysis")
	fmt.Fprintln(c.out, strings.Repeat("━", 60))
	fmt.Fprintln(c.out, " Enter    analyze with the current orientation mode")
	fmt.Fprintln(c.out, " w / b    force White or Black at the bottom")
	fmt.Fprintln(c.out, " a        detect orientation automatically")
	fmt.Fprintln(c.out, " s <x>    strength: preset name, 1-6 or an elo")
	fmt.Fprintln(c.out, " q        quit")
	fmt.Fprintln(c.out, strings.Repeat("━", 60))
}

// PrintStatus displays a status message with timestamp
func (c *Console) PrintStatus(message string, level string) {
	if c.quiet && level != "error" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")

	var icon, color string
	switch level {
	case "info":
		icon, color = "ℹ", ColorBlue
	case "success":
		icon, color = "✓", ColorGreen
	case "warning":
		icon, color = "⚠", ColorYellow
	case "error":
		icon, color = "✗", ColorRed
	default:
		icon, color = "•", ColorReset
	}

	fmt.Fprintf(c.out, "[%s] %s %s\n",
		c.Colorize(timestamp, ColorDim),
		c.Colorize(icon, color),
		message)
}

// Publish prints one cycle report.
func (c *Console) Publish(rep decision.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		fmt.Fprintln(c.out, summaryLine(rep))
		return
	}

	fmt.Fprintln(c.out, strings.Repeat("─", 60))
	fmt.Fprintf(c.out, "Cycle %s  %s  mode=%s  strength=%s\n",
		shortID(rep.Cycle), rep.Elapsed.Round(time.Millisecond), rep.Session.Mode, rep.Session.Strength)

	if rep.Raw != nil {
		fmt.Fprint(c.out, board.Print(*rep.Raw, false))
		if n := rep.Raw.LowConfidenceCount(); n > 0 {
			fmt.Fprintf(c.out, "%s\n", c.Colorize(fmt.Sprintf("%d uncertain cells shown as ?", n), ColorYellow))
		}
	}
	if rep.Resolution != nil {
		res := rep.Resolution
		line := fmt.Sprintf("Orientation: %s (%s, confidence %.2f)", res.Orientation, res.Source, res.Confidence)
		if res.Ambiguous {
			line = c.Colorize(line+" ambiguous, press w or b to force", ColorYellow)
		}
		fmt.Fprintln(c.out, line)
	}
	if rep.Position != nil {
		fmt.Fprint(c.out, board.Print(rep.Position.Board(), true))
	}
	if rep.FEN != "" {
		fmt.Fprintf(c.out, "FEN: %s\n", rep.FEN)
	}
	for _, w := range rep.Warnings {
		fmt.Fprintf(c.out, "%s %s\n", c.Colorize("⚠", ColorYellow), w)
	}

	if rep.Failure != nil {
		fmt.Fprintf(c.out, "%s %s failed (%s): %s\n",
			c.Colorize("✗", ColorRed), rep.Failure.Stage, rep.Failure.Kind, rep.Failure.Message)
		return
	}
	if rep.Analysis != nil {
		c.printAnalysis(*rep.Analysis)
	}
	if rep.Annotated != "" {
		fmt.Fprintf(c.out, "Overlay: %s\n", rep.Annotated)
	}
}

func (c *Console) printAnalysis(res engine.Result) {
	if res.Terminal {
		fmt.Fprintf(c.out, "%s\n", c.Colorize("Game over: "+res.TerminalReason, ColorBold))
		return
	}

	side := res.Perspective.HumanSide
	head := fmt.Sprintf("Best move: %s  %s (for %s)", moveText(res), res.Score, side)
	if res.Cached {
		head += " [cached]"
	}
	fmt.Fprintln(c.out, c.Colorize(head, ColorBold+ColorGreen))

	for i, cand := range res.Candidates {
		pv := cand.PrincipalSAN
		if len(pv) == 0 {
			pv = cand.Principal
		}
		fmt.Fprintf(c.out, "  %d. %-8s %7s  d%-2d %s\n",
			i+1, candidateText(cand), cand.Score, cand.Depth, strings.Join(pv, " "))
	}
}

// PrintStatistics prints the controller counters.
func (c *Console) PrintStatistics(stats decision.Stats) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.out, "\n"+strings.Repeat("═", 60))
	fmt.Fprintln(c.out, c.Colorize(" SESSION STATISTICS", ColorBold+ColorCyan))
	fmt.Fprintln(c.out, strings.Repeat("═", 60))
	fmt.Fprintf(c.out, "  %-20s: %d\n", "Cycles", stats.Cycles)
	fmt.Fprintf(c.out, "  %-20s: %d\n", "Completed", stats.Completed)
	fmt.Fprintf(c.out, "  %-20s: %d\n", "Failed", stats.Failed)
	fmt.Fprintf(c.out, "  %-20s: %.1f%%\n", "Success rate", stats.SuccessRate*100)
	fmt.Fprintf(c.out, "  %-20s: %.0fms\n", "Average cycle", stats.AvgCycleMs)

	kinds := make([]string, 0, len(stats.FailuresByKind))
	for k := range stats.FailuresByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(c.out, "  %-20s: %d\n", k, stats.FailuresByKind[k])
	}
	fmt.Fprintln(c.out, strings.Repeat("═", 60))
}

func summaryLine(rep decision.Report) string {
	switch {
	case rep.Failure != nil:
		return fmt.Sprintf("%s: %s", rep.Failure.Kind, rep.Failure.Message)
	case rep.Analysis == nil:
		return rep.FEN
	case rep.Analysis.Terminal:
		return fmt.Sprintf("%s %s", rep.FEN, rep.Analysis.TerminalReason)
	default:
		return fmt.Sprintf("%s %s %s", rep.FEN, moveText(*rep.Analysis), rep.Analysis.Score)
	}
}

func moveText(res engine.Result) string {
	if best, ok := res.Best(); ok {
		return candidateText(best)
	}
	return res.BestMove
}

func candidateText(cand engine.Candidate) string {
	if cand.SAN != "" {
		return cand.SAN
	}
	return cand.Move
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

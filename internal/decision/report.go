package decision

import (
	"sync"
	"time"

	"github.com/thyrook/boardsight/internal/board"
	"github.com/thyrook/boardsight/internal/engine"
	"github.com/thyrook/boardsight/internal/position"
	"github.com/thyrook/boardsight/internal/vision"
)

// Failure kinds, distinguishable by the operator.
const (
	KindCaptureFailed  = "capture_failed"
	KindBoardNotFound  = "board_not_found"
	KindLocalizeFailed = "localization_failed"
	KindClassifyFailed = "classification_failed"
	KindAnalysisFailed = "analysis_failed"
)

// Failure says where and why a cycle stopped.
type Failure struct {
	Stage   State  `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Report is the structured outcome of one cycle.
type Report struct {
	Cycle      string              `json:"cycle"`
	Started    time.Time           `json:"started"`
	Elapsed    time.Duration       `json:"elapsed"`
	Session    SessionState        `json:"session"`
	Detection  *vision.Detection   `json:"detection,omitempty"`
	Sampling   *vision.SampleStats `json:"sampling,omitempty"`
	Resolution *board.Resolution   `json:"resolution,omitempty"`
	Position   *position.Encoding  `json:"position,omitempty"`
	FEN        string              `json:"fen,omitempty"`
	Warnings   []string            `json:"warnings,omitempty"`
	Analysis   *engine.Result      `json:"analysis,omitempty"`
	Annotated  string              `json:"annotated,omitempty"`
	Failure    *Failure            `json:"failure,omitempty"`

	// Raw is the classified board in image order, for printing.
	Raw *board.RawBoard `json:"-"`
	// Trace lists the states the cycle went through.
	Trace []State `json:"trace"`
}

func (r Report) OK() bool {
	return r.Failure == nil
}

// History keeps the most recent reports in memory.
type History struct {
	reports []Report
	maxSize int
	mu      sync.RWMutex
}

func NewHistory(maxSize int) *History {
	if maxSize < 1 {
		maxSize = 1
	}
	return &History{
		reports: make([]Report, 0, maxSize),
		maxSize: maxSize,
	}
}

func (h *History) Add(r Report) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.reports = append(h.reports, r)
	if len(h.reports) > h.maxSize {
		h.reports = h.reports[1:]
	}
}

// Recent returns up to n reports, oldest first.
func (h *History) Recent(n int) []Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n > len(h.reports) {
		n = len(h.reports)
	}
	out := make([]Report, n)
	copy(out, h.reports[len(h.reports)-n:])
	return out
}

// Stats summarizes controller activity.
type Stats struct {
	Cycles         int            `json:"cycles"`
	Completed      int            `json:"completed"`
	Failed         int            `json:"failed"`
	SuccessRate    float64        `json:"success_rate"`
	AvgCycleMs     float64        `json:"avg_cycle_ms"`
	FailuresByKind map[string]int `json:"failures_by_kind"`
	State          State          `json:"state"`
}

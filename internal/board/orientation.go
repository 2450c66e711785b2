package board

import (
	"fmt"
	"math"
	"strings"
)

// Orientation says which side sits at the bottom of the image.
type Orientation int

const (
	// NormalView has White nearest the viewer.
	NormalView Orientation = iota
	// FlippedView has Black nearest the viewer.
	FlippedView
)

func (o Orientation) String() string {
	if o == FlippedView {
		return "flipped"
	}
	return "normal"
}

func (o Orientation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Orientation) UnmarshalText(b []byte) error {
	switch string(b) {
	case "normal":
		*o = NormalView
	case "flipped":
		*o = FlippedView
	default:
		return fmt.Errorf("unknown orientation %q", b)
	}
	return nil
}

// NearSide returns the color whose home rank is at the bottom of the image.
func (o Orientation) NearSide() Color {
	if o == FlippedView {
		return Black
	}
	return White
}

// OverrideMode is the manual orientation setting held by the session.
type OverrideMode int

const (
	OverrideAuto OverrideMode = iota
	OverrideWhite
	OverrideBlack
)

func (m OverrideMode) String() string {
	switch m {
	case OverrideWhite:
		return "white"
	case OverrideBlack:
		return "black"
	default:
		return "auto"
	}
}

func (m OverrideMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *OverrideMode) UnmarshalText(b []byte) error {
	v, err := ParseOverrideMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseOverrideMode accepts "auto", "white", "black" and their first
// letters, case-insensitively.
func ParseOverrideMode(s string) (OverrideMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "auto", "":
		return OverrideAuto, nil
	case "w", "white":
		return OverrideWhite, nil
	case "b", "black":
		return OverrideBlack, nil
	}
	return OverrideAuto, fmt.Errorf("unknown override mode %q", s)
}

// Source of a resolution.
const (
	SourceOverride  = "override"
	SourceHeuristic = "back-rank"
	SourceDefault   = "default"
)

// Resolution is the outcome of orientation resolution for one cycle.
type Resolution struct {
	Orientation Orientation `json:"orientation"`
	Confidence  float64     `json:"confidence"`
	// Ambiguous marks a defaulted answer; it never fails the cycle.
	Ambiguous bool   `json:"ambiguous,omitempty"`
	Source    string `json:"source"`
	Note      string `json:"note,omitempty"`
}

// DefaultMinMargin is the share of back-rank pieces that must agree before
// the heuristic commits to an answer.
const DefaultMinMargin = 0.25

// Resolve decides the orientation of raw. A forced override wins
// unconditionally. Otherwise the two outermost rows are compared: White
// pieces on the bottom row and Black pieces on the top row vote for
// NormalView, the opposite composition votes for FlippedView.
func Resolve(raw RawBoard, mode OverrideMode, minMargin float64) Resolution {
	switch mode {
	case OverrideWhite:
		return Resolution{Orientation: NormalView, Confidence: 1, Source: SourceOverride, Note: "forced white"}
	case OverrideBlack:
		return Resolution{Orientation: FlippedView, Confidence: 1, Source: SourceOverride, Note: "forced black"}
	}

	if minMargin <= 0 {
		minMargin = DefaultMinMargin
	}

	nearWhite, nearBlack := rowComposition(raw, Size-1)
	farWhite, farBlack := rowComposition(raw, 0)

	total := nearWhite + nearBlack + farWhite + farBlack
	if total == 0 {
		return Resolution{
			Orientation: NormalView,
			Ambiguous:   true,
			Source:      SourceDefault,
			Note:        "both back ranks empty",
		}
	}

	score := (nearWhite - nearBlack) + (farBlack - farWhite)
	confidence := math.Abs(float64(score)) / float64(total)
	note := fmt.Sprintf("bottom %dW/%dB, top %dW/%dB", nearWhite, nearBlack, farWhite, farBlack)

	if score == 0 || confidence < minMargin {
		return Resolution{
			Orientation: NormalView,
			Confidence:  confidence,
			Ambiguous:   true,
			Source:      SourceDefault,
			Note:        "mixed back ranks: " + note,
		}
	}

	orientation := NormalView
	if score < 0 {
		orientation = FlippedView
	}
	return Resolution{
		Orientation: orientation,
		Confidence:  confidence,
		Source:      SourceHeuristic,
		Note:        note,
	}
}

func rowComposition(raw RawBoard, row int) (white, black int) {
	for c := 0; c < Size; c++ {
		switch raw.PieceAt(row, c).Color() {
		case White:
			white++
		case Black:
			black++
		}
	}
	return white, black
}

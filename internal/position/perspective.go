package position

import "github.com/thyrook/boardsight/internal/board"

// Perspective is the sign convention for reporting scores: positive always
// favours the human side, the side nearest the viewer.
type Perspective struct {
	HumanSide board.Color `json:"human_side"`
}

// PerspectiveFor returns the convention implied by an orientation.
func PerspectiveFor(o board.Orientation) Perspective {
	return Perspective{HumanSide: o.NearSide()}
}

// FromWhite converts a White-relative value (centipawns or signed mate
// distance) to the human side's point of view.
func (p Perspective) FromWhite(v int) int {
	if p.HumanSide == board.Black {
		return -v
	}
	return v
}

// ToWhite converts a value reported relative to the side to move into a
// White-relative one.
func ToWhite(v int, sideToMove board.Color) int {
	if sideToMove == board.Black {
		return -v
	}
	return v
}

// AdjustScore converts a value reported relative to the side to move into
// the human side's point of view.
func (p Perspective) AdjustScore(v int, sideToMove board.Color) int {
	return p.FromWhite(ToWhite(v, sideToMove))
}

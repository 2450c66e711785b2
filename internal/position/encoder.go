package position

import (
	"github.com/thyrook/boardsight/internal/board"
)

// Encoder turns an image-space board into a standard-orientation encoding.
type Encoder struct {
	// SwapColorsOnFlip also exchanges piece colors when the board is seen
	// from Black's side. When false, a flip is a pure rotation.
	SwapColorsOnFlip bool
}

// NewEncoder returns an encoder with color swapping enabled.
func NewEncoder() *Encoder {
	return &Encoder{SwapColorsOnFlip: true}
}

// Correct applies the orientation transform to raw. The result is indexed
// like an Encoding grid.
func (e *Encoder) Correct(raw board.RawBoard, o board.Orientation) board.RawBoard {
	if o != board.FlippedView {
		return raw
	}
	out := raw.Rotate180()
	if e.SwapColorsOnFlip {
		out = out.SwapColors()
	}
	return out
}

// Uncorrect inverts Correct.
func (e *Encoder) Uncorrect(corrected board.RawBoard, o board.Orientation) board.RawBoard {
	if o != board.FlippedView {
		return corrected
	}
	out := corrected
	if e.SwapColorsOnFlip {
		out = out.SwapColors()
	}
	return out.Rotate180()
}

// Encode builds the encoding for raw under orientation o. White moves in
// NormalView and Black in FlippedView; castling is granted only for a king
// and rook still on their home squares; en passant is never claimed.
func (e *Encoder) Encode(raw board.RawBoard, o board.Orientation) Encoding {
	grid := e.Correct(raw, o).Pieces()

	stm := board.White
	if o == board.FlippedView {
		stm = board.Black
	}

	return Encoding{
		Grid:        grid,
		SideToMove:  stm,
		Castling:    castlingRights(grid),
		EnPassant:   "-",
		Halfmove:    0,
		Fullmove:    1,
		Orientation: o,
	}
}

// ImageCell maps an encoding square back to the image-space cell it came
// from.
func ImageCell(row, col int, o board.Orientation) (int, int) {
	if o == board.FlippedView {
		return board.Size - 1 - row, board.Size - 1 - col
	}
	return row, col
}

func castlingRights(g [board.Size][board.Size]board.Piece) string {
	rights := ""
	if g[7][4] == board.WhiteKing {
		if g[7][7] == board.WhiteRook {
			rights += "K"
		}
		if g[7][0] == board.WhiteRook {
			rights += "Q"
		}
	}
	if g[0][4] == board.BlackKing {
		if g[0][7] == board.BlackRook {
			rights += "k"
		}
		if g[0][0] == board.BlackRook {
			rights += "q"
		}
	}
	if rights == "" {
		return "-"
	}
	return rights
}

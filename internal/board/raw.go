package board

import (
	"fmt"
	"strings"
)

// Size is the number of rows and columns of the playing surface.
const Size = 8

// RawBoard is the classified 8x8 grid in image-space order: row 0 is the
// top of the image and col 0 the left. It is a value type; the methods that
// transform it return new boards.
type RawBoard struct {
	cells [Size * Size]Label
}

// NewRawBoard builds a board from 64 labels in row-major image order.
func NewRawBoard(labels [Size * Size]Label) RawBoard {
	return RawBoard{cells: labels}
}

// FromPieces builds a full-confidence board from a piece grid.
func FromPieces(grid [Size][Size]Piece) RawBoard {
	var rb RawBoard
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			rb.cells[r*Size+c] = Label{Piece: grid[r][c], Confidence: 1}
		}
	}
	return rb
}

// ParseRows builds a board from eight strings of eight FEN letters, '.'
// marking an empty cell. Row 0 is the top of the image.
func ParseRows(rows ...string) (RawBoard, error) {
	if len(rows) != Size {
		return RawBoard{}, fmt.Errorf("expected %d rows, got %d", Size, len(rows))
	}
	var grid [Size][Size]Piece
	for r, row := range rows {
		if len(row) != Size {
			return RawBoard{}, fmt.Errorf("row %d: expected %d cells, got %d", r, Size, len(row))
		}
		for c := 0; c < Size; c++ {
			if row[c] == '.' {
				continue
			}
			p, ok := PieceFromFEN(row[c])
			if !ok {
				return RawBoard{}, fmt.Errorf("row %d col %d: unknown piece %q", r, c, row[c])
			}
			grid[r][c] = p
		}
	}
	return FromPieces(grid), nil
}

// At returns the label at image-space (row, col).
func (rb RawBoard) At(row, col int) Label {
	return rb.cells[row*Size+col]
}

// PieceAt is a shorthand for At(row, col).Piece.
func (rb RawBoard) PieceAt(row, col int) Piece {
	return rb.cells[row*Size+col].Piece
}

// Labels returns a copy of the 64 labels in row-major order.
func (rb RawBoard) Labels() [Size * Size]Label {
	return rb.cells
}

// Pieces returns the piece grid without confidences.
func (rb RawBoard) Pieces() [Size][Size]Piece {
	var grid [Size][Size]Piece
	for i, l := range rb.cells {
		grid[i/Size][i%Size] = l.Piece
	}
	return grid
}

// Rotate180 maps row r to 7-r and col c to 7-c.
func (rb RawBoard) Rotate180() RawBoard {
	var out RawBoard
	for i := range rb.cells {
		out.cells[len(rb.cells)-1-i] = rb.cells[i]
	}
	return out
}

// SwapColors exchanges White and Black on every occupied cell.
func (rb RawBoard) SwapColors() RawBoard {
	out := rb
	for i := range out.cells {
		out.cells[i].Piece = out.cells[i].Piece.SwapColor()
	}
	return out
}

// LowConfidenceCount returns how many cells were forced to Empty.
func (rb RawBoard) LowConfidenceCount() int {
	n := 0
	for _, l := range rb.cells {
		if l.LowConfidence {
			n++
		}
	}
	return n
}

// Count returns how many cells hold p.
func (rb RawBoard) Count(p Piece) int {
	n := 0
	for _, l := range rb.cells {
		if l.Piece == p {
			n++
		}
	}
	return n
}

// SamePlacement reports whether two boards hold the same pieces on the
// same cells, ignoring confidences.
func (rb RawBoard) SamePlacement(other RawBoard) bool {
	for i := range rb.cells {
		if rb.cells[i].Piece != other.cells[i].Piece {
			return false
		}
	}
	return true
}

// String renders the grid as eight rows of FEN letters.
func (rb RawBoard) String() string {
	var sb strings.Builder
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			sb.WriteByte(rb.PieceAt(r, c).FENChar())
		}
		if r < Size-1 {
			sb.WriteByte('/')
		}
	}
	return sb.String()
}

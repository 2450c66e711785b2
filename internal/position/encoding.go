package position

import (
	"fmt"
	"strings"

	"github.com/thyrook/boardsight/internal/board"
)

// Encoding is a position in standard orientation: row 0 is rank 8 and col 0
// is the a-file.
type Encoding struct {
	Grid        [board.Size][board.Size]board.Piece `json:"-"`
	SideToMove  board.Color                         `json:"side_to_move"`
	Castling    string                              `json:"castling"`
	EnPassant   string                              `json:"en_passant"`
	Halfmove    int                                 `json:"halfmove"`
	Fullmove    int                                 `json:"fullmove"`
	Orientation board.Orientation                   `json:"orientation"`
}

// Placement returns the FEN piece-placement field.
func (e Encoding) Placement() string {
	var sb strings.Builder
	for r := 0; r < board.Size; r++ {
		empty := 0
		for c := 0; c < board.Size; c++ {
			p := e.Grid[r][c]
			if p == board.Empty {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteByte(byte('0' + empty))
				empty = 0
			}
			sb.WriteByte(p.FENChar())
		}
		if empty > 0 {
			sb.WriteByte(byte('0' + empty))
		}
		if r < board.Size-1 {
			sb.WriteByte('/')
		}
	}
	return sb.String()
}

// FEN renders the full six-field position string.
func (e Encoding) FEN() string {
	stm := "w"
	if e.SideToMove == board.Black {
		stm = "b"
	}
	castling := e.Castling
	if castling == "" {
		castling = "-"
	}
	ep := e.EnPassant
	if ep == "" {
		ep = "-"
	}
	return fmt.Sprintf("%s %s %s %s %d %d", e.Placement(), stm, castling, ep, e.Halfmove, e.Fullmove)
}

func (e Encoding) String() string {
	return e.FEN()
}

// Board returns the grid as a full-confidence board for printing.
func (e Encoding) Board() board.RawBoard {
	return board.FromPieces(e.Grid)
}

// SquareName names the square at encoding (row, col), e.g. "e4".
func SquareName(row, col int) string {
	return fmt.Sprintf("%c%d", 'a'+col, board.Size-row)
}

// ParseSquare converts a square name to encoding (row, col).
func ParseSquare(s string) (int, int, error) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return 0, 0, fmt.Errorf("invalid square %q", s)
	}
	return board.Size - int(s[1]-'0'), int(s[0] - 'a'), nil
}

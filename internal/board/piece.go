package board

import "fmt"

// Color is the side a piece belongs to.
type Color int

const (
	NoColor Color = iota
	White
	Black
)

// Other returns the opposing color. NoColor maps to itself.
func (c Color) Other() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	default:
		return NoColor
	}
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Color) UnmarshalText(b []byte) error {
	switch string(b) {
	case "white":
		*c = White
	case "black":
		*c = Black
	case "none", "":
		*c = NoColor
	default:
		return fmt.Errorf("unknown color %q", b)
	}
	return nil
}

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return "none"
	}
}

// Piece is a piece label as seen on one square. The zero value is Empty.
type Piece int

const (
	Empty Piece = iota
	WhitePawn
	WhiteKnight
	WhiteBishop
	WhiteRook
	WhiteQueen
	WhiteKing
	BlackPawn
	BlackKnight
	BlackBishop
	BlackRook
	BlackQueen
	BlackKing
)

// NumPieces is the number of distinct labels, Empty included.
const NumPieces = 13

var fenChars = [NumPieces]byte{'.', 'P', 'N', 'B', 'R', 'Q', 'K', 'p', 'n', 'b', 'r', 'q', 'k'}

var symbols = [NumPieces]string{"·", "♙", "♘", "♗", "♖", "♕", "♔", "♟", "♞", "♝", "♜", "♛", "♚"}

// Valid reports whether p is one of the 13 known labels.
func (p Piece) Valid() bool {
	return p >= Empty && p <= BlackKing
}

// Color returns the owner of the piece, NoColor for Empty.
func (p Piece) Color() Color {
	switch {
	case p >= WhitePawn && p <= WhiteKing:
		return White
	case p >= BlackPawn && p <= BlackKing:
		return Black
	default:
		return NoColor
	}
}

// Kind returns the color-independent piece kind, 0 for Empty and 1..6 for
// pawn through king.
func (p Piece) Kind() int {
	switch p.Color() {
	case White:
		return int(p - WhitePawn + 1)
	case Black:
		return int(p - BlackPawn + 1)
	default:
		return 0
	}
}

// SwapColor returns the same kind of piece owned by the other side.
func (p Piece) SwapColor() Piece {
	switch p.Color() {
	case White:
		return p + (BlackPawn - WhitePawn)
	case Black:
		return p - (BlackPawn - WhitePawn)
	default:
		return p
	}
}

// FENChar returns the FEN letter for the piece, '.' for Empty.
func (p Piece) FENChar() byte {
	if !p.Valid() {
		return '?'
	}
	return fenChars[p]
}

// Symbol returns the unicode glyph used in board printouts.
func (p Piece) Symbol() string {
	if !p.Valid() {
		return "?"
	}
	return symbols[p]
}

// Code returns the short two-letter label used by classifier backends
// ("wP", "bK", "--" for empty).
func (p Piece) Code() string {
	switch p.Color() {
	case White:
		return "w" + string(fenChars[p])
	case Black:
		return "b" + string(fenChars[p]-'a'+'A')
	default:
		return "--"
	}
}

func (p Piece) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid piece %d", int(p))
	}
	return []byte(p.Code()), nil
}

func (p *Piece) UnmarshalText(b []byte) error {
	v, err := ParsePiece(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p Piece) String() string {
	return p.Code()
}

// PieceFromFEN parses a FEN piece letter.
func PieceFromFEN(c byte) (Piece, bool) {
	for i := WhitePawn; i <= BlackKing; i++ {
		if fenChars[i] == c {
			return i, true
		}
	}
	return Empty, false
}

// ParsePiece parses a label code as produced by Code. It also accepts a
// bare FEN letter and the words "empty" and "--".
func ParsePiece(s string) (Piece, error) {
	switch s {
	case "--", "empty", "", ".":
		return Empty, nil
	}
	if len(s) == 1 {
		if p, ok := PieceFromFEN(s[0]); ok {
			return p, nil
		}
	}
	if len(s) == 2 {
		for i := WhitePawn; i <= BlackKing; i++ {
			if i.Code() == s {
				return i, nil
			}
		}
	}
	return Empty, fmt.Errorf("unknown piece label %q", s)
}

// Label is the classifier's verdict for one cell.
type Label struct {
	Piece      Piece   `json:"piece"`
	Confidence float64 `json:"confidence"`
	// LowConfidence is set when the classifier's answer fell below the
	// configured threshold and the cell was forced to Empty.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

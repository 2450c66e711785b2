package position

import (
	"errors"
	"fmt"
	"strings"

	"github.com/notnil/chess"

	"github.com/thyrook/boardsight/internal/board"
)

var (
	// ErrMalformedEncoding marks a position no engine can be asked about.
	ErrMalformedEncoding = errors.New("malformed position")

	// ErrOpponentInCheck is returned when the side that just moved is still
	// in check. The side to move was most likely guessed wrong.
	ErrOpponentInCheck = errors.New("side not to move is in check")
)

// Validate checks that e describes a position a chess engine will accept.
func Validate(e Encoding) error {
	var problems []string

	for _, side := range []board.Color{board.White, board.Black} {
		var kings, pawns, total int
		for r := 0; r < board.Size; r++ {
			for c := 0; c < board.Size; c++ {
				p := e.Grid[r][c]
				if p.Color() != side {
					continue
				}
				total++
				switch p.Kind() {
				case kindKing:
					kings++
				case kindPawn:
					pawns++
					if r == 0 || r == board.Size-1 {
						problems = append(problems, fmt.Sprintf("%s pawn on %s", side, SquareName(r, c)))
					}
				}
			}
		}
		if kings != 1 {
			problems = append(problems, fmt.Sprintf("%s has %d kings", side, kings))
		}
		if pawns > 8 {
			problems = append(problems, fmt.Sprintf("%s has %d pawns", side, pawns))
		}
		if total > 16 {
			problems = append(problems, fmt.Sprintf("%s has %d pieces", side, total))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrMalformedEncoding, strings.Join(problems, ", "))
	}

	if e.SideToMove != board.White && e.SideToMove != board.Black {
		return fmt.Errorf("%w: no side to move", ErrMalformedEncoding)
	}
	if InCheck(e, e.SideToMove.Other()) {
		if InCheck(e, e.SideToMove) {
			return fmt.Errorf("%w: both kings in check", ErrMalformedEncoding)
		}
		return fmt.Errorf("%w: %s", ErrOpponentInCheck, e.SideToMove.Other())
	}

	if _, err := chess.FEN(e.FEN()); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	return nil
}

// Repair tries the cheap fixes for a position that fails Validate: hand the
// move to the other side when the opponent is left in check, then drop
// castling rights. The returned warnings describe what changed.
func Repair(e Encoding) (Encoding, []string, error) {
	err := Validate(e)
	if err == nil {
		return e, nil, nil
	}

	var warnings []string
	if errors.Is(err, ErrOpponentInCheck) {
		e.SideToMove = e.SideToMove.Other()
		warnings = append(warnings, fmt.Sprintf("side to move switched to %s, its king was in check", e.SideToMove))
		if err = Validate(e); err == nil {
			return e, warnings, nil
		}
	}

	if e.Castling != "-" {
		e.Castling = "-"
		warnings = append(warnings, "castling rights dropped")
		if err = Validate(e); err == nil {
			return e, warnings, nil
		}
	}
	return e, warnings, err
}

// Status reports whether the side to move has no legal moves, and why.
// The position must already be valid.
func Status(e Encoding) (terminal bool, reason string, err error) {
	opt, err := chess.FEN(e.FEN())
	if err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	pos := chess.NewGame(opt).Position()
	if len(pos.ValidMoves()) > 0 {
		return false, "", nil
	}
	switch pos.Status() {
	case chess.Checkmate:
		return true, "checkmate", nil
	case chess.Stalemate:
		return true, "stalemate", nil
	default:
		return true, "no legal moves", nil
	}
}

// SAN converts a line of UCI moves played from e into standard algebraic
// notation. On an illegal move the prefix converted so far is returned with
// the error.
func SAN(e Encoding, line []string) ([]string, error) {
	opt, err := chess.FEN(e.FEN())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	pos := chess.NewGame(opt).Position()

	out := make([]string, 0, len(line))
	for _, s := range line {
		m, err := chess.UCINotation{}.Decode(pos, s)
		if err != nil {
			return out, fmt.Errorf("move %s: %w", s, err)
		}
		if m = legal(pos, m); m == nil {
			return out, fmt.Errorf("move %s is illegal in %s", s, pos)
		}
		out = append(out, chess.AlgebraicNotation{}.Encode(pos, m))
		pos = pos.Update(m)
	}
	return out, nil
}

// legal returns the generated move matching m, which carries the check and
// capture tags SAN needs, or nil.
func legal(pos *chess.Position, m *chess.Move) *chess.Move {
	for _, v := range pos.ValidMoves() {
		if v.S1() == m.S1() && v.S2() == m.S2() && v.Promo() == m.Promo() {
			return v
		}
	}
	return nil
}

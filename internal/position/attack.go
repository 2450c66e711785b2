package position

import "github.com/thyrook/boardsight/internal/board"

const (
	kindPawn = iota + 1
	kindKnight
	kindBishop
	kindRook
	kindQueen
	kindKing
)

type grid = [board.Size][board.Size]board.Piece

var knightSteps = [8][2]int{{-2, -1}, {-2, 1}, {-1, -2}, {-1, 2}, {1, -2}, {1, 2}, {2, -1}, {2, 1}}

var kingSteps = [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}

var rookDirs = [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

var bishopDirs = [4][2]int{{-1, -1}, {-1, 1}, {1, -1}, {1, 1}}

func onBoard(r, c int) bool {
	return r >= 0 && r < board.Size && c >= 0 && c < board.Size
}

func pieceAt(g *grid, r, c int) board.Piece {
	if !onBoard(r, c) {
		return board.Empty
	}
	return g[r][c]
}

func owned(p board.Piece, by board.Color, kind int) bool {
	return p.Color() == by && p.Kind() == kind
}

// attacked reports whether (r, c) is attacked by any piece of color by.
func attacked(g *grid, r, c int, by board.Color) bool {
	// White pawns sit one row below (toward rank 1) the squares they hit.
	pawnRow := r + 1
	if by == board.Black {
		pawnRow = r - 1
	}
	for _, dc := range [2]int{-1, 1} {
		if owned(pieceAt(g, pawnRow, c+dc), by, kindPawn) {
			return true
		}
	}

	for _, s := range knightSteps {
		if owned(pieceAt(g, r+s[0], c+s[1]), by, kindKnight) {
			return true
		}
	}
	for _, s := range kingSteps {
		if owned(pieceAt(g, r+s[0], c+s[1]), by, kindKing) {
			return true
		}
	}

	if slides(g, r, c, by, rookDirs, kindRook) || slides(g, r, c, by, bishopDirs, kindBishop) {
		return true
	}
	return false
}

func slides(g *grid, r, c int, by board.Color, dirs [4][2]int, kind int) bool {
	for _, d := range dirs {
		rr, cc := r+d[0], c+d[1]
		for onBoard(rr, cc) {
			p := g[rr][cc]
			if p != board.Empty {
				if owned(p, by, kind) || owned(p, by, kindQueen) {
					return true
				}
				break
			}
			rr += d[0]
			cc += d[1]
		}
	}
	return false
}

// InCheck reports whether the king of color side is attacked. A side
// without a king is never in check.
func InCheck(e Encoding, side board.Color) bool {
	for r := 0; r < board.Size; r++ {
		for c := 0; c < board.Size; c++ {
			if owned(e.Grid[r][c], side, kindKing) {
				return attacked(&e.Grid, r, c, side.Other())
			}
		}
	}
	return false
}

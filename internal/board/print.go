package board

import (
	"fmt"
	"strings"
)

// Print renders a grid with unicode pieces. Row 0 is printed first. When
// ranks is true the rows are labelled 8..1 and the columns a..h, which is
// only meaningful for a board already in encoding orientation.
func Print(rb RawBoard, ranks bool) string {
	var sb strings.Builder
	if ranks {
		sb.WriteString("\n  a b c d e f g h\n")
	} else {
		sb.WriteString("\n  0 1 2 3 4 5 6 7\n")
	}
	for r := 0; r < Size; r++ {
		label := r
		if ranks {
			label = Size - r
		}
		fmt.Fprintf(&sb, "%d ", label)
		for c := 0; c < Size; c++ {
			l := rb.At(r, c)
			switch {
			case l.Piece != Empty:
				sb.WriteString(l.Piece.Symbol())
			case l.LowConfidence:
				sb.WriteString("?")
			case (r+c)%2 == 0:
				sb.WriteString("□")
			default:
				sb.WriteString("■")
			}
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%d\n", label)
	}
	return sb.String()
}

package board

import "fmt"

// Encode flattens the position into a 64-character string, row-major:
// '.' empty, 'a'/'b' men, 'A'/'B' kings. Used for snapshots and the
// archive; the inverse is Decode.
func (b Board) Encode() string {
	buf := make([]byte, 0, Size*Size)
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			p := b.cells[row][col]
			switch {
			case p.Empty():
				buf = append(buf, '.')
			case p.Side == SideA && p.King:
				buf = append(buf, 'A')
			case p.Side == SideA:
				buf = append(buf, 'a')
			case p.King:
				buf = append(buf, 'B')
			default:
				buf = append(buf, 'b')
			}
		}
	}
	return string(buf)
}

// Decode rebuilds a position from its Encode form.
func Decode(s string) (Board, error) {
	var b Board
	if len(s) != Size*Size {
		return b, fmt.Errorf("board encoding length %d, want %d", len(s), Size*Size)
	}
	for i := 0; i < len(s); i++ {
		row, col := i/Size, i%Size
		switch s[i] {
		case '.':
		case 'a':
			b.cells[row][col] = Piece{Side: SideA}
		case 'A':
			b.cells[row][col] = Piece{Side: SideA, King: true}
		case 'b':
			b.cells[row][col] = Piece{Side: SideB}
		case 'B':
			b.cells[row][col] = Piece{Side: SideB, King: true}
		default:
			return Board{}, fmt.Errorf("bad board encoding byte %q at %d", s[i], i)
		}
		if !b.cells[row][col].Empty() && (row+col)%2 != 1 {
			return Board{}, fmt.Errorf("piece on light square (%d,%d) in encoding", row, col)
		}
	}
	return b, nil
}

// ParseSide maps the wire form back to a Side.
func ParseSide(s string) Side {
	switch s {
	case "A":
		return SideA
	case "B":
		return SideB
	default:
		return SideNone
	}
}

package board

// Side identifies one of the two players.
type Side uint8

const (
	SideNone Side = iota
	SideA         // starts on rows 5-7, moves toward row 0
	SideB         // starts on rows 0-2, moves toward row 7
)

func (s Side) String() string {
	switch s {
	case SideA:
		return "A"
	case SideB:
		return "B"
	default:
		return ""
	}
}

// Opponent returns the other side, or SideNone for SideNone.
func (s Side) Opponent() Side {
	switch s {
	case SideA:
		return SideB
	case SideB:
		return SideA
	default:
		return SideNone
	}
}

// forward is the row delta a man of this side advances by.
func (s Side) forward() int {
	if s == SideA {
		return -1
	}
	return 1
}

// promotionRow is the farthest row from the side's start.
func (s Side) promotionRow() int {
	if s == SideA {
		return 0
	}
	return 7
}

// Cell addresses a board square. Playable squares are the dark ones,
// i.e. (Row+Col) odd.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Valid reports whether the cell is a playable dark square on the board.
func (c Cell) Valid() bool {
	return c.Row >= 0 && c.Row < Size && c.Col >= 0 && c.Col < Size && (c.Row+c.Col)%2 == 1
}

// Piece occupies a cell. The zero value is an empty cell.
type Piece struct {
	Side Side
	King bool
}

// Empty reports whether no piece occupies the cell.
func (p Piece) Empty() bool { return p.Side == SideNone }

// Size is the board edge length.
const Size = 8

// Board is the full position. It is a value type: Apply returns the
// successor position and never mutates the receiver.
type Board struct {
	cells [Size][Size]Piece
}

// Initial returns the standard three-row starting position: side B men on
// the dark squares of rows 0-2, side A men on the dark squares of rows 5-7.
func Initial() Board {
	var b Board
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			if (row+col)%2 != 1 {
				continue
			}
			switch {
			case row <= 2:
				b.cells[row][col] = Piece{Side: SideB}
			case row >= 5:
				b.cells[row][col] = Piece{Side: SideA}
			}
		}
	}
	return b
}

// At returns the piece at c, or the empty piece for off-board cells.
func (b Board) At(c Cell) Piece {
	if c.Row < 0 || c.Row >= Size || c.Col < 0 || c.Col >= Size {
		return Piece{}
	}
	return b.cells[c.Row][c.Col]
}

// Count returns the number of pieces belonging to side.
func (b Board) Count(side Side) int {
	n := 0
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			if b.cells[row][col].Side == side {
				n++
			}
		}
	}
	return n
}

// Apply returns the position after the move. The captured piece, if any,
// is removed immediately, and a man reaching its promotion row becomes a
// king before any chained continuation is considered.
func (b Board) Apply(m Move) Board {
	p := b.cells[m.From.Row][m.From.Col]
	b.cells[m.From.Row][m.From.Col] = Piece{}
	if m.Captured != nil {
		b.cells[m.Captured.Row][m.Captured.Col] = Piece{}
	}
	if !p.King && m.To.Row == p.Side.promotionRow() {
		p.King = true
	}
	b.cells[m.To.Row][m.To.Col] = p
	return b
}

// Cells returns a copy of the raw grid, indexed [row][col].
func (b Board) Cells() [Size][Size]Piece { return b.cells }

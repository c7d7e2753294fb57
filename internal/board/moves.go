package board

// Move is a single step or a single jump-and-land. A turn may chain
// several capture Moves without passing the turn.
type Move struct {
	From     Cell
	To       Cell
	Captured *Cell
}

// IsCapture reports whether the move removes an enemy piece.
func (m Move) IsCapture() bool { return m.Captured != nil }

// diagonals lists the four diagonal directions as (row, col) deltas.
var diagonals = [4][2]int{{-1, -1}, {-1, 1}, {1, -1}, {1, 1}}

// MovesFrom enumerates the moves available to the piece at c, captures
// and non-capture moves separately. Whether the piece is allowed to play
// a non-capture move is the validator's concern, not the board's.
func (b Board) MovesFrom(c Cell) (captures, steps []Move) {
	p := b.At(c)
	if p.Empty() || !c.Valid() {
		return nil, nil
	}
	if p.King {
		return b.kingCaptures(c, p.Side), b.kingSteps(c)
	}
	return b.manCaptures(c, p.Side), b.manSteps(c, p.Side)
}

// manSteps: men step diagonally forward only.
func (b Board) manSteps(c Cell, side Side) []Move {
	var out []Move
	fwd := side.forward()
	for _, dc := range [2]int{-1, 1} {
		to := Cell{Row: c.Row + fwd, Col: c.Col + dc}
		if to.Valid() && b.At(to).Empty() {
			out = append(out, Move{From: c, To: to})
		}
	}
	return out
}

// manCaptures: men capture in any of the four diagonal directions by
// jumping an adjacent enemy piece onto the empty square beyond.
func (b Board) manCaptures(c Cell, side Side) []Move {
	var out []Move
	for _, d := range diagonals {
		mid := Cell{Row: c.Row + d[0], Col: c.Col + d[1]}
		to := Cell{Row: c.Row + 2*d[0], Col: c.Col + 2*d[1]}
		if !to.Valid() {
			continue
		}
		victim := b.At(mid)
		if victim.Side == side.Opponent() && b.At(to).Empty() {
			captured := mid
			out = append(out, Move{From: c, To: to, Captured: &captured})
		}
	}
	return out
}

// kingSteps: kings slide any unobstructed distance; every empty square
// along the diagonal is a distinct destination.
func (b Board) kingSteps(c Cell) []Move {
	var out []Move
	for _, d := range diagonals {
		for k := 1; ; k++ {
			to := Cell{Row: c.Row + k*d[0], Col: c.Col + k*d[1]}
			if !to.Valid() || !b.At(to).Empty() {
				break
			}
			out = append(out, Move{From: c, To: to})
		}
	}
	return out
}

// kingCaptures: a king slides up to the first piece on a diagonal; if it
// is an enemy with at least one empty square behind it, every empty
// landing square along that line is a distinct capture move. A second
// piece directly behind the enemy blocks the capture.
func (b Board) kingCaptures(c Cell, side Side) []Move {
	var out []Move
	for _, d := range diagonals {
		var victim *Cell
		for k := 1; ; k++ {
			cur := Cell{Row: c.Row + k*d[0], Col: c.Col + k*d[1]}
			if !cur.Valid() {
				break
			}
			p := b.At(cur)
			if victim == nil {
				if p.Empty() {
					continue
				}
				if p.Side != side.Opponent() {
					break
				}
				v := cur
				victim = &v
				continue
			}
			if !p.Empty() {
				break
			}
			captured := *victim
			out = append(out, Move{From: c, To: cur, Captured: &captured})
		}
	}
	return out
}

// SideCaptures enumerates every capture available to side across the
// whole board. Non-empty means the forced-capture law is in effect.
func (b Board) SideCaptures(side Side) []Move {
	var out []Move
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			c := Cell{Row: row, Col: col}
			if b.At(c).Side != side {
				continue
			}
			caps, _ := b.MovesFrom(c)
			out = append(out, caps...)
		}
	}
	return out
}

// SideHasMoves reports whether side has at least one legal move of any
// kind. A side with no moves on its turn loses.
func (b Board) SideHasMoves(side Side) bool {
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			c := Cell{Row: row, Col: col}
			if b.At(c).Side != side {
				continue
			}
			caps, steps := b.MovesFrom(c)
			if len(caps) > 0 || len(steps) > 0 {
				return true
			}
		}
	}
	return false
}

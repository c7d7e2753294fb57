package board

import "testing"

func put(b *Board, row, col int, side Side, king bool) {
	b.cells[row][col] = Piece{Side: side, King: king}
}

func TestInitialPosition(t *testing.T) {
	b := Initial()
	if got := b.Count(SideA); got != 12 {
		t.Fatalf("side A men: got %d, want 12", got)
	}
	if got := b.Count(SideB); got != 12 {
		t.Fatalf("side B men: got %d, want 12", got)
	}
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			p := b.cells[row][col]
			if p.Empty() {
				continue
			}
			if (row+col)%2 != 1 {
				t.Fatalf("piece on light square (%d,%d)", row, col)
			}
			if p.King {
				t.Fatalf("king in starting position at (%d,%d)", row, col)
			}
			if row <= 2 && p.Side != SideB {
				t.Fatalf("expected side B at (%d,%d)", row, col)
			}
			if row >= 5 && p.Side != SideA {
				t.Fatalf("expected side A at (%d,%d)", row, col)
			}
		}
	}
}

func TestManStepsForwardOnly(t *testing.T) {
	var b Board
	put(&b, 4, 3, SideA, false)
	caps, steps := b.MovesFrom(Cell{Row: 4, Col: 3})
	if len(caps) != 0 {
		t.Fatalf("unexpected captures: %v", caps)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 forward steps, got %d: %v", len(steps), steps)
	}
	for _, m := range steps {
		if m.To.Row != 3 {
			t.Fatalf("side A man stepped to row %d, want 3", m.To.Row)
		}
	}

	var b2 Board
	put(&b2, 3, 4, SideB, false)
	_, steps2 := b2.MovesFrom(Cell{Row: 3, Col: 4})
	for _, m := range steps2 {
		if m.To.Row != 4 {
			t.Fatalf("side B man stepped to row %d, want 4", m.To.Row)
		}
	}
}

func TestManCapturesBackward(t *testing.T) {
	// Men capture in all four diagonal directions, including backward.
	var b Board
	put(&b, 2, 3, SideA, false)
	put(&b, 3, 4, SideB, false)
	caps, _ := b.MovesFrom(Cell{Row: 2, Col: 3})
	if len(caps) != 1 {
		t.Fatalf("expected 1 backward capture, got %d", len(caps))
	}
	if caps[0].To != (Cell{Row: 4, Col: 5}) {
		t.Fatalf("capture landed at %v", caps[0].To)
	}
	if caps[0].Captured == nil || *caps[0].Captured != (Cell{Row: 3, Col: 4}) {
		t.Fatalf("captured cell %v", caps[0].Captured)
	}
}

func TestKingStepsSlideAnyDistance(t *testing.T) {
	var b Board
	put(&b, 3, 4, SideA, true)
	put(&b, 1, 2, SideA, false) // own piece blocks the up-left diagonal
	_, steps := b.MovesFrom(Cell{Row: 3, Col: 4})
	want := map[Cell]bool{
		{2, 3}: true, // up-left stops before own piece
		{2, 5}: true, {1, 6}: true, {0, 7}: true,
		{4, 3}: true, {5, 2}: true, {6, 1}: true, {7, 0}: true,
		{4, 5}: true, {5, 6}: true, {6, 7}: true,
	}
	if len(steps) != len(want) {
		t.Fatalf("king steps: got %d, want %d (%v)", len(steps), len(want), steps)
	}
	for _, m := range steps {
		if !want[m.To] {
			t.Fatalf("unexpected king destination %v", m.To)
		}
	}
}

func TestKingSlidingCaptureMultipleLandings(t *testing.T) {
	// King at (0,1), enemy at (3,4), empty squares before and beyond:
	// landings (4,5) and (5,6) are two distinct capture moves; (6,7) is
	// blocked by a second piece placed there.
	var b Board
	put(&b, 0, 1, SideA, true)
	put(&b, 3, 4, SideB, false)
	put(&b, 6, 7, SideB, false)
	caps, _ := b.MovesFrom(Cell{Row: 0, Col: 1})
	if len(caps) != 2 {
		t.Fatalf("expected 2 capture landings, got %d: %v", len(caps), caps)
	}
	landings := map[Cell]bool{}
	for _, m := range caps {
		if m.Captured == nil || *m.Captured != (Cell{Row: 3, Col: 4}) {
			t.Fatalf("wrong captured cell: %v", m.Captured)
		}
		landings[m.To] = true
	}
	if !landings[Cell{Row: 4, Col: 5}] || !landings[Cell{Row: 5, Col: 6}] {
		t.Fatalf("unexpected landing set: %v", landings)
	}
}

func TestKingCaptureBlockedByPairedPieces(t *testing.T) {
	// Two enemy pieces back to back cannot be jumped.
	var b Board
	put(&b, 0, 1, SideA, true)
	put(&b, 2, 3, SideB, false)
	put(&b, 3, 4, SideB, false)
	caps, _ := b.MovesFrom(Cell{Row: 0, Col: 1})
	if len(caps) != 0 {
		t.Fatalf("expected no captures through paired pieces, got %v", caps)
	}
}

func TestApplyRemovesCapturedImmediately(t *testing.T) {
	var b Board
	put(&b, 4, 3, SideA, false)
	put(&b, 3, 2, SideB, false)
	mid := Cell{Row: 3, Col: 2}
	next := b.Apply(Move{From: Cell{4, 3}, To: Cell{2, 1}, Captured: &mid})
	if !next.At(mid).Empty() {
		t.Fatalf("captured piece still on board")
	}
	if next.At(Cell{Row: 2, Col: 1}).Side != SideA {
		t.Fatalf("moved piece missing from landing square")
	}
	if b.At(mid).Side != SideB {
		t.Fatalf("Apply mutated the receiver board")
	}
}

func TestApplyPromotesOnFarRow(t *testing.T) {
	var b Board
	put(&b, 1, 2, SideA, false)
	next := b.Apply(Move{From: Cell{1, 2}, To: Cell{0, 1}})
	if p := next.At(Cell{Row: 0, Col: 1}); !p.King {
		t.Fatalf("man not promoted on reaching row 0: %+v", p)
	}

	var b2 Board
	put(&b2, 6, 3, SideB, false)
	next2 := b2.Apply(Move{From: Cell{6, 3}, To: Cell{7, 4}})
	if p := next2.At(Cell{Row: 7, Col: 4}); !p.King {
		t.Fatalf("side B man not promoted on reaching row 7: %+v", p)
	}
}

func TestSideHasMovesBlockedSide(t *testing.T) {
	// A side A man trapped in the corner behind its own piece has no moves.
	var b Board
	put(&b, 7, 0, SideA, false)
	put(&b, 6, 1, SideA, false)
	put(&b, 5, 0, SideA, false)
	put(&b, 5, 2, SideA, false)
	if b.At(Cell{Row: 7, Col: 0}).Empty() {
		t.Fatalf("setup broken")
	}
	caps, steps := b.MovesFrom(Cell{Row: 7, Col: 0})
	if len(caps) != 0 || len(steps) != 0 {
		t.Fatalf("cornered man should have no moves: caps=%v steps=%v", caps, steps)
	}
	if !b.SideHasMoves(SideA) {
		t.Fatalf("side A still has other mobile pieces")
	}
}

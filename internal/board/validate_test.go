package board

import (
	"errors"
	"testing"
)

func TestValidateForcedCaptureGlobal(t *testing.T) {
	// One side A piece has a capture; moving a different, non-capturing
	// piece is illegal even though its step would otherwise be fine.
	var b Board
	put(&b, 4, 3, SideA, false)
	put(&b, 3, 2, SideB, false) // capturable by (4,3)
	put(&b, 6, 5, SideA, false) // innocent bystander

	_, err := Validate(b, SideA, Cell{6, 5}, Cell{5, 4}, nil)
	if !errors.Is(err, ErrMustCapture) {
		t.Fatalf("expected ErrMustCapture for bystander step, got %v", err)
	}

	// A step by the capturing piece is also rejected.
	_, err = Validate(b, SideA, Cell{4, 3}, Cell{3, 4}, nil)
	if !errors.Is(err, ErrMustCapture) {
		t.Fatalf("expected ErrMustCapture for capturing piece's step, got %v", err)
	}

	// The capture itself is accepted.
	v, err := Validate(b, SideA, Cell{4, 3}, Cell{2, 1}, nil)
	if err != nil {
		t.Fatalf("capture rejected: %v", err)
	}
	if !v.Move.IsCapture() || *v.Move.Captured != (Cell{Row: 3, Col: 2}) {
		t.Fatalf("capture cell not recomputed: %+v", v.Move)
	}
}

func TestValidateMultiJumpChain(t *testing.T) {
	// A at (6,1) jumps (5,2) to (4,3), then must continue over (3,4) to
	// (2,5). The turn does not pass between the two captures.
	var b Board
	put(&b, 6, 1, SideA, false)
	put(&b, 7, 0, SideA, false) // second piece, must not be movable mid-chain
	put(&b, 5, 2, SideB, false)
	put(&b, 3, 4, SideB, false)

	v1, err := Validate(b, SideA, Cell{6, 1}, Cell{4, 3}, nil)
	if err != nil {
		t.Fatalf("first jump rejected: %v", err)
	}
	if !v1.Continues {
		t.Fatalf("expected turn to continue after first jump")
	}
	if !v1.Next.At(Cell{Row: 5, Col: 2}).Empty() {
		t.Fatalf("first victim not removed")
	}

	// Mid-chain, moving any other piece is rejected.
	lock := v1.Move.To
	if _, err := Validate(v1.Next, SideA, Cell{7, 0}, Cell{6, 1}, &lock); !errors.Is(err, ErrMustCapture) {
		t.Fatalf("expected ErrMustCapture when abandoning the chain, got %v", err)
	}

	v2, err := Validate(v1.Next, SideA, Cell{4, 3}, Cell{2, 5}, &lock)
	if err != nil {
		t.Fatalf("second jump rejected: %v", err)
	}
	if v2.Continues {
		t.Fatalf("chain should end after second jump")
	}
	if !v2.Next.At(Cell{Row: 3, Col: 4}).Empty() {
		t.Fatalf("second victim not removed")
	}
	if v1.Next.Count(SideB) != 1 || v2.Next.Count(SideB) != 0 {
		t.Fatalf("piece counts wrong: %d then %d", v1.Next.Count(SideB), v2.Next.Count(SideB))
	}
}

func TestValidatePromotionBeforeContinuation(t *testing.T) {
	// A man that promotes by a capture landing re-checks continuation
	// with king powers: from (0,3) it can slide-capture (2,5).
	var b Board
	put(&b, 2, 1, SideA, false)
	put(&b, 1, 2, SideB, false)
	put(&b, 2, 5, SideB, false)

	v, err := Validate(b, SideA, Cell{2, 1}, Cell{0, 3}, nil)
	if err != nil {
		t.Fatalf("promoting capture rejected: %v", err)
	}
	if !v.Promoted {
		t.Fatalf("expected promotion on landing at row 0")
	}
	if !v.Continues {
		t.Fatalf("promoted king should continue the capture chain")
	}
}

func TestValidateRejectsWrongPieceAndOffBoard(t *testing.T) {
	b := Initial()
	if _, err := Validate(b, SideA, Cell{2, 1}, Cell{3, 2}, nil); !errors.Is(err, ErrNotYourPiece) {
		t.Fatalf("expected ErrNotYourPiece moving opponent's man, got %v", err)
	}
	if _, err := Validate(b, SideA, Cell{4, 4}, Cell{3, 3}, nil); err == nil {
		t.Fatalf("expected error for light-square source")
	}
	if _, err := Validate(b, SideA, Cell{5, 0}, Cell{9, 9}, nil); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove for off-board target, got %v", err)
	}
	// Backward step by a man is illegal when no capture exists.
	if _, err := Validate(b, SideA, Cell{5, 0}, Cell{6, 1}, nil); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove for backward man step, got %v", err)
	}
}

func TestValidatePlainStepWhenNoCaptures(t *testing.T) {
	b := Initial()
	v, err := Validate(b, SideA, Cell{5, 0}, Cell{4, 1}, nil)
	if err != nil {
		t.Fatalf("opening step rejected: %v", err)
	}
	if v.Continues || v.Promoted || v.Move.IsCapture() {
		t.Fatalf("plain step verdict wrong: %+v", v)
	}
	if v.Next.Count(SideA) != 12 || v.Next.Count(SideB) != 12 {
		t.Fatalf("piece count changed on a step")
	}
}

package board

type staticErr string

func (e staticErr) Error() string { return string(e) }

// Validation errors. Turn-order checks live at the session layer; the
// validator only judges the move against the position.
var (
	ErrIllegalMove  = staticErr("illegal move")
	ErrMustCapture  = staticErr("a capture is available and must be played")
	ErrNotYourPiece = staticErr("no piece of the moving side at source cell")
)

// Verdict is the validator's accepted-move result.
type Verdict struct {
	Move      Move
	Next      Board
	Promoted  bool
	Continues bool // same side must capture again with the moved piece
}

// Validate decides whether side may play the move from-to on b. The captured cell
// is always recomputed here; client-supplied capture hints are never
// trusted. chain, when non-nil, locks the move to the piece that is
// mid-way through a multi-jump.
//
// The global forced-capture law applies: while any piece of side can
// capture, only capture moves are legal, from any piece that has one.
func Validate(b Board, side Side, from, to Cell, chain *Cell) (Verdict, error) {
	if !from.Valid() || !to.Valid() {
		return Verdict{}, ErrIllegalMove
	}
	if b.At(from).Side != side {
		return Verdict{}, ErrNotYourPiece
	}
	if chain != nil && (from.Row != chain.Row || from.Col != chain.Col) {
		return Verdict{}, ErrMustCapture
	}

	captures, steps := b.MovesFrom(from)

	forced := chain != nil || len(b.SideCaptures(side)) > 0
	if forced {
		if mv, ok := matchMove(captures, to); ok {
			return settle(b, side, mv), nil
		}
		if _, ok := matchMove(steps, to); ok {
			return Verdict{}, ErrMustCapture
		}
		return Verdict{}, ErrIllegalMove
	}

	if mv, ok := matchMove(captures, to); ok {
		return settle(b, side, mv), nil
	}
	if mv, ok := matchMove(steps, to); ok {
		return settle(b, side, mv), nil
	}
	return Verdict{}, ErrIllegalMove
}

func matchMove(moves []Move, to Cell) (Move, bool) {
	for _, m := range moves {
		if m.To == to {
			return m, true
		}
	}
	return Move{}, false
}

// settle applies the accepted move and computes continuation: after a
// capture the moved piece (promotion already applied) is re-examined for
// further captures only; if any exist the turn does not pass.
func settle(b Board, side Side, mv Move) Verdict {
	wasKing := b.At(mv.From).King
	next := b.Apply(mv)
	v := Verdict{
		Move:     mv,
		Next:     next,
		Promoted: !wasKing && next.At(mv.To).King,
	}
	if mv.IsCapture() {
		caps, _ := next.MovesFrom(mv.To)
		v.Continues = len(caps) > 0
	}
	return v
}

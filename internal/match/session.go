package match

import (
	"strings"
	"sync"
	"time"

	"github.com/kapu/dama-arena/internal/board"
	"github.com/kapu/dama-arena/internal/settle"
	"github.com/kapu/dama-arena/pkg/damadto"
)

// Session is the in-memory authority for one match. Every transition
// runs under mu; wallet, settlement, archive and Redis calls never do.
type Session struct {
	mu sync.Mutex

	id       string
	matchKey string
	stake    int64

	status  Status
	bd      board.Board
	turn    board.Side
	chain   *board.Cell
	players []*Player

	createdAt    time.Time
	lastActivity time.Time
	turnDeadline time.Time
	outcome      *Outcome
	settlement   *damadto.SettlementView

	// joining counts seats held by in-flight joins that have not
	// committed yet, so a third racer is rejected before it reserves.
	joining int
	turnGen uint64

	joinTimer   *time.Timer
	turnTimer   *time.Timer
	graceTimers map[string]*time.Timer
	graceGen    map[string]uint64
}

func newSession(id, matchKey string, stake int64, now time.Time) *Session {
	return &Session{
		id:           id,
		matchKey:     matchKey,
		stake:        stake,
		status:       StatusWaiting,
		createdAt:    now,
		lastActivity: now,
		graceTimers:  make(map[string]*time.Timer),
		graceGen:     make(map[string]uint64),
	}
}

// Lock-held helpers below.

func (s *Session) playerByID(id string) *Player {
	for _, p := range s.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *Session) playerBySide(side board.Side) *Player {
	for _, p := range s.players {
		if p.Side == side {
			return p
		}
	}
	return nil
}

func (s *Session) bumpTurn() uint64 {
	s.turnGen++
	return s.turnGen
}

func (s *Session) stopTimersLocked() {
	if s.joinTimer != nil {
		s.joinTimer.Stop()
		s.joinTimer = nil
	}
	if s.turnTimer != nil {
		s.turnTimer.Stop()
		s.turnTimer = nil
	}
	for id, t := range s.graceTimers {
		t.Stop()
		delete(s.graceTimers, id)
	}
}

// finishLocked transitions to FINISHED and invalidates every pending
// timer. Settlement and archiving happen afterwards, off the lock.
func (s *Session) finishLocked(now time.Time, result Result, reason Reason, forfeit, walkover bool) {
	s.status = StatusFinished
	s.outcome = &Outcome{
		Result:    result,
		Reason:    reason,
		Forfeit:   forfeit,
		Walkover:  walkover,
		DecidedAt: now,
	}
	s.lastActivity = now
	s.stopTimersLocked()
}

func resultForSide(side board.Side) Result {
	if side == board.SideB {
		return ResultWinB
	}
	return ResultWinA
}

func (s *Session) settleInput() settle.Input {
	in := settle.Input{SessionID: s.id, Stake: s.stake}
	for _, p := range s.players {
		in.Players = append(in.Players, settle.Participant{UserID: p.ID, HoldToken: p.HoldToken})
	}
	o := s.outcome
	if o == nil {
		return in
	}
	switch o.Result {
	case ResultDraw:
		in.Draw = true
	case ResultWinA:
		if p := s.playerBySide(board.SideA); p != nil {
			in.WinnerID = p.ID
		}
	case ResultWinB:
		if p := s.playerBySide(board.SideB); p != nil {
			in.WinnerID = p.ID
		}
	}
	in.Forfeit = o.Forfeit
	in.Walkover = o.Walkover
	return in
}

func (s *Session) snapshotPlayers() []SnapshotPlayer {
	out := make([]SnapshotPlayer, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, SnapshotPlayer{
			ID:        p.ID,
			Name:      p.Name,
			Side:      p.Side.String(),
			HoldToken: p.HoldToken,
			Connected: p.Connected,
		})
	}
	return out
}

func (s *Session) snapshot() *Snapshot {
	snap := &Snapshot{
		ID:             s.id,
		MatchKey:       s.matchKey,
		Status:         s.status,
		Board:          s.bd.Encode(),
		Turn:           s.turn.String(),
		Stake:          s.stake,
		Players:        s.snapshotPlayers(),
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivity,
		TurnDeadline:   s.turnDeadline,
		Outcome:        s.outcome,
	}
	if s.chain != nil {
		c := *s.chain
		snap.Chain = &c
	}
	if s.settlement != nil {
		snap.TxRef = s.settlement.TxRef
	}
	return snap
}

func (s *Session) historyRecord(rec *settle.Record) *HistoryRecord {
	h := &HistoryRecord{
		SessionID:  s.id,
		MatchKey:   s.matchKey,
		Stake:      s.stake,
		FinalBoard: s.bd.Encode(),
		Players:    s.snapshotPlayers(),
		CreatedAt:  s.createdAt,
		FinishedAt: s.lastActivity,
	}
	if s.outcome != nil {
		h.Result = s.outcome.Result
		h.Reason = s.outcome.Reason
		h.Forfeit = s.outcome.Forfeit
		h.Walkover = s.outcome.Walkover
		h.FinishedAt = s.outcome.DecidedAt
	}
	if rec != nil {
		h.TxRef = rec.TxRef
		h.Amounts = rec.Amounts
		h.Fee = rec.Fee
	}
	return h
}

// historyFromSnapshot rebuilds an archive record from a persisted
// snapshot, for sessions no longer held in memory.
func historyFromSnapshot(snap *Snapshot, rec *settle.Record) *HistoryRecord {
	h := &HistoryRecord{
		SessionID:  snap.ID,
		MatchKey:   snap.MatchKey,
		Stake:      snap.Stake,
		FinalBoard: snap.Board,
		Players:    snap.Players,
		CreatedAt:  snap.CreatedAt,
		FinishedAt: snap.LastActivityAt,
	}
	if snap.Outcome != nil {
		h.Result = snap.Outcome.Result
		h.Reason = snap.Outcome.Reason
		h.Forfeit = snap.Outcome.Forfeit
		h.Walkover = snap.Outcome.Walkover
		h.FinishedAt = snap.Outcome.DecidedAt
	}
	if rec != nil {
		h.TxRef = rec.TxRef
		h.Amounts = rec.Amounts
		h.Fee = rec.Fee
	}
	return h
}

func (s *Session) view(now time.Time) *damadto.SessionView {
	v := &damadto.SessionView{
		SessionID:      s.id,
		MatchKey:       s.matchKey,
		Status:         strings.ToLower(string(s.status)),
		Stake:          s.stake,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivity,
		Settlement:     s.settlement,
	}
	for _, p := range s.players {
		v.Players = append(v.Players, damadto.PlayerView{
			ID:        p.ID,
			Name:      p.Name,
			Side:      p.Side.String(),
			Connected: p.Connected,
		})
	}
	if s.status == StatusActive {
		v.SideToMove = s.turn.String()
		if rem := s.turnDeadline.Sub(now); rem > 0 {
			v.TurnRemainingMS = rem.Milliseconds()
		}
	}
	if s.chain != nil {
		v.Chain = &damadto.CellRef{Row: s.chain.Row, Col: s.chain.Col}
	}
	if s.status != StatusWaiting {
		v.Board = boardView(s.bd)
	}
	if s.outcome != nil {
		v.Outcome = &damadto.OutcomeView{
			Result:    string(s.outcome.Result),
			Reason:    string(s.outcome.Reason),
			Forfeit:   s.outcome.Forfeit,
			Walkover:  s.outcome.Walkover,
			DecidedAt: s.outcome.DecidedAt,
		}
	}
	return v
}

func boardView(b board.Board) [board.Size][board.Size]*damadto.PieceView {
	var out [board.Size][board.Size]*damadto.PieceView
	cells := b.Cells()
	for row := 0; row < board.Size; row++ {
		for col := 0; col < board.Size; col++ {
			p := cells[row][col]
			if p.Empty() {
				continue
			}
			out[row][col] = &damadto.PieceView{Side: p.Side.String(), King: p.King}
		}
	}
	return out
}

// snapshotView rebuilds a client view from a persisted snapshot, for
// reads that miss the in-memory registry.
func snapshotView(snap *Snapshot) (*damadto.SessionView, error) {
	v := &damadto.SessionView{
		SessionID:      snap.ID,
		MatchKey:       snap.MatchKey,
		Status:         strings.ToLower(string(snap.Status)),
		Stake:          snap.Stake,
		CreatedAt:      snap.CreatedAt,
		LastActivityAt: snap.LastActivityAt,
	}
	for _, p := range snap.Players {
		v.Players = append(v.Players, damadto.PlayerView{
			ID:        p.ID,
			Name:      p.Name,
			Side:      p.Side,
			Connected: p.Connected,
		})
	}
	if snap.Status != StatusWaiting {
		bd, err := board.Decode(snap.Board)
		if err != nil {
			return nil, err
		}
		v.Board = boardView(bd)
	}
	if snap.Status == StatusActive {
		v.SideToMove = snap.Turn
		if rem := time.Until(snap.TurnDeadline); rem > 0 {
			v.TurnRemainingMS = rem.Milliseconds()
		}
	}
	if snap.Chain != nil {
		v.Chain = &damadto.CellRef{Row: snap.Chain.Row, Col: snap.Chain.Col}
	}
	if snap.Outcome != nil {
		v.Outcome = &damadto.OutcomeView{
			Result:    string(snap.Outcome.Result),
			Reason:    string(snap.Outcome.Reason),
			Forfeit:   snap.Outcome.Forfeit,
			Walkover:  snap.Outcome.Walkover,
			DecidedAt: snap.Outcome.DecidedAt,
		}
	}
	return v, nil
}

package match

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kapu/dama-arena/internal/board"
	"github.com/kapu/dama-arena/internal/settle"
	"github.com/kapu/dama-arena/internal/wallet"
	"github.com/kapu/dama-arena/pkg/damadto"
)

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *wallet.MemoryWallet) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	w := wallet.NewMemoryWallet()
	w.Deposit("alice", 1000)
	w.Deposit("bob", 1000)

	st := NewStore(rdb, time.Hour)
	settler := settle.NewSettler(rdb, w, 0.1, time.Hour)
	r := NewRegistry(st, w, settler, nil, nil, nil, cfg)
	t.Cleanup(r.Close)
	return r, w
}

func joinBoth(t *testing.T, r *Registry) *damadto.SessionView {
	t.Helper()
	ctx := context.Background()
	if _, err := r.CreateOrJoin(ctx, "table-1", "alice", "Alice", 100); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	v, err := r.CreateOrJoin(ctx, "table-1", "bob", "Bob", 100)
	if err != nil {
		t.Fatalf("bob join: %v", err)
	}
	return v
}

// position builds a board from explicit piece placements via the wire
// encoding.
func position(t *testing.T, pieces map[board.Cell]board.Piece) board.Board {
	t.Helper()
	buf := []byte(strings.Repeat(".", board.Size*board.Size))
	for c, p := range pieces {
		ch := byte('a')
		if p.Side == board.SideB {
			ch = 'b'
		}
		if p.King {
			ch -= 'a' - 'A'
		}
		buf[c.Row*board.Size+c.Col] = ch
	}
	b, err := board.Decode(string(buf))
	if err != nil {
		t.Fatalf("bad test position: %v", err)
	}
	return b
}

func forcePosition(t *testing.T, r *Registry, sessionID string, b board.Board, turn board.Side) {
	t.Helper()
	s := r.get(sessionID)
	if s == nil {
		t.Fatalf("session %s not in registry", sessionID)
	}
	s.mu.Lock()
	s.bd = b
	s.turn = turn
	s.chain = nil
	s.mu.Unlock()
}

func waitFinished(t *testing.T, r *Registry, sessionID string) *damadto.SessionView {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		v, err := r.GetState(context.Background(), sessionID)
		if err == nil && v.Status == "finished" {
			return v
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session did not finish in time")
	return nil
}

func TestCreateOrJoinActivatesSecondPlayer(t *testing.T) {
	r, w := newTestRegistry(t, Config{})
	ctx := context.Background()

	v1, err := r.CreateOrJoin(ctx, "table-1", "alice", "Alice", 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v1.Status != "waiting" || len(v1.Players) != 1 {
		t.Fatalf("after create: status=%s players=%d", v1.Status, len(v1.Players))
	}
	if got := w.Balance("alice"); got != 900 {
		t.Fatalf("alice balance after reserve = %d, want 900", got)
	}

	v2, err := r.CreateOrJoin(ctx, "table-1", "bob", "Bob", 100)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if v2.SessionID != v1.SessionID {
		t.Fatalf("joiner got a different session")
	}
	if v2.Status != "active" || v2.SideToMove != "A" {
		t.Fatalf("after second join: status=%s side_to_move=%s", v2.Status, v2.SideToMove)
	}
	sides := map[string]string{}
	for _, p := range v2.Players {
		sides[p.ID] = p.Side
	}
	if sides["alice"] != "A" || sides["bob"] != "B" {
		t.Fatalf("side assignment = %v", sides)
	}
	if w.Balance("bob") != 900 {
		t.Fatalf("bob balance after reserve = %d, want 900", w.Balance("bob"))
	}
}

func TestRejoinDoesNotStakeTwice(t *testing.T) {
	r, w := newTestRegistry(t, Config{})
	ctx := context.Background()

	v1, err := r.CreateOrJoin(ctx, "table-1", "alice", "Alice", 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	v2, err := r.CreateOrJoin(ctx, "table-1", "alice", "Alice", 100)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if v2.SessionID != v1.SessionID {
		t.Fatal("rejoin produced a new session")
	}
	if got := w.Balance("alice"); got != 900 {
		t.Fatalf("alice staked twice: balance %d", got)
	}
}

func TestThirdJoinRejected(t *testing.T) {
	r, w := newTestRegistry(t, Config{})
	w.Deposit("carol", 500)
	joinBoth(t, r)

	_, err := r.CreateOrJoin(context.Background(), "table-1", "carol", "Carol", 100)
	if !errors.Is(err, ErrRoomFull) && !errors.Is(err, ErrSessionOver) {
		t.Fatalf("third join error = %v", err)
	}
	if got := w.Balance("carol"); got != 500 {
		t.Fatalf("carol charged on rejected join: balance %d", got)
	}
}

func TestJoinInsufficientFundsCreatesNothing(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	_, err := r.CreateOrJoin(ctx, "table-9", "pauper", "Pauper", 100)
	if !errors.Is(err, wallet.ErrInsufficientFunds) {
		t.Fatalf("join error = %v, want insufficient funds", err)
	}
	rooms, err := r.ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(rooms) != 0 {
		t.Fatalf("a session leaked: %+v", rooms)
	}
	// key must be reusable after the failed create
	if _, err := r.CreateOrJoin(ctx, "table-9", "alice", "Alice", 100); err != nil {
		t.Fatalf("create after failed join: %v", err)
	}
}

func TestSubmitMoveOutOfTurnLeavesStateUntouched(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	v := joinBoth(t, r)
	ctx := context.Background()

	before, err := r.GetState(ctx, v.SessionID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	_, err = r.SubmitMove(ctx, v.SessionID, "bob",
		damadto.CellRef{Row: 2, Col: 1}, damadto.CellRef{Row: 3, Col: 2})
	if !errors.Is(err, ErrOutOfTurn) {
		t.Fatalf("out-of-turn move error = %v", err)
	}
	after, err := r.GetState(ctx, v.SessionID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if !after.LastActivityAt.Equal(before.LastActivityAt) {
		t.Fatal("rejected move bumped last activity")
	}
	if after.SideToMove != "A" {
		t.Fatalf("side to move changed to %s", after.SideToMove)
	}
}

func TestSubmitMoveRejectsIllegalTarget(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	v := joinBoth(t, r)

	// backward step for a man
	_, err := r.SubmitMove(context.Background(), v.SessionID, "alice",
		damadto.CellRef{Row: 5, Col: 0}, damadto.CellRef{Row: 6, Col: 1})
	if !errors.Is(err, board.ErrIllegalMove) {
		t.Fatalf("illegal move error = %v", err)
	}
}

func TestPlainMoveAlternatesTurn(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	v := joinBoth(t, r)

	got, err := r.SubmitMove(context.Background(), v.SessionID, "alice",
		damadto.CellRef{Row: 5, Col: 0}, damadto.CellRef{Row: 4, Col: 1})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if got.SideToMove != "B" {
		t.Fatalf("side to move = %s, want B", got.SideToMove)
	}
	if got.Board[4][1] == nil || got.Board[4][1].Side != "A" {
		t.Fatal("moved piece missing from view")
	}
	if got.Board[5][0] != nil {
		t.Fatal("source cell still occupied in view")
	}
}

func TestCapturingLastPieceSettlesWithFee(t *testing.T) {
	r, w := newTestRegistry(t, Config{})
	v := joinBoth(t, r)
	ctx := context.Background()

	forcePosition(t, r, v.SessionID, position(t, map[board.Cell]board.Piece{
		{Row: 4, Col: 3}: {Side: board.SideA},
		{Row: 3, Col: 2}: {Side: board.SideB},
	}), board.SideA)

	got, err := r.SubmitMove(ctx, v.SessionID, "alice",
		damadto.CellRef{Row: 4, Col: 3}, damadto.CellRef{Row: 2, Col: 1})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if got.Status != "finished" || got.Outcome == nil {
		t.Fatalf("status=%s outcome=%+v", got.Status, got.Outcome)
	}
	if got.Outcome.Result != "win_a" || got.Outcome.Reason != "normal" || got.Outcome.Forfeit {
		t.Fatalf("outcome = %+v", got.Outcome)
	}
	if got.Settlement == nil || got.Settlement.TxRef == "" {
		t.Fatalf("settlement missing: %+v", got.Settlement)
	}
	// pot 200, 10% fee: winner nets 180 on a 100 stake
	if w.Balance("alice") != 1080 {
		t.Fatalf("alice balance = %d, want 1080", w.Balance("alice"))
	}
	if w.Balance("bob") != 900 {
		t.Fatalf("bob balance = %d, want 900", w.Balance("bob"))
	}
	if w.Balance(wallet.HouseAccount) != 20 {
		t.Fatalf("house balance = %d, want 20", w.Balance(wallet.HouseAccount))
	}

	// the session left memory but stays readable through its snapshot
	after, err := r.GetState(ctx, v.SessionID)
	if err != nil {
		t.Fatalf("GetState after finish: %v", err)
	}
	if after.Status != "finished" {
		t.Fatalf("snapshot status = %s", after.Status)
	}
}

func TestMultiJumpChainLocksPiece(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	v := joinBoth(t, r)
	ctx := context.Background()

	forcePosition(t, r, v.SessionID, position(t, map[board.Cell]board.Piece{
		{Row: 6, Col: 1}: {Side: board.SideA},
		{Row: 5, Col: 2}: {Side: board.SideB},
		{Row: 3, Col: 4}: {Side: board.SideB},
		{Row: 7, Col: 0}: {Side: board.SideA},
		{Row: 0, Col: 3}: {Side: board.SideB},
	}), board.SideA)

	mid, err := r.SubmitMove(ctx, v.SessionID, "alice",
		damadto.CellRef{Row: 6, Col: 1}, damadto.CellRef{Row: 4, Col: 3})
	if err != nil {
		t.Fatalf("first jump: %v", err)
	}
	if mid.SideToMove != "A" || mid.Chain == nil || mid.Chain.Row != 4 || mid.Chain.Col != 3 {
		t.Fatalf("chain state = side %s chain %+v", mid.SideToMove, mid.Chain)
	}

	// another piece may not move while the chain is open
	_, err = r.SubmitMove(ctx, v.SessionID, "alice",
		damadto.CellRef{Row: 7, Col: 0}, damadto.CellRef{Row: 6, Col: 1})
	if !errors.Is(err, board.ErrMustCapture) {
		t.Fatalf("off-chain move error = %v", err)
	}

	end, err := r.SubmitMove(ctx, v.SessionID, "alice",
		damadto.CellRef{Row: 4, Col: 3}, damadto.CellRef{Row: 2, Col: 5})
	if err != nil {
		t.Fatalf("second jump: %v", err)
	}
	if end.Chain != nil || end.SideToMove != "B" {
		t.Fatalf("after chain: side %s chain %+v", end.SideToMove, end.Chain)
	}
	if end.Board[5][2] != nil || end.Board[3][4] != nil {
		t.Fatal("captured pieces still on the board")
	}
}

func TestResignForfeitsFullPot(t *testing.T) {
	r, w := newTestRegistry(t, Config{})
	v := joinBoth(t, r)

	got, err := r.Resign(context.Background(), v.SessionID, "bob")
	if err != nil {
		t.Fatalf("resign: %v", err)
	}
	if got.Outcome == nil || got.Outcome.Result != "win_a" || got.Outcome.Reason != "resign" || !got.Outcome.Forfeit {
		t.Fatalf("outcome = %+v", got.Outcome)
	}
	// forfeit pays the full pot, no fee
	if w.Balance("alice") != 1100 {
		t.Fatalf("alice balance = %d, want 1100", w.Balance("alice"))
	}
	if w.Balance("bob") != 900 {
		t.Fatalf("bob balance = %d, want 900", w.Balance("bob"))
	}
}

func TestDrawAgreementRefundsBoth(t *testing.T) {
	r, w := newTestRegistry(t, Config{})
	v := joinBoth(t, r)
	ctx := context.Background()

	mid, err := r.OfferDraw(ctx, v.SessionID, "alice")
	if err != nil {
		t.Fatalf("first offer: %v", err)
	}
	if mid.Status != "active" {
		t.Fatalf("one-sided offer finished the game: %s", mid.Status)
	}
	got, err := r.OfferDraw(ctx, v.SessionID, "bob")
	if err != nil {
		t.Fatalf("second offer: %v", err)
	}
	if got.Outcome == nil || got.Outcome.Result != "draw" {
		t.Fatalf("outcome = %+v", got.Outcome)
	}
	if w.Balance("alice") != 1000 || w.Balance("bob") != 1000 {
		t.Fatalf("refund missing: alice=%d bob=%d", w.Balance("alice"), w.Balance("bob"))
	}
}

func TestMoveClearsPendingDrawOffer(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	v := joinBoth(t, r)
	ctx := context.Background()

	if _, err := r.OfferDraw(ctx, v.SessionID, "bob"); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if _, err := r.SubmitMove(ctx, v.SessionID, "alice",
		damadto.CellRef{Row: 5, Col: 0}, damadto.CellRef{Row: 4, Col: 1}); err != nil {
		t.Fatalf("move: %v", err)
	}
	// bob's stale offer must not end the game on alice's later offer
	got, err := r.OfferDraw(ctx, v.SessionID, "bob")
	if err != nil {
		t.Fatalf("re-offer: %v", err)
	}
	if got.Status != "active" {
		t.Fatalf("stale offer pair finished the game: %s", got.Status)
	}
}

func TestJoinTimeoutWalkover(t *testing.T) {
	r, w := newTestRegistry(t, Config{JoinTimeout: 30 * time.Millisecond})
	v, err := r.CreateOrJoin(context.Background(), "table-1", "alice", "Alice", 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got := waitFinished(t, r, v.SessionID)
	if got.Outcome == nil || !got.Outcome.Walkover || !got.Outcome.Forfeit || got.Outcome.Reason != "timeout" {
		t.Fatalf("outcome = %+v", got.Outcome)
	}
	if w.Balance("alice") != 1000 {
		t.Fatalf("walkover refund missing: balance %d", w.Balance("alice"))
	}
}

func TestTurnTimeoutForfeitsSideToMove(t *testing.T) {
	r, w := newTestRegistry(t, Config{TurnTimeout: 30 * time.Millisecond})
	v := joinBoth(t, r)

	got := waitFinished(t, r, v.SessionID)
	if got.Outcome == nil || got.Outcome.Result != "win_b" || got.Outcome.Reason != "timeout" || !got.Outcome.Forfeit {
		t.Fatalf("outcome = %+v", got.Outcome)
	}
	if w.Balance("bob") != 1100 {
		t.Fatalf("bob balance = %d, want 1100", w.Balance("bob"))
	}
}

func TestLeaveWhileWaitingCancelsAndRefunds(t *testing.T) {
	r, w := newTestRegistry(t, Config{})
	ctx := context.Background()
	v, err := r.CreateOrJoin(ctx, "table-1", "alice", "Alice", 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.Leave(ctx, v.SessionID, "alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if w.Balance("alice") != 1000 {
		t.Fatalf("hold not released: balance %d", w.Balance("alice"))
	}
	if _, err := r.GetState(ctx, v.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("GetState after cancel = %v", err)
	}
}

func TestDisconnectGraceThenForfeit(t *testing.T) {
	r, w := newTestRegistry(t, Config{GracePeriod: 30 * time.Millisecond})
	v := joinBoth(t, r)
	ctx := context.Background()

	mid, err := r.Leave(ctx, v.SessionID, "bob")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if mid.Status != "active" {
		t.Fatalf("disconnect ended the game immediately: %s", mid.Status)
	}

	got := waitFinished(t, r, v.SessionID)
	if got.Outcome == nil || got.Outcome.Result != "win_a" || got.Outcome.Reason != "disconnect" {
		t.Fatalf("outcome = %+v", got.Outcome)
	}
	if w.Balance("alice") != 1100 {
		t.Fatalf("alice balance = %d, want 1100", w.Balance("alice"))
	}
}

func TestSocketDropWhileWaitingKeepsRoomOpen(t *testing.T) {
	r, w := newTestRegistry(t, Config{})
	ctx := context.Background()
	v, err := r.CreateOrJoin(ctx, "table-1", "alice", "Alice", 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mid, err := r.Disconnect(ctx, v.SessionID, "alice")
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if mid.Status != "waiting" {
		t.Fatalf("socket drop cancelled the room: status %s", mid.Status)
	}
	if mid.Players[0].Connected {
		t.Fatal("player still marked connected after socket drop")
	}
	if w.Balance("alice") != 900 {
		t.Fatalf("socket drop released the hold: balance %d", w.Balance("alice"))
	}

	// the creator comes back and the room still fills normally
	back, err := r.CreateOrJoin(ctx, "table-1", "alice", "Alice", 100)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if back.Status != "waiting" || !back.Players[0].Connected {
		t.Fatalf("rejoin view = %+v", back)
	}
	got, err := r.CreateOrJoin(ctx, "table-1", "bob", "Bob", 100)
	if err != nil {
		t.Fatalf("bob join: %v", err)
	}
	if got.Status != "active" {
		t.Fatalf("status after second join = %s", got.Status)
	}
}

func TestDisconnectWhileActiveStartsGrace(t *testing.T) {
	r, w := newTestRegistry(t, Config{GracePeriod: 30 * time.Millisecond})
	v := joinBoth(t, r)
	ctx := context.Background()

	mid, err := r.Disconnect(ctx, v.SessionID, "bob")
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if mid.Status != "active" {
		t.Fatalf("disconnect ended the game immediately: %s", mid.Status)
	}

	got := waitFinished(t, r, v.SessionID)
	if got.Outcome == nil || got.Outcome.Result != "win_a" || got.Outcome.Reason != "disconnect" {
		t.Fatalf("outcome = %+v", got.Outcome)
	}
	if w.Balance("alice") != 1100 {
		t.Fatalf("alice balance = %d, want 1100", w.Balance("alice"))
	}
}

func TestReconnectWithinGraceKeepsPlaying(t *testing.T) {
	r, _ := newTestRegistry(t, Config{GracePeriod: 80 * time.Millisecond})
	v := joinBoth(t, r)
	ctx := context.Background()

	if _, err := r.Leave(ctx, v.SessionID, "bob"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	got, err := r.CreateOrJoin(ctx, "table-1", "bob", "Bob", 100)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got.Status != "active" {
		t.Fatalf("status after reconnect = %s", got.Status)
	}
	time.Sleep(150 * time.Millisecond)
	after, err := r.GetState(ctx, v.SessionID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if after.Status != "active" {
		t.Fatal("stale grace timer forfeited a reconnected player")
	}
}

func TestPlayerBusyInAnotherSession(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	joinBoth(t, r)

	_, err := r.CreateOrJoin(context.Background(), "table-2", "alice", "Alice", 100)
	if !errors.Is(err, ErrPlayerBusy) {
		t.Fatalf("second concurrent session error = %v", err)
	}
}

func TestListOpenShowsWaitingSessions(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()
	v, err := r.CreateOrJoin(ctx, "table-1", "alice", "Alice", 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rooms, err := r.ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(rooms) != 1 || rooms[0].SessionID != v.SessionID || rooms[0].Creator != "Alice" {
		t.Fatalf("rooms = %+v", rooms)
	}

	if _, err := r.CreateOrJoin(ctx, "table-1", "bob", "Bob", 100); err != nil {
		t.Fatalf("join: %v", err)
	}
	rooms, err = r.ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(rooms) != 0 {
		t.Fatalf("active session still listed: %+v", rooms)
	}
}

func TestSubscribeReceivesStateChanges(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()
	v, err := r.CreateOrJoin(ctx, "table-1", "alice", "Alice", 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var seen []*damadto.SessionView
	cancel := r.Subscribe(v.SessionID, func(view *damadto.SessionView) {
		seen = append(seen, view)
	})
	defer cancel()

	if _, err := r.CreateOrJoin(ctx, "table-1", "bob", "Bob", 100); err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(seen) == 0 || seen[len(seen)-1].Status != "active" {
		t.Fatalf("subscriber missed activation: %d events", len(seen))
	}
}

func TestClaimSeatCapsAtTwo(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	st := NewStore(rdb, time.Hour)
	ctx := context.Background()

	if err := st.ClaimSeat(ctx, "s1", "alice"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := st.ClaimSeat(ctx, "s1", "alice"); err != nil {
		t.Fatalf("re-claim by holder: %v", err)
	}
	if err := st.ClaimSeat(ctx, "s1", "bob"); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if err := st.ClaimSeat(ctx, "s1", "carol"); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("third claim error = %v", err)
	}
	if err := st.ReleaseSeat(ctx, "s1", "bob"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := st.ClaimSeat(ctx, "s1", "carol"); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
}

type memArchiver struct {
	mu   sync.Mutex
	rows map[string]*HistoryRecord
}

func (m *memArchiver) SaveMatch(_ context.Context, rec *HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = make(map[string]*HistoryRecord)
	}
	m.rows[rec.SessionID] = rec
	return nil
}

func (m *memArchiver) row(id string) *HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

type commitFlakyWallet struct {
	*wallet.MemoryWallet
	failures int
}

func (w *commitFlakyWallet) Commit(ctx context.Context, holdToken, toUserID string, amount int64) error {
	if w.failures > 0 {
		w.failures--
		return errors.New("ledger offline")
	}
	return w.MemoryWallet.Commit(ctx, holdToken, toUserID, amount)
}

func TestSweepRefreshesArchiveAfterWalletOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	fw := &commitFlakyWallet{MemoryWallet: wallet.NewMemoryWallet(), failures: 1}
	fw.Deposit("alice", 1000)
	fw.Deposit("bob", 1000)

	ar := &memArchiver{}
	st := NewStore(rdb, time.Hour)
	settler := settle.NewSettler(rdb, fw, 0.1, time.Hour)
	r := NewRegistry(st, fw, settler, ar, nil, nil, Config{})
	t.Cleanup(r.Close)

	ctx := context.Background()
	v := joinBoth(t, r)
	forcePosition(t, r, v.SessionID, position(t, map[board.Cell]board.Piece{
		{Row: 4, Col: 3}: {Side: board.SideA},
		{Row: 3, Col: 2}: {Side: board.SideB},
	}), board.SideA)

	if _, err := r.SubmitMove(ctx, v.SessionID, "alice", damadto.CellRef{Row: 4, Col: 3}, damadto.CellRef{Row: 2, Col: 1}); err != nil {
		t.Fatalf("winning move: %v", err)
	}

	first := ar.row(v.SessionID)
	if first == nil {
		t.Fatal("no archive row after finish")
	}
	if first.TxRef != "" {
		t.Fatal("inline settlement unexpectedly succeeded")
	}

	n, err := settler.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v", n, err)
	}

	second := ar.row(v.SessionID)
	if second == nil || second.TxRef == "" {
		t.Fatalf("archive row not refreshed after sweep: %+v", second)
	}
	if second.Amounts["alice"] != 180 || second.Fee != 20 {
		t.Fatalf("settlement amounts = %+v fee = %d", second.Amounts, second.Fee)
	}
	if fw.Balance("alice") != 1080 || fw.Balance("bob") != 900 {
		t.Fatalf("balances after sweep: alice=%d bob=%d", fw.Balance("alice"), fw.Balance("bob"))
	}
}

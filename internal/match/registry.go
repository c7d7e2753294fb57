package match

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kapu/dama-arena/internal/board"
	"github.com/kapu/dama-arena/internal/obslog"
	"github.com/kapu/dama-arena/internal/settle"
	"github.com/kapu/dama-arena/internal/wallet"
	"github.com/kapu/dama-arena/pkg/damadto"
)

// Config carries the registry timing knobs. Zero values fall back to
// the defaults.
type Config struct {
	JoinTimeout time.Duration
	TurnTimeout time.Duration
	GracePeriod time.Duration
}

const (
	defaultJoinTimeout = 5 * time.Minute
	defaultTurnTimeout = 2 * time.Minute
	defaultGracePeriod = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = defaultJoinTimeout
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = defaultTurnTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaultGracePeriod
	}
	return c
}

// Texts renders player-facing notification templates. *msgcat.Catalog
// satisfies it; a nil Texts falls back to plain strings.
type Texts interface {
	Render(key string, data any) (string, error)
}

// Registry owns every live session in this process. It is the only
// writer of session state; snapshots in Redis exist for recovery and
// cross-instance reads.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byKey    map[string]string
	byPlayer map[string]string

	store    *Store
	wallet   wallet.Wallet
	settler  *settle.Settler
	archive  Archiver
	notifier Notifier
	texts    Texts
	cfg      Config

	subMu   sync.RWMutex
	subs    map[string]map[int]func(*damadto.SessionView)
	nextSub int
}

func NewRegistry(store *Store, w wallet.Wallet, settler *settle.Settler, archive Archiver, notifier Notifier, texts Texts, cfg Config) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		byKey:    make(map[string]string),
		byPlayer: make(map[string]string),
		store:    store,
		wallet:   w,
		settler:  settler,
		archive:  archive,
		notifier: notifier,
		texts:    texts,
		cfg:      cfg.withDefaults(),
		subs:     make(map[string]map[int]func(*damadto.SessionView)),
	}
	if settler != nil {
		settler.OnSettled(r.resettled)
	}
	return r
}

// resettled refreshes the archive row for a session whose inline
// settlement failed and was later completed by the reconciler sweep.
// The session is long detached, so the record is rebuilt from the
// Redis snapshot.
func (r *Registry) resettled(ctx context.Context, rec *settle.Record) {
	if r.archive == nil || rec == nil {
		return
	}
	snap, err := r.store.LoadSnapshot(ctx, rec.SessionID)
	if err != nil || snap == nil {
		obslog.L().Warn("resettle_snapshot_missing", zap.String("session_id", rec.SessionID), zap.Error(err))
		return
	}
	if err := r.archive.SaveMatch(ctx, historyFromSnapshot(snap, rec)); err != nil {
		obslog.L().Error("archive_failed", zap.String("session_id", rec.SessionID), zap.Error(err))
	}
}

func (r *Registry) get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// CreateOrJoin seats the player in the session for matchKey, creating
// the session if none exists. A player already seated reconnects and
// gets the current view back without a second stake. The second seat
// activates the game: creator plays side A, joiner side B, A moves
// first.
func (r *Registry) CreateOrJoin(ctx context.Context, matchKey, playerID, playerName string, stake int64) (*damadto.SessionView, error) {
	matchKey = strings.TrimSpace(matchKey)
	playerID = strings.TrimSpace(playerID)
	if matchKey == "" || playerID == "" || stake <= 0 {
		return nil, ErrInvalidArgs
	}

	r.mu.Lock()
	s := r.sessions[r.byKey[matchKey]]
	if cur, busy := r.byPlayer[playerID]; busy && (s == nil || cur != s.id) {
		r.mu.Unlock()
		return nil, ErrPlayerBusy
	}
	created := false
	if s == nil {
		s = newSession(uuid.NewString(), matchKey, stake, time.Now())
		r.sessions[s.id] = s
		r.byKey[matchKey] = s.id
		created = true
	}
	r.mu.Unlock()

	now := time.Now()
	s.mu.Lock()
	if p := s.playerByID(playerID); p != nil {
		r.reconnectLocked(s, p, now)
		view, snap := s.view(now), s.snapshot()
		s.mu.Unlock()
		obslog.L().Info("session_rejoin", zap.String("session_id", s.id), zap.String("player_id", playerID))
		r.persist(ctx, snap)
		r.broadcast(s.id, view)
		return view, nil
	}
	if s.status == StatusFinished {
		s.mu.Unlock()
		return nil, ErrSessionOver
	}
	if s.stake != stake {
		s.mu.Unlock()
		r.abortJoin(ctx, s, created)
		return nil, ErrInvalidArgs
	}
	if len(s.players)+s.joining >= 2 {
		s.mu.Unlock()
		return nil, ErrRoomFull
	}
	s.joining++
	s.mu.Unlock()

	// External calls run off the session lock. The Redis seat set is
	// the cross-instance arbiter; the wallet hold is taken only after
	// the seat is ours.
	if err := r.store.ClaimSeat(ctx, s.id, playerID); err != nil {
		r.undoJoin(ctx, s, created)
		return nil, err
	}
	hold, err := r.wallet.Reserve(ctx, playerID, stake)
	if err != nil {
		_ = r.store.ReleaseSeat(ctx, s.id, playerID)
		r.undoJoin(ctx, s, created)
		return nil, err
	}

	now = time.Now()
	s.mu.Lock()
	s.joining--
	if s.status != StatusWaiting {
		s.mu.Unlock()
		_ = r.wallet.Release(ctx, hold)
		_ = r.store.ReleaseSeat(ctx, s.id, playerID)
		return nil, ErrSessionOver
	}
	side := board.SideA
	if len(s.players) == 1 {
		side = board.SideB
	}
	s.players = append(s.players, &Player{
		ID:        playerID,
		Name:      playerName,
		Side:      side,
		HoldToken: hold,
		Connected: true,
	})
	s.lastActivity = now
	started := false
	switch len(s.players) {
	case 1:
		s.joinTimer = time.AfterFunc(r.cfg.JoinTimeout, func() { r.onJoinTimeout(s.id) })
	case 2:
		s.status = StatusActive
		s.bd = board.Initial()
		s.turn = board.SideA
		s.scheduleTurn(r, now)
		if s.joinTimer != nil {
			s.joinTimer.Stop()
			s.joinTimer = nil
		}
		started = true
	}
	view, snap := s.view(now), s.snapshot()
	s.mu.Unlock()

	r.mu.Lock()
	r.byPlayer[playerID] = s.id
	r.mu.Unlock()

	if created {
		_ = r.store.AddOpen(ctx, s.id)
	}
	if started {
		_ = r.store.RemoveOpen(ctx, s.id)
	}
	r.persist(ctx, snap)
	r.broadcast(s.id, view)
	obslog.L().Info("session_join",
		zap.String("session_id", s.id),
		zap.String("match_key", matchKey),
		zap.String("player_id", playerID),
		zap.Bool("started", started))
	if started {
		r.pushText(s.id, view, "match.start", "Your match has started.")
	}
	return view, nil
}

// reconnectLocked clears the player's disconnect state and cancels any
// pending grace timer.
func (r *Registry) reconnectLocked(s *Session, p *Player, now time.Time) {
	p.Connected = true
	s.graceGen[p.ID]++
	if t := s.graceTimers[p.ID]; t != nil {
		t.Stop()
		delete(s.graceTimers, p.ID)
	}
	s.lastActivity = now
}

// scheduleTurn resets the turn clock for the side to move and arms the
// timeout callback with the new generation. Caller holds s.mu.
func (s *Session) scheduleTurn(r *Registry, now time.Time) {
	s.turnDeadline = now.Add(r.cfg.TurnTimeout)
	gen := s.bumpTurn()
	if s.turnTimer != nil {
		s.turnTimer.Stop()
	}
	s.turnTimer = time.AfterFunc(r.cfg.TurnTimeout, func() { r.onTurnTimeout(s.id, gen) })
}

// undoJoin gives back the provisional seat count and drops a freshly
// created session that never got a participant.
func (r *Registry) undoJoin(ctx context.Context, s *Session, created bool) {
	s.mu.Lock()
	s.joining--
	empty := created && len(s.players) == 0 && s.joining == 0 && s.status == StatusWaiting
	if empty {
		s.stopTimersLocked()
		s.status = StatusFinished
	}
	s.mu.Unlock()
	if empty {
		r.detach(s)
		_ = r.store.Delete(ctx, s.id)
	}
}

func (r *Registry) abortJoin(ctx context.Context, s *Session, created bool) {
	s.mu.Lock()
	empty := created && len(s.players) == 0 && s.joining == 0 && s.status == StatusWaiting
	if empty {
		s.stopTimersLocked()
		s.status = StatusFinished
	}
	s.mu.Unlock()
	if empty {
		r.detach(s)
		_ = r.store.Delete(ctx, s.id)
	}
}

// SubmitMove validates and applies one half-move for the player. A
// rejected move leaves the session untouched, the clock included.
func (r *Registry) SubmitMove(ctx context.Context, sessionID, playerID string, from, to damadto.CellRef) (*damadto.SessionView, error) {
	s := r.get(sessionID)
	if s == nil {
		return nil, ErrSessionNotFound
	}
	now := time.Now()
	s.mu.Lock()
	switch s.status {
	case StatusFinished:
		s.mu.Unlock()
		return nil, ErrSessionOver
	case StatusWaiting:
		s.mu.Unlock()
		return nil, ErrNotActive
	}
	p := s.playerByID(playerID)
	if p == nil {
		s.mu.Unlock()
		return nil, ErrNotParticipant
	}
	if p.Side != s.turn {
		s.mu.Unlock()
		return nil, ErrOutOfTurn
	}
	verdict, err := board.Validate(s.bd,
		p.Side,
		board.Cell{Row: from.Row, Col: from.Col},
		board.Cell{Row: to.Row, Col: to.Col},
		s.chain)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.bd = verdict.Next
	s.lastActivity = now
	for _, q := range s.players {
		q.DrawOffer = false
	}
	finished := false
	if verdict.Continues {
		landed := board.Cell{Row: to.Row, Col: to.Col}
		s.chain = &landed
	} else {
		s.chain = nil
		s.turn = p.Side.Opponent()
		if s.bd.Count(s.turn) == 0 || !s.bd.SideHasMoves(s.turn) {
			s.finishLocked(now, resultForSide(p.Side), ReasonNormal, false, false)
			finished = true
		}
	}
	if !finished {
		s.scheduleTurn(r, now)
	}
	view, snap := s.view(now), s.snapshot()
	s.mu.Unlock()

	obslog.L().Info("session_move",
		zap.String("session_id", sessionID),
		zap.String("player_id", playerID),
		zap.Bool("capture", verdict.Move.IsCapture()),
		zap.Bool("continues", verdict.Continues),
		zap.Bool("finished", finished))
	if finished {
		return r.finalize(ctx, s), nil
	}
	r.persist(ctx, snap)
	r.broadcast(s.id, view)
	return view, nil
}

// Leave marks the player disconnected. During the waiting phase it
// cancels the session and releases the hold; during play it starts the
// grace clock instead of forfeiting on the spot.
func (r *Registry) Leave(ctx context.Context, sessionID, playerID string) (*damadto.SessionView, error) {
	s := r.get(sessionID)
	if s == nil {
		return nil, ErrSessionNotFound
	}
	now := time.Now()
	s.mu.Lock()
	p := s.playerByID(playerID)
	if p == nil {
		s.mu.Unlock()
		return nil, ErrNotParticipant
	}
	switch s.status {
	case StatusFinished:
		view := s.view(now)
		s.mu.Unlock()
		return view, nil
	case StatusWaiting:
		hold := p.HoldToken
		s.stopTimersLocked()
		s.status = StatusFinished
		s.lastActivity = now
		view := s.view(now)
		s.mu.Unlock()
		_ = r.wallet.Release(ctx, hold)
		obslog.L().Info("session_cancel", zap.String("session_id", s.id), zap.String("player_id", playerID))
		r.broadcast(s.id, view)
		r.detach(s)
		_ = r.store.Delete(ctx, s.id)
		return view, nil
	}
	s.startGraceLocked(r, p, now)
	view, snap := s.view(now), s.snapshot()
	s.mu.Unlock()
	obslog.L().Info("session_disconnect", zap.String("session_id", s.id), zap.String("player_id", playerID))
	r.persist(ctx, snap)
	r.broadcast(s.id, view)
	return view, nil
}

// Disconnect records a vanished transport for the player. Unlike Leave
// it never cancels a waiting room: the creator keeps the seat and the
// hold, and the join clock decides abandonment. During play it opens
// the same grace window Leave does.
func (r *Registry) Disconnect(ctx context.Context, sessionID, playerID string) (*damadto.SessionView, error) {
	s := r.get(sessionID)
	if s == nil {
		return nil, ErrSessionNotFound
	}
	now := time.Now()
	s.mu.Lock()
	p := s.playerByID(playerID)
	if p == nil {
		s.mu.Unlock()
		return nil, ErrNotParticipant
	}
	if s.status == StatusFinished {
		view := s.view(now)
		s.mu.Unlock()
		return view, nil
	}
	if s.status == StatusWaiting {
		p.Connected = false
		s.lastActivity = now
		view, snap := s.view(now), s.snapshot()
		s.mu.Unlock()
		obslog.L().Info("session_socket_drop", zap.String("session_id", s.id), zap.String("player_id", playerID))
		r.persist(ctx, snap)
		r.broadcast(s.id, view)
		return view, nil
	}
	s.startGraceLocked(r, p, now)
	view, snap := s.view(now), s.snapshot()
	s.mu.Unlock()
	obslog.L().Info("session_disconnect", zap.String("session_id", s.id), zap.String("player_id", playerID))
	r.persist(ctx, snap)
	r.broadcast(s.id, view)
	return view, nil
}

// startGraceLocked marks the player disconnected and arms the grace
// clock with a fresh generation. Caller holds s.mu.
func (s *Session) startGraceLocked(r *Registry, p *Player, now time.Time) {
	p.Connected = false
	s.graceGen[p.ID]++
	gen := s.graceGen[p.ID]
	if t := s.graceTimers[p.ID]; t != nil {
		t.Stop()
	}
	s.graceTimers[p.ID] = time.AfterFunc(r.cfg.GracePeriod, func() {
		r.onGraceExpired(s.id, p.ID, gen)
	})
	s.lastActivity = now
}

// Resign forfeits the game immediately: the opponent collects the full
// pot, no fee.
func (r *Registry) Resign(ctx context.Context, sessionID, playerID string) (*damadto.SessionView, error) {
	s := r.get(sessionID)
	if s == nil {
		return nil, ErrSessionNotFound
	}
	now := time.Now()
	s.mu.Lock()
	p := s.playerByID(playerID)
	if p == nil {
		s.mu.Unlock()
		return nil, ErrNotParticipant
	}
	switch s.status {
	case StatusFinished:
		s.mu.Unlock()
		return nil, ErrSessionOver
	case StatusWaiting:
		s.mu.Unlock()
		return r.Leave(ctx, sessionID, playerID)
	}
	s.finishLocked(now, resultForSide(p.Side.Opponent()), ReasonResign, true, false)
	s.mu.Unlock()
	obslog.L().Info("session_resign", zap.String("session_id", s.id), zap.String("player_id", playerID))
	return r.finalize(ctx, s), nil
}

// OfferDraw records the player's agreement to a draw. When both sides
// have offered, the game ends drawn and both stakes are refunded.
func (r *Registry) OfferDraw(ctx context.Context, sessionID, playerID string) (*damadto.SessionView, error) {
	s := r.get(sessionID)
	if s == nil {
		return nil, ErrSessionNotFound
	}
	now := time.Now()
	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return nil, ErrNotActive
	}
	p := s.playerByID(playerID)
	if p == nil {
		s.mu.Unlock()
		return nil, ErrNotParticipant
	}
	p.DrawOffer = true
	agreed := true
	for _, q := range s.players {
		agreed = agreed && q.DrawOffer
	}
	if agreed {
		s.finishLocked(now, ResultDraw, ReasonAgreement, false, false)
		s.mu.Unlock()
		obslog.L().Info("session_draw_agreed", zap.String("session_id", s.id))
		return r.finalize(ctx, s), nil
	}
	s.lastActivity = now
	view, snap := s.view(now), s.snapshot()
	s.mu.Unlock()
	r.persist(ctx, snap)
	r.broadcast(s.id, view)
	return view, nil
}

// GetState returns the current view, consulting the Redis snapshot for
// sessions this instance does not hold in memory.
func (r *Registry) GetState(ctx context.Context, sessionID string) (*damadto.SessionView, error) {
	if s := r.get(sessionID); s != nil {
		s.mu.Lock()
		view := s.view(time.Now())
		s.mu.Unlock()
		return view, nil
	}
	snap, err := r.store.LoadSnapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrSessionNotFound
	}
	return snapshotView(snap)
}

// ListOpen lists waiting sessions still short one participant.
func (r *Registry) ListOpen(ctx context.Context) ([]damadto.RoomInfo, error) {
	ids, err := r.store.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]damadto.RoomInfo, 0, len(ids))
	for _, id := range ids {
		s := r.get(id)
		if s == nil {
			continue
		}
		s.mu.Lock()
		if s.status == StatusWaiting && len(s.players) == 1 {
			out = append(out, damadto.RoomInfo{
				SessionID: s.id,
				MatchKey:  s.matchKey,
				Stake:     s.stake,
				Creator:   s.players[0].Name,
				CreatedAt: s.createdAt.Unix(),
			})
		}
		s.mu.Unlock()
	}
	return out, nil
}

// Subscribe registers a session state listener and returns its cancel
// func. Listeners must not block.
func (r *Registry) Subscribe(sessionID string, fn func(*damadto.SessionView)) func() {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	m := r.subs[sessionID]
	if m == nil {
		m = make(map[int]func(*damadto.SessionView))
		r.subs[sessionID] = m
	}
	m[id] = fn
	r.subMu.Unlock()
	return func() {
		r.subMu.Lock()
		if m := r.subs[sessionID]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(r.subs, sessionID)
			}
		}
		r.subMu.Unlock()
	}
}

func (r *Registry) broadcast(sessionID string, view *damadto.SessionView) {
	r.subMu.RLock()
	fns := make([]func(*damadto.SessionView), 0, len(r.subs[sessionID]))
	for _, fn := range r.subs[sessionID] {
		fns = append(fns, fn)
	}
	r.subMu.RUnlock()
	for _, fn := range fns {
		fn(view)
	}
}

func (r *Registry) persist(ctx context.Context, snap *Snapshot) {
	if err := r.store.SaveSnapshot(ctx, snap); err != nil {
		obslog.L().Warn("snapshot_save_failed", zap.String("session_id", snap.ID), zap.Error(err))
	}
}

// finalize runs the post-finish effects: settlement, snapshot, archive,
// notifications, final broadcast, then drops the session from the live
// maps. Callers must have already transitioned the session to FINISHED.
func (r *Registry) finalize(ctx context.Context, s *Session) *damadto.SessionView {
	s.mu.Lock()
	in := s.settleInput()
	s.mu.Unlock()

	var rec *settle.Record
	if r.settler != nil && len(in.Players) > 0 {
		var err error
		rec, err = r.settler.Settle(ctx, in)
		if err != nil {
			// The reconciler retries anything that got past the
			// settled flag; earlier failures keep the holds intact.
			obslog.L().Error("settle_failed", zap.String("session_id", s.id), zap.Error(err))
		}
	}

	now := time.Now()
	s.mu.Lock()
	if rec != nil {
		s.settlement = &damadto.SettlementView{
			TxRef:     rec.TxRef,
			Amounts:   rec.Amounts,
			SettledAt: rec.SettledAt,
		}
	}
	view, snap := s.view(now), s.snapshot()
	hist := s.historyRecord(rec)
	s.mu.Unlock()

	r.persist(ctx, snap)
	_ = r.store.RemoveOpen(ctx, s.id)
	if r.archive != nil {
		if err := r.archive.SaveMatch(ctx, hist); err != nil {
			obslog.L().Error("archive_failed", zap.String("session_id", s.id), zap.Error(err))
		}
	}
	obslog.L().Info("session_finished",
		zap.String("session_id", s.id),
		zap.String("result", string(hist.Result)),
		zap.String("reason", string(hist.Reason)),
		zap.Bool("forfeit", hist.Forfeit),
		zap.Bool("walkover", hist.Walkover))
	r.broadcast(s.id, view)
	r.notifyFinish(s.id, view)
	r.detach(s)
	return view
}

// detach removes the session from the live maps. The Redis snapshot
// stays behind for history reads.
func (r *Registry) detach(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.id)
	if r.byKey[s.matchKey] == s.id {
		delete(r.byKey, s.matchKey)
	}
	s.mu.Lock()
	for _, p := range s.players {
		if r.byPlayer[p.ID] == s.id {
			delete(r.byPlayer, p.ID)
		}
	}
	s.mu.Unlock()
	r.mu.Unlock()
	r.subMu.Lock()
	delete(r.subs, s.id)
	r.subMu.Unlock()
}

// Timer callbacks. Each revalidates under the session lock before
// acting: a stale generation or a changed status means the event it
// was armed for no longer exists.

func (r *Registry) onJoinTimeout(sessionID string) {
	s := r.get(sessionID)
	if s == nil {
		return
	}
	ctx := context.Background()
	now := time.Now()
	s.mu.Lock()
	if s.status != StatusWaiting {
		s.mu.Unlock()
		return
	}
	if s.joining > 0 {
		// a join is mid-flight; look again shortly
		s.joinTimer = time.AfterFunc(time.Second, func() { r.onJoinTimeout(sessionID) })
		s.mu.Unlock()
		return
	}
	if len(s.players) == 0 {
		s.stopTimersLocked()
		s.status = StatusFinished
		s.mu.Unlock()
		r.detach(s)
		_ = r.store.Delete(ctx, s.id)
		return
	}
	sole := s.players[0]
	// a walkover is a forfeit by the absent side; the walkover flag
	// keeps settlement on the refund path since no opponent ever staked
	s.finishLocked(now, resultForSide(sole.Side), ReasonTimeout, true, true)
	s.mu.Unlock()
	obslog.L().Info("session_walkover", zap.String("session_id", s.id), zap.String("player_id", sole.ID))
	r.finalize(ctx, s)
}

func (r *Registry) onTurnTimeout(sessionID string, gen uint64) {
	s := r.get(sessionID)
	if s == nil {
		return
	}
	now := time.Now()
	s.mu.Lock()
	if s.status != StatusActive || gen != s.turnGen {
		s.mu.Unlock()
		return
	}
	loser := s.turn
	s.finishLocked(now, resultForSide(loser.Opponent()), ReasonTimeout, true, false)
	s.mu.Unlock()
	obslog.L().Info("session_turn_timeout", zap.String("session_id", s.id), zap.String("side", loser.String()))
	r.finalize(context.Background(), s)
}

func (r *Registry) onGraceExpired(sessionID, playerID string, gen uint64) {
	s := r.get(sessionID)
	if s == nil {
		return
	}
	now := time.Now()
	s.mu.Lock()
	p := s.playerByID(playerID)
	if s.status != StatusActive || p == nil || p.Connected || gen != s.graceGen[playerID] {
		s.mu.Unlock()
		return
	}
	s.finishLocked(now, resultForSide(p.Side.Opponent()), ReasonDisconnect, true, false)
	s.mu.Unlock()
	obslog.L().Info("session_grace_expired", zap.String("session_id", s.id), zap.String("player_id", playerID))
	r.finalize(context.Background(), s)
}

// Close stops every pending timer. In-flight operations finish on
// their own; no new timers fire afterwards.
func (r *Registry) Close() {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()
	for _, s := range all {
		s.mu.Lock()
		s.stopTimersLocked()
		s.mu.Unlock()
	}
}

// Notification helpers. Pushes are fire-and-forget with a short
// deadline; a missing template falls back to the plain text.

func (r *Registry) renderText(key, fallback string, data map[string]any) string {
	if r.texts == nil {
		return fallback
	}
	out, err := r.texts.Render(key, data)
	if err != nil {
		return fallback
	}
	return out
}

func (r *Registry) pushText(sessionID string, view *damadto.SessionView, key, fallback string) {
	if r.notifier == nil {
		return
	}
	text := r.renderText(key, fallback, map[string]any{
		"SessionID": sessionID,
		"Stake":     view.Stake,
	})
	for _, p := range view.Players {
		p := p
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.notifier.Push(ctx, p.ID, text); err != nil {
				obslog.L().Warn("notify_failed", zap.String("player_id", p.ID), zap.Error(err))
			}
		}()
	}
}

func (r *Registry) notifyFinish(sessionID string, view *damadto.SessionView) {
	if r.notifier == nil || view.Outcome == nil {
		return
	}
	winnerSide := ""
	switch view.Outcome.Result {
	case string(ResultWinA):
		winnerSide = "A"
	case string(ResultWinB):
		winnerSide = "B"
	}
	for _, p := range view.Players {
		key, fallback := "match.draw", "The match ended in a draw."
		if winnerSide != "" {
			if p.Side == winnerSide {
				key, fallback = "match.win", "You won the match."
			} else {
				key, fallback = "match.loss", "You lost the match."
			}
		}
		text := r.renderText(key, fallback, map[string]any{
			"SessionID": sessionID,
			"Reason":    view.Outcome.Reason,
			"Stake":     view.Stake,
		})
		p := p
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.notifier.Push(ctx, p.ID, text); err != nil {
				obslog.L().Warn("notify_failed", zap.String("player_id", p.ID), zap.Error(err))
			}
		}()
	}
}

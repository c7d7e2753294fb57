// Package settle maps a finished match outcome onto stake movements,
// exactly once per session. It never talks to a payment provider; all
// balance mutation goes through the wallet collaborator, keyed by
// idempotent hold tokens.
package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kapu/dama-arena/internal/obslog"
	"github.com/kapu/dama-arena/internal/wallet"
)

var ErrExternalUnavailable = errors.New("wallet unavailable")

// Participant is one stake-holding player of a finished session.
type Participant struct {
	UserID    string `json:"user_id"`
	HoldToken string `json:"hold_token"`
}

// Input describes the outcome to settle. Winner is empty on a draw.
type Input struct {
	SessionID string        `json:"session_id"`
	Stake     int64         `json:"stake"`
	Players   []Participant `json:"players"`
	WinnerID  string        `json:"winner_id,omitempty"`
	Draw      bool          `json:"draw,omitempty"`
	Walkover  bool          `json:"walkover,omitempty"`
	Forfeit   bool          `json:"forfeit,omitempty"` // timeout/disconnect/resign: no fee, full pot
}

// Record is the only artifact settlement produces.
type Record struct {
	SessionID string           `json:"session_id"`
	TxRef     string           `json:"tx_ref"`
	Amounts   map[string]int64 `json:"amounts"` // credited or refunded amount per player id
	Fee       int64            `json:"fee"`
	SettledAt time.Time        `json:"settled_at"`
}

type Settler struct {
	rdb       *redis.Client
	wallet    wallet.Wallet
	feeRate   float64
	ttl       time.Duration
	onSettled SettledFunc
}

// SettledFunc observes a settlement the reconciler sweep completed
// after the inline attempt failed.
type SettledFunc func(ctx context.Context, rec *Record)

// OnSettled registers the sweep observer. Call before Start on the
// reconciler; the settler does not synchronize this field.
func (s *Settler) OnSettled(fn SettledFunc) { s.onSettled = fn }

func NewSettler(rdb *redis.Client, w wallet.Wallet, feeRate float64, ttl time.Duration) *Settler {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Settler{rdb: rdb, wallet: w, feeRate: feeRate, ttl: ttl}
}

func settledKey(id string) string { return "dama:settled:" + strings.TrimSpace(id) }
func recordKey(id string) string  { return "dama:settlement:" + strings.TrimSpace(id) }
func pendingKey(id string) string { return "dama:settle:pending:" + strings.TrimSpace(id) }
func unsettledKey() string        { return "dama:settle:unsettled" }

// Settle commits the outcome exactly once. The settled flag is
// checked-and-set before any wallet call; a second invocation for the
// same session returns the existing record without touching the wallet.
// A wallet failure leaves the session on the unsettled index for the
// Reconciler to retry; the hold-token idempotency makes replays safe.
func (s *Settler) Settle(ctx context.Context, in Input) (*Record, error) {
	if strings.TrimSpace(in.SessionID) == "" || len(in.Players) == 0 {
		return nil, fmt.Errorf("invalid settlement input")
	}

	txRef := uuid.NewString()
	set, err := s.rdb.SetNX(ctx, settledKey(in.SessionID), txRef, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("settled flag: %w", err)
	}
	if !set {
		// Already claimed. Return the record if the earlier attempt got
		// that far, otherwise replay with the original tx ref.
		if rec, rerr := s.loadRecord(ctx, in.SessionID); rerr == nil && rec != nil {
			return rec, nil
		}
		txRef, err = s.rdb.Get(ctx, settledKey(in.SessionID)).Result()
		if err != nil {
			return nil, fmt.Errorf("settled flag read: %w", err)
		}
	}

	// Park the input before any external call so a crash mid-settlement
	// is sweepable by the reconciler.
	raw, _ := json.Marshal(&in)
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, pendingKey(in.SessionID), raw, s.ttl)
	pipe.SAdd(ctx, unsettledKey(), in.SessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("park pending settlement: %w", err)
	}

	rec, err := s.execute(ctx, in, txRef)
	if err != nil {
		obslog.L().Error("settlement_failed",
			zap.String("session_id", in.SessionID),
			zap.String("tx_ref", txRef),
			zap.Error(err),
		)
		return nil, err
	}

	out, _ := json.Marshal(rec)
	pipe = s.rdb.TxPipeline()
	pipe.Set(ctx, recordKey(in.SessionID), out, s.ttl)
	pipe.Del(ctx, pendingKey(in.SessionID))
	pipe.SRem(ctx, unsettledKey(), in.SessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("persist settlement record: %w", err)
	}

	obslog.L().Info("settlement_commit",
		zap.String("session_id", in.SessionID),
		zap.String("tx_ref", txRef),
		zap.Int64("fee", rec.Fee),
		zap.Any("amounts", rec.Amounts),
	)
	return rec, nil
}

// execute performs the wallet calls for the policy:
// draw releases both stakes; walkover releases the sole stake;
// a forfeit win pays the full pot; a normal win pays the pot minus fee.
func (s *Settler) execute(ctx context.Context, in Input, txRef string) (*Record, error) {
	rec := &Record{
		SessionID: in.SessionID,
		TxRef:     txRef,
		Amounts:   make(map[string]int64, len(in.Players)),
		SettledAt: time.Now(),
	}

	switch {
	case in.Draw, in.Walkover:
		for _, p := range in.Players {
			if err := s.wallet.Release(ctx, p.HoldToken); err != nil {
				return nil, fmt.Errorf("release %s: %w", p.UserID, err)
			}
			rec.Amounts[p.UserID] = in.Stake
		}
	default:
		winner, ok := findPlayer(in.Players, in.WinnerID)
		if !ok {
			return nil, fmt.Errorf("winner %s not among participants", in.WinnerID)
		}
		pot := in.Stake * int64(len(in.Players))
		fee := int64(0)
		if !in.Forfeit && s.feeRate > 0 {
			fee = int64(float64(pot) * s.feeRate)
		}
		remaining := pot - fee
		for _, p := range in.Players {
			share := in.Stake
			if p.UserID == winner.UserID {
				// winner's own hold carries the fee deduction
				share = remaining - in.Stake*int64(len(in.Players)-1)
			}
			if err := s.wallet.Commit(ctx, p.HoldToken, winner.UserID, share); err != nil {
				return nil, fmt.Errorf("commit %s: %w", p.UserID, err)
			}
		}
		rec.Amounts[winner.UserID] = remaining
		rec.Fee = fee
	}
	return rec, nil
}

func (s *Settler) loadRecord(ctx context.Context, sessionID string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, recordKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Record returns the settlement record for a session, nil when unsettled.
func (s *Settler) Record(ctx context.Context, sessionID string) (*Record, error) {
	return s.loadRecord(ctx, sessionID)
}

// Unsettled lists session ids whose settlement has not completed.
func (s *Settler) Unsettled(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, unsettledKey()).Result()
}

// Sweep retries every parked settlement once. Returns the number settled.
func (s *Settler) Sweep(ctx context.Context) (int, error) {
	ids, err := s.Unsettled(ctx)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, id := range ids {
		raw, err := s.rdb.Get(ctx, pendingKey(id)).Bytes()
		if err == redis.Nil {
			_ = s.rdb.SRem(ctx, unsettledKey(), id).Err()
			continue
		}
		if err != nil {
			return done, err
		}
		var in Input
		if err := json.Unmarshal(raw, &in); err != nil {
			obslog.L().Error("settlement_pending_corrupt", zap.String("session_id", id), zap.Error(err))
			continue
		}
		rec, err := s.Settle(ctx, in)
		if err != nil {
			obslog.L().Warn("settlement_retry_failed", zap.String("session_id", id), zap.Error(err))
			continue
		}
		if s.onSettled != nil {
			s.onSettled(ctx, rec)
		}
		done++
	}
	return done, nil
}

func findPlayer(ps []Participant, id string) (Participant, bool) {
	for _, p := range ps {
		if p.UserID == id {
			return p, true
		}
	}
	return Participant{}, false
}

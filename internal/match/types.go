package match

import (
	"context"
	"time"

	"github.com/kapu/dama-arena/internal/board"
)

// Status represents the lifecycle of a match session.
type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
)

// Result is the decided outcome of a finished session.
type Result string

const (
	ResultWinA Result = "win_a"
	ResultWinB Result = "win_b"
	ResultDraw Result = "draw"
)

// Reason explains how the outcome was decided.
type Reason string

const (
	ReasonNormal     Reason = "normal"
	ReasonTimeout    Reason = "timeout"
	ReasonDisconnect Reason = "disconnect"
	ReasonResign     Reason = "resign"
	ReasonAgreement  Reason = "agreement"
)

// Outcome records how a finished session ended.
type Outcome struct {
	Result    Result    `json:"result"`
	Reason    Reason    `json:"reason"`
	Forfeit   bool      `json:"forfeit,omitempty"`
	Walkover  bool      `json:"walkover,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Player is one seat in a session.
type Player struct {
	ID        string
	Name      string
	Side      board.Side
	HoldToken string
	Connected bool
	DrawOffer bool
}

// Snapshot is the JSON form of a session persisted in Redis under
// dama:session:<id>.
type Snapshot struct {
	ID             string           `json:"id"`
	MatchKey       string           `json:"match_key"`
	Status         Status           `json:"status"`
	Board          string           `json:"board"`
	Turn           string           `json:"turn,omitempty"`
	Chain          *board.Cell      `json:"chain,omitempty"`
	Stake          int64            `json:"stake"`
	Players        []SnapshotPlayer `json:"players"`
	CreatedAt      time.Time        `json:"created_at"`
	LastActivityAt time.Time        `json:"last_activity_at"`
	TurnDeadline   time.Time        `json:"turn_deadline"`
	Outcome        *Outcome         `json:"outcome,omitempty"`
	TxRef          string           `json:"tx_ref,omitempty"`
}

type SnapshotPlayer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Side      string `json:"side"`
	HoldToken string `json:"hold_token"`
	Connected bool   `json:"connected"`
}

// HistoryRecord is handed to the archiver once a session has finished
// and its stakes have been settled.
type HistoryRecord struct {
	SessionID  string
	MatchKey   string
	Stake      int64
	Result     Result
	Reason     Reason
	Forfeit    bool
	Walkover   bool
	FinalBoard string
	Players    []SnapshotPlayer
	TxRef      string
	Amounts    map[string]int64
	Fee        int64
	CreatedAt  time.Time
	FinishedAt time.Time
}

// Archiver persists finished sessions for history queries.
type Archiver interface {
	SaveMatch(ctx context.Context, rec *HistoryRecord) error
}

// Notifier pushes short out-of-band texts to players.
type Notifier interface {
	Push(ctx context.Context, userID, text string) error
}

// Errors
var (
	ErrInvalidArgs     = errf("invalid arguments")
	ErrSessionNotFound = errf("session not found or expired")
	ErrRoomFull        = errf("session already has two participants")
	ErrSessionOver     = errf("session already finished")
	ErrNotParticipant  = errf("player is not part of this session")
	ErrNotActive       = errf("session is not active")
	ErrOutOfTurn       = errf("not your turn")
	ErrPlayerBusy      = errf("player already has an active session")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

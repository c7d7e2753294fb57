package damadto

import "time"

// PieceView is one occupied cell as sent to clients.
type PieceView struct {
	Side string `json:"side"`
	King bool   `json:"king,omitempty"`
}

// CellRef addresses a board square in requests and views.
type CellRef struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

type PlayerView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Side      string `json:"side"`
	Connected bool   `json:"connected"`
}

type OutcomeView struct {
	Result    string    `json:"result"` // win_a | win_b | draw
	Reason    string    `json:"reason"` // normal | timeout | disconnect | resign | agreement
	Forfeit   bool      `json:"forfeit,omitempty"`
	Walkover  bool      `json:"walkover,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

type SettlementView struct {
	TxRef     string           `json:"tx_ref"`
	Amounts   map[string]int64 `json:"amounts"` // credited amount per player id
	SettledAt time.Time        `json:"settled_at"`
}

// SessionView is the authoritative state pushed to both participants on
// every change and returned from every session operation.
type SessionView struct {
	SessionID       string           `json:"session_id"`
	MatchKey        string           `json:"match_key"`
	Status          string           `json:"status"` // waiting | active | finished
	Board           [8][8]*PieceView `json:"board"`
	SideToMove      string           `json:"side_to_move,omitempty"`
	Chain           *CellRef         `json:"chain,omitempty"` // piece locked into a multi-jump
	Stake           int64            `json:"stake"`
	Players         []PlayerView     `json:"players"`
	TurnRemainingMS int64            `json:"turn_remaining_ms,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	LastActivityAt  time.Time        `json:"last_activity_at"`
	Outcome         *OutcomeView     `json:"outcome,omitempty"`
	Settlement      *SettlementView  `json:"settlement,omitempty"`
}

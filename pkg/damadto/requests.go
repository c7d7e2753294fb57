package damadto

type JoinRequest struct {
	MatchKey string `json:"match_key"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Stake    int64  `json:"stake"`
}

type MoveRequest struct {
	SessionID string  `json:"session_id"`
	PlayerID  string  `json:"player_id"`
	From      CellRef `json:"from"`
	To        CellRef `json:"to"`
}

type LeaveRequest struct {
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
}

// RoomInfo is one open (waiting, single-participant) session in listings.
type RoomInfo struct {
	SessionID string `json:"session_id"`
	MatchKey  string `json:"match_key"`
	Stake     int64  `json:"stake"`
	Creator   string `json:"creator"`
	CreatedAt int64  `json:"created_at_unix"`
}

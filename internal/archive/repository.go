package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/kapu/dama-arena/internal/match"
)

// Repository stores finished matches in Postgres for history queries.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// MatchRow is one archived match as read back from the database.
type MatchRow struct {
	SessionID   string           `json:"session_id"`
	MatchKey    string           `json:"match_key"`
	PlayerAID   string           `json:"player_a_id"`
	PlayerAName string           `json:"player_a_name"`
	PlayerBID   string           `json:"player_b_id"`
	PlayerBName string           `json:"player_b_name"`
	Stake       int64            `json:"stake"`
	Result      string           `json:"result"`
	Reason      string           `json:"reason"`
	Forfeit     bool             `json:"forfeit"`
	Walkover    bool             `json:"walkover"`
	FinalBoard  string           `json:"final_board"`
	TxRef       string           `json:"tx_ref"`
	Amounts     map[string]int64 `json:"amounts"`
	Fee         int64            `json:"fee"`
	StartedAt   time.Time        `json:"started_at"`
	EndedAt     time.Time        `json:"ended_at"`
	DurationMS  int64            `json:"duration_ms"`
}

// SaveMatch upserts a finished match. Replays after a settlement retry
// overwrite the earlier row, so the archive converges on the final
// settlement data.
func (r *Repository) SaveMatch(ctx context.Context, rec *match.HistoryRecord) error {
	if r == nil || r.db == nil || rec == nil {
		return nil
	}

	var aID, aName, bID, bName string
	for _, p := range rec.Players {
		switch p.Side {
		case "A":
			aID, aName = p.ID, p.Name
		case "B":
			bID, bName = p.ID, p.Name
		}
	}
	amountsRaw, _ := json.Marshal(rec.Amounts)
	duration := rec.FinishedAt.Sub(rec.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO dama_matches (
        session_id, match_key,
        player_a_id, player_a_name, player_b_id, player_b_name,
        stake, result, reason, forfeit, walkover,
        final_board, tx_ref, amounts, fee,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
      ) ON CONFLICT (session_id) DO UPDATE SET
        match_key=EXCLUDED.match_key,
        player_a_id=EXCLUDED.player_a_id,
        player_a_name=EXCLUDED.player_a_name,
        player_b_id=EXCLUDED.player_b_id,
        player_b_name=EXCLUDED.player_b_name,
        stake=EXCLUDED.stake,
        result=EXCLUDED.result,
        reason=EXCLUDED.reason,
        forfeit=EXCLUDED.forfeit,
        walkover=EXCLUDED.walkover,
        final_board=EXCLUDED.final_board,
        tx_ref=EXCLUDED.tx_ref,
        amounts=EXCLUDED.amounts,
        fee=EXCLUDED.fee,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		rec.SessionID, rec.MatchKey,
		aID, aName, bID, bName,
		rec.Stake, string(rec.Result), string(rec.Reason), rec.Forfeit, rec.Walkover,
		rec.FinalBoard, rec.TxRef, string(amountsRaw), rec.Fee,
		rec.CreatedAt, rec.FinishedAt, duration,
	)
	return err
}

const selectColumns = `session_id, match_key,
        player_a_id, player_a_name, player_b_id, player_b_name,
        stake, result, reason, forfeit, walkover,
        final_board, tx_ref, amounts, fee,
        started_at, ended_at, duration_ms`

// Get fetches one archived match, or nil when none exists.
func (r *Repository) Get(ctx context.Context, sessionID string) (*MatchRow, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	q := `SELECT ` + selectColumns + ` FROM dama_matches WHERE session_id = $1`
	row, err := scanRow(r.db.QueryRowContext(ctx, q, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

// RecentByPlayer lists the player's latest matches, newest first.
func (r *Repository) RecentByPlayer(ctx context.Context, playerID string, limit int) ([]*MatchRow, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := `SELECT ` + selectColumns + ` FROM dama_matches
        WHERE player_a_id = $1 OR player_b_id = $1
        ORDER BY ended_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, playerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*MatchRow
	for rows.Next() {
		m, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRow(s scannable) (*MatchRow, error) {
	var m MatchRow
	var amountsRaw string
	err := s.Scan(
		&m.SessionID, &m.MatchKey,
		&m.PlayerAID, &m.PlayerAName, &m.PlayerBID, &m.PlayerBName,
		&m.Stake, &m.Result, &m.Reason, &m.Forfeit, &m.Walkover,
		&m.FinalBoard, &m.TxRef, &amountsRaw, &m.Fee,
		&m.StartedAt, &m.EndedAt, &m.DurationMS,
	)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(amountsRaw) != "" {
		_ = json.Unmarshal([]byte(amountsRaw), &m.Amounts)
	}
	return &m, nil
}

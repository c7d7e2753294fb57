package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/kapu/dama-arena/internal/archive"
	"github.com/kapu/dama-arena/internal/board"
	"github.com/kapu/dama-arena/internal/match"
	"github.com/kapu/dama-arena/internal/obslog"
	"github.com/kapu/dama-arena/internal/render"
	"github.com/kapu/dama-arena/internal/wallet"
	"github.com/kapu/dama-arena/pkg/damadto"
)

// History reads back archived matches. *archive.Repository satisfies
// it; nil disables the history endpoints.
type History interface {
	Get(ctx context.Context, sessionID string) (*archive.MatchRow, error)
	RecentByPlayer(ctx context.Context, playerID string, limit int) ([]*archive.MatchRow, error)
}

// Server exposes the REST surface over fasthttp and the push surface
// over websockets.
type Server struct {
	reg      *match.Registry
	renderer render.BoardRenderer
	history  History

	rest *fasthttp.Server
}

func NewServer(reg *match.Registry, renderer render.BoardRenderer, history History) *Server {
	s := &Server{reg: reg, renderer: renderer, history: history}
	s.rest = &fasthttp.Server{
		Handler: s.handle,
		Name:    "dama-arena",
	}
	return s
}

// ListenREST blocks serving the REST API until the listener fails or
// ShutdownREST is called.
func (s *Server) ListenREST(addr string) error {
	obslog.L().Info("rest_listen", zap.String("addr", addr))
	return s.rest.ListenAndServe(addr)
}

func (s *Server) ShutdownREST(ctx context.Context) error {
	return s.rest.ShutdownWithContext(ctx)
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	switch {
	case method == fasthttp.MethodGet && path == "/healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	case method == fasthttp.MethodGet && path == "/rooms":
		s.handleRooms(ctx)
	case method == fasthttp.MethodGet && strings.HasPrefix(path, "/state/") && strings.HasSuffix(path, "/board.png"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/state/"), "/board.png")
		s.handleBoardPNG(ctx, strings.Trim(id, "/"))
	case method == fasthttp.MethodGet && strings.HasPrefix(path, "/state/"):
		s.handleState(ctx, strings.TrimPrefix(path, "/state/"))
	case method == fasthttp.MethodGet && strings.HasPrefix(path, "/matches/"):
		s.handleMatch(ctx, strings.Trim(strings.TrimPrefix(path, "/matches/"), "/"))
	case method == fasthttp.MethodGet && strings.HasPrefix(path, "/history/"):
		s.handleHistory(ctx, strings.Trim(strings.TrimPrefix(path, "/history/"), "/"))
	case method == fasthttp.MethodPost && path == "/join":
		s.handleJoin(ctx)
	case method == fasthttp.MethodPost && path == "/move":
		s.handleMove(ctx)
	case method == fasthttp.MethodPost && path == "/leave":
		s.handleLeave(ctx)
	case method == fasthttp.MethodPost && path == "/resign":
		s.handleResign(ctx)
	case method == fasthttp.MethodPost && path == "/draw":
		s.handleDraw(ctx)
	default:
		writeError(ctx, fasthttp.StatusNotFound, "not_found", "no such endpoint", false)
	}
}

func (s *Server) handleRooms(ctx *fasthttp.RequestCtx) {
	rooms, err := s.reg.ListOpen(ctx)
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, rooms)
}

func (s *Server) handleState(ctx *fasthttp.RequestCtx, sessionID string) {
	view, err := s.reg.GetState(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, view)
}

func (s *Server) handleMatch(ctx *fasthttp.RequestCtx, sessionID string) {
	if s.history == nil {
		writeError(ctx, fasthttp.StatusNotFound, "not_found", "match history disabled", false)
		return
	}
	row, err := s.history.Get(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		obslog.L().Error("history_get_failed", zap.String("session_id", sessionID), zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, "internal", "history lookup failed", true)
		return
	}
	if row == nil {
		writeError(ctx, fasthttp.StatusNotFound, "match_not_found", "no archived match for session", false)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, row)
}

func (s *Server) handleHistory(ctx *fasthttp.RequestCtx, playerID string) {
	if s.history == nil {
		writeError(ctx, fasthttp.StatusNotFound, "not_found", "match history disabled", false)
		return
	}
	if playerID == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid_args", "player id required", false)
		return
	}
	limit := ctx.QueryArgs().GetUintOrZero("limit")
	rows, err := s.history.RecentByPlayer(ctx, playerID, limit)
	if err != nil {
		obslog.L().Error("history_list_failed", zap.String("player_id", playerID), zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, "internal", "history lookup failed", true)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, rows)
}

func (s *Server) handleBoardPNG(ctx *fasthttp.RequestCtx, sessionID string) {
	if s.renderer == nil {
		writeError(ctx, fasthttp.StatusNotFound, "not_found", "board rendering disabled", false)
		return
	}
	view, err := s.reg.GetState(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	b, err := boardFromView(view)
	if err != nil {
		writeError(ctx, fasthttp.StatusConflict, "no_board", "session has no board yet", false)
		return
	}
	data, err := s.renderer.RenderPNG(ctx, b, render.RenderOptions{})
	if err != nil {
		obslog.L().Error("board_render_failed", zap.String("session_id", sessionID), zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, "render_failed", "could not render board", true)
		return
	}
	ctx.SetContentType("image/png")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(data)
}

func (s *Server) handleJoin(ctx *fasthttp.RequestCtx) {
	var req damadto.JoinRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "bad_request", "malformed join request", false)
		return
	}
	view, err := s.reg.CreateOrJoin(ctx, req.MatchKey, req.PlayerID, req.Name, req.Stake)
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, view)
}

func (s *Server) handleMove(ctx *fasthttp.RequestCtx) {
	var req damadto.MoveRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "bad_request", "malformed move request", false)
		return
	}
	view, err := s.reg.SubmitMove(ctx, req.SessionID, req.PlayerID, req.From, req.To)
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, view)
}

func (s *Server) handleLeave(ctx *fasthttp.RequestCtx) {
	var req damadto.LeaveRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "bad_request", "malformed leave request", false)
		return
	}
	view, err := s.reg.Leave(ctx, req.SessionID, req.PlayerID)
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, view)
}

func (s *Server) handleResign(ctx *fasthttp.RequestCtx) {
	var req damadto.LeaveRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "bad_request", "malformed resign request", false)
		return
	}
	view, err := s.reg.Resign(ctx, req.SessionID, req.PlayerID)
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, view)
}

func (s *Server) handleDraw(ctx *fasthttp.RequestCtx) {
	var req damadto.LeaveRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "bad_request", "malformed draw request", false)
		return
	}
	view, err := s.reg.OfferDraw(ctx, req.SessionID, req.PlayerID)
	if err != nil {
		writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, view)
}

// boardFromView rebuilds a board from the view grid for rendering.
func boardFromView(view *damadto.SessionView) (board.Board, error) {
	if view.Status == "waiting" {
		return board.Board{}, errors.New("no board yet")
	}
	buf := make([]byte, board.Size*board.Size)
	for i := range buf {
		buf[i] = '.'
	}
	for row := 0; row < board.Size; row++ {
		for col := 0; col < board.Size; col++ {
			p := view.Board[row][col]
			if p == nil {
				continue
			}
			ch := byte('a')
			if p.Side == "B" {
				ch = 'b'
			}
			if p.King {
				ch -= 'a' - 'A'
			}
			buf[row*board.Size+col] = ch
		}
	}
	return board.Decode(string(buf))
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetStatusCode(status)
	enc := json.NewEncoder(ctx)
	if err := enc.Encode(v); err != nil {
		obslog.L().Error("response_encode_failed", zap.Error(err))
	}
}

func writeError(ctx *fasthttp.RequestCtx, status int, code, msg string, retryable bool) {
	writeJSON(ctx, status, damadto.DomainError{Code: code, Message: msg, Retryable: retryable})
}

// writeDomainError maps domain errors onto HTTP statuses and stable
// error codes clients can branch on.
func writeDomainError(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, match.ErrSessionNotFound):
		writeError(ctx, fasthttp.StatusNotFound, "session_not_found", err.Error(), false)
	case errors.Is(err, match.ErrRoomFull):
		writeError(ctx, fasthttp.StatusConflict, "room_full", err.Error(), false)
	case errors.Is(err, match.ErrPlayerBusy):
		writeError(ctx, fasthttp.StatusConflict, "player_busy", err.Error(), false)
	case errors.Is(err, match.ErrSessionOver):
		writeError(ctx, fasthttp.StatusConflict, "session_over", err.Error(), false)
	case errors.Is(err, match.ErrNotActive):
		writeError(ctx, fasthttp.StatusConflict, "session_not_active", err.Error(), false)
	case errors.Is(err, match.ErrOutOfTurn):
		writeError(ctx, fasthttp.StatusConflict, "out_of_turn", err.Error(), false)
	case errors.Is(err, match.ErrNotParticipant):
		writeError(ctx, fasthttp.StatusForbidden, "not_participant", err.Error(), false)
	case errors.Is(err, match.ErrInvalidArgs):
		writeError(ctx, fasthttp.StatusBadRequest, "invalid_args", err.Error(), false)
	case errors.Is(err, board.ErrIllegalMove),
		errors.Is(err, board.ErrMustCapture),
		errors.Is(err, board.ErrNotYourPiece):
		writeError(ctx, fasthttp.StatusUnprocessableEntity, "illegal_move", err.Error(), false)
	case errors.Is(err, wallet.ErrInsufficientFunds):
		writeError(ctx, fasthttp.StatusPaymentRequired, "insufficient_funds", err.Error(), false)
	default:
		obslog.L().Error("request_failed", zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, "internal", "internal error", true)
	}
}

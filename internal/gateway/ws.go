package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kapu/dama-arena/internal/match"
	"github.com/kapu/dama-arena/internal/obslog"
	"github.com/kapu/dama-arena/pkg/damadto"
)

// wsSendBuffer bounds the per-connection push queue; a client that
// cannot keep up loses intermediate frames, never the latest one.
const wsSendBuffer = 16

// WSServer pushes session views to subscribed players over websockets.
// Endpoint: GET /ws/{sessionID}?player_id=...; the server reports a
// vanished socket through Registry.Disconnect, which opens the grace
// window without cancelling a waiting room. Leaving for real stays an
// explicit REST call.
type WSServer struct {
	reg *match.Registry
	srv *http.Server
}

func NewWSServer(reg *match.Registry) *WSServer {
	ws := &WSServer{reg: reg}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", ws.handleWS)
	ws.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws
}

func (ws *WSServer) Listen(addr string) error {
	ws.srv.Addr = addr
	obslog.L().Info("ws_listen", zap.String("addr", addr))
	err := ws.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (ws *WSServer) Shutdown(ctx context.Context) error {
	return ws.srv.Shutdown(ctx)
}

func (ws *WSServer) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/"), "/")
	playerID := strings.TrimSpace(r.URL.Query().Get("player_id"))
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := r.Context()

	// initial state, so a reconnecting client does not wait for the
	// next transition
	view, err := ws.reg.GetState(ctx, sessionID)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "unknown session")
		return
	}

	updates := make(chan *damadto.SessionView, wsSendBuffer)
	cancel := ws.reg.Subscribe(sessionID, func(v *damadto.SessionView) {
		select {
		case updates <- v:
		default:
			// drop the oldest queued view to make room for the newest
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- v:
			default:
			}
		}
	})
	defer cancel()

	obslog.L().Info("ws_subscribe", zap.String("session_id", sessionID), zap.String("player_id", playerID))

	// reads only surface disconnects; clients drive the game over REST
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	if err := ws.send(ctx, conn, view); err != nil {
		ws.dropped(ctx, sessionID, playerID)
		return
	}
	for {
		select {
		case <-ctx.Done():
			ws.dropped(context.Background(), sessionID, playerID)
			return
		case <-readErr:
			ws.dropped(context.Background(), sessionID, playerID)
			return
		case v := <-updates:
			if err := ws.send(ctx, conn, v); err != nil {
				ws.dropped(context.Background(), sessionID, playerID)
				return
			}
			if v.Status == "finished" {
				_ = conn.Close(websocket.StatusNormalClosure, "session finished")
				return
			}
		}
	}
}

func (ws *WSServer) send(ctx context.Context, conn *websocket.Conn, v *damadto.SessionView) error {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, conn, v)
}

// dropped reports a vanished socket so the registry can start the
// disconnect grace clock for the player.
func (ws *WSServer) dropped(ctx context.Context, sessionID, playerID string) {
	if playerID == "" {
		return
	}
	if _, err := ws.reg.Disconnect(ctx, sessionID, playerID); err != nil &&
		!errors.Is(err, match.ErrSessionNotFound) && !errors.Is(err, match.ErrNotParticipant) {
		obslog.L().Warn("ws_disconnect_failed", zap.String("session_id", sessionID), zap.String("player_id", playerID), zap.Error(err))
	}
	obslog.L().Info("ws_disconnect", zap.String("session_id", sessionID), zap.String("player_id", playerID))
}

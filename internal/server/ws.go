package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/playhistoric/chronoquiz/internal/chronoquiz"
)

const (
	sendBufferSize = 64
	writeTimeout   = 5 * time.Second
)

// wsClient adapts a websocket connection to the Conn interface used by
// the lobby, coordinator, and learning manager. Outbound messages go
// through a buffered channel so a slow reader never blocks game logic;
// when the buffer fills the message is dropped and logged.
type wsClient struct {
	ws     *websocket.Conn
	send   chan any
	closed atomic.Bool
	logger *slog.Logger
}

func newWSClient(ws *websocket.Conn, logger *slog.Logger) *wsClient {
	return &wsClient{
		ws:     ws,
		send:   make(chan any, sendBufferSize),
		logger: logger,
	}
}

func (c *wsClient) Send(msg any) {
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("send buffer full, dropping message")
	}
}

func (c *wsClient) Open() bool {
	return !c.closed.Load()
}

func (c *wsClient) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.ws, msg)
			cancel()
			if err != nil {
				c.closed.Store(true)
				return
			}
		}
	}
}

// handleWS upgrades the connection and runs its read loop. All game
// traffic for a connection flows through here; the HTTP request only
// carries the optional auth token.
func handleWS(
	logger *slog.Logger,
	jwtSecret string,
	store Store,
	mm *Matchmaker,
	coord *Coordinator,
	learn *LearningManager,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer ws.CloseNow()

		id := identityFromRequest(r, jwtSecret)
		if !id.IsGuest {
			// Ranked games and learning progress reference the user
			// row, so make sure it exists before any gameplay.
			err := store.CreateUser(r.Context(), chronoquiz.User{
				ID:          id.UserID,
				Username:    id.Username,
				DisplayName: id.DisplayName,
				AvatarURL:   id.AvatarURL,
				EloRating:   id.Elo,
			})
			if err != nil {
				logger.Error("user upsert failed", "user_id", id.UserID, "error", err)
			}
		}
		client := newWSClient(ws, logger)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go client.writePump(ctx)

		logger.Info("connection opened", "username", id.Username, "guest", id.IsGuest)

		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				break
			}
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				client.Send(protocolError("malformed message"))
				continue
			}
			dispatch(client, id, msg, mm, coord, learn)
		}

		client.closed.Store(true)
		mm.Leave(client)
		coord.HandleDisconnect(client)
		learn.Drop(client)
		logger.Info("connection closed", "username", id.Username)
	}
}

func dispatch(
	client *wsClient,
	id Identity,
	msg clientMessage,
	mm *Matchmaker,
	coord *Coordinator,
	learn *LearningManager,
) {
	switch msg.Type {
	case "ping":
		client.Send(pongMsg{Type: "pong"})
	case "join_lobby":
		mm.Join(msg.CategoryKey, client, id)
	case "leave_lobby":
		mm.Leave(client)
	case "set_ready":
		mm.SetReady(client, msg.Ready)
	case "send_invite":
		mm.SendInvite(client, msg.ToUserID)
	case "respond_invite":
		mm.RespondInvite(client, msg.FromUserID, msg.Accept)
	case "start_practice":
		coord.StartPractice(client, id, msg.CategoryKey)
	case "ready_for_round":
		coord.HandleReadyForRound(client)
	case "submit_answer":
		coord.HandleSubmitAnswer(client, msg)
	case "ready_next_round":
		coord.HandleReadyNextRound(client)
	case "learning_start":
		learn.Start(client, id, msg.CategoryKey)
	case "learning_next":
		learn.Next(client)
	case "learning_submit":
		learn.Submit(client, msg)
	default:
		client.Send(protocolError("unknown message type"))
	}
}

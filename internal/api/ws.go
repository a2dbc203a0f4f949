package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/overcastly/parley/internal/broadcast"
	"github.com/overcastly/parley/internal/middleware"
	"github.com/overcastly/parley/internal/service"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
)

// WSHandler bridges a chat's broadcast channel to a websocket client.
type WSHandler struct {
	chats  *service.ChatService
	sink   *broadcast.Sink
	logger *zap.Logger

	upgrader websocket.Upgrader
}

func NewWSHandler(chats *service.ChatService, sink *broadcast.Sink, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		chats:  chats,
		sink:   sink,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type subscriptionSucceeded struct {
	Channel  string               `json:"channel"`
	Presence *service.UserSummary `json:"presence"`
}

// Subscribe handles GET /v1/ws/chats/:id. Membership is checked before
// the upgrade so a rejected client gets a plain HTTP error, not a
// half-open socket.
func (h *WSHandler) Subscribe(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	presence, err := h.chats.Presence(c.Request.Context(), middleware.GetUserID(c), chatID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	channel := broadcast.ChatChannel(chatID)
	envelopes, stop := h.sink.Subscribe(c.Request.Context(), channel)
	defer stop()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(gin.H{
		"event": "subscription_succeeded",
		"data":  subscriptionSucceeded{Channel: channel, Presence: presence},
	}); err != nil {
		h.logger.Warn("failed to confirm subscription", zap.Error(err))
		return
	}

	// Read pump: clients send nothing meaningful, but reads drive pong
	// handling and detect the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				h.logger.Debug("websocket write failed",
					zap.String("channel", channel),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

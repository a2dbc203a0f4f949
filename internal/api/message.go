package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/overcastly/parley/internal/middleware"
	"github.com/overcastly/parley/internal/models"
	"github.com/overcastly/parley/internal/service"
	"go.uber.org/zap"
)

type MessageHandler struct {
	svc    *service.MessageService
	logger *zap.Logger
}

func NewMessageHandler(svc *service.MessageService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{svc: svc, logger: logger}
}

type createMessageRequest struct {
	ChatID      uuid.UUID `json:"chat_id" binding:"required"`
	MessageType string    `json:"message_type" binding:"required"`
	Text        *string   `json:"text"`
	RepliedToID *int64    `json:"replied_to_message_id"`
}

// Create handles POST /v1/messages
func (h *MessageHandler) Create(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.svc.Send(
		c.Request.Context(),
		middleware.GetUserID(c),
		req.ChatID,
		models.MessageType(req.MessageType),
		req.Text,
		req.RepliedToID,
	)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// List handles GET /v1/chats/:id/messages?page=&limit=
func (h *MessageHandler) List(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	page, err := positiveQueryInt(c, "page", 1)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page parameter"})
		return
	}
	limit, err := positiveQueryInt(c, "limit", 50)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
		return
	}

	msgs, err := h.svc.List(c.Request.Context(), middleware.GetUserID(c), chatID, page, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// Delete handles DELETE /v1/messages/:id?delete_for_everyone=true
func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	forEveryone := c.Query("delete_for_everyone") == "true"

	if err := h.svc.Delete(c.Request.Context(), middleware.GetUserID(c), messageID, forEveryone); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "message deleted successfully"})
}

func positiveQueryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}

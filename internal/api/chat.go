package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/overcastly/parley/internal/middleware"
	"github.com/overcastly/parley/internal/service"
	"go.uber.org/zap"
)

type ChatHandler struct {
	svc    *service.ChatService
	logger *zap.Logger
}

func NewChatHandler(svc *service.ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: logger}
}

// List handles GET /v1/chats
func (h *ChatHandler) List(c *gin.Context) {
	chats, err := h.svc.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

type createChatRequest struct {
	IsGroup *bool       `json:"is_group" binding:"required"`
	Title   *string     `json:"title" binding:"omitempty,max=200"`
	Members []uuid.UUID `json:"members" binding:"required,min=1"`
}

// Create handles POST /v1/chats
func (h *ChatHandler) Create(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := h.svc.Create(c.Request.Context(), middleware.GetUserID(c), *req.IsGroup, req.Title, req.Members)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

// Get handles GET /v1/chats/:id
func (h *ChatHandler) Get(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	chat, err := h.svc.Get(c.Request.Context(), middleware.GetUserID(c), chatID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

type updateChatRequest struct {
	Title *string `json:"title" binding:"omitempty,max=200"`
}

// Update handles PUT /v1/chats/:id
func (h *ChatHandler) Update(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	var req updateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := h.svc.Update(c.Request.Context(), middleware.GetUserID(c), chatID, req.Title)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

type addMemberRequest struct {
	NewMemberID uuid.UUID `json:"new_member_id" binding:"required"`
}

// AddMember handles POST /v1/chats/:id/members
//
// Adding a third member to a private chat creates a new group chat; the
// response carries whichever chat the member ended up in.
func (h *ChatHandler) AddMember(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := h.svc.AddMember(c.Request.Context(), middleware.GetUserID(c), chatID, req.NewMemberID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	status := http.StatusOK
	if chat.ID != chatID {
		// promotion produced a new chat
		status = http.StatusCreated
	}
	c.JSON(status, chat)
}

// RemoveMember handles DELETE /v1/chats/:id/members/:memberId
func (h *ChatHandler) RemoveMember(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	memberID, err := uuid.Parse(c.Param("memberId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}

	if err := h.svc.RemoveMember(c.Request.Context(), middleware.GetUserID(c), chatID, memberID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "member removed successfully"})
}

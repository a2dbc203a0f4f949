package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/overcastly/parley/internal/middleware"
	"github.com/overcastly/parley/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type UserHandler struct {
	users  repository.UserRepository
	logger *zap.Logger
}

func NewUserHandler(users repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// List handles GET /v1/users
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// GetByID handles GET /v1/users/:id
func (h *UserHandler) GetByID(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// Me handles GET /v1/users/me
func (h *UserHandler) Me(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

type updateUserRequest struct {
	Name        *string `json:"name" binding:"omitempty,max=255"`
	DisplayName *string `json:"display_name"`
	Email       *string `json:"email" binding:"omitempty,email"`
	Password    *string `json:"password" binding:"omitempty,min=8"`
}

// Update handles PUT /v1/users/:id — profile fields only, self only.
func (h *UserHandler) Update(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if userID != middleware.GetUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot update another user"})
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.DisplayName != nil {
		user.DisplayName = req.DisplayName
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			h.logger.Error("failed to hash password", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
			return
		}
		user.PasswordHash = string(hash)
	}

	if err := h.users.Update(c.Request.Context(), user); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

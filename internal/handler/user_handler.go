package handler

import (
	"net/http"
	"strconv"

	"ripple-chat/internal/middleware"
	"ripple-chat/internal/services"
	"ripple-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type UserHandler struct {
	service *services.UserService
}

func NewUserHandler(service *services.UserService) *UserHandler {
	return &UserHandler{service: service}
}

// Me returns the authenticated user's own record.
func (h *UserHandler) Me(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	user, err := h.service.Get(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("user not found", "NOT_FOUND"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(user))
}

// Search finds users by name or email prefix.
func (h *UserHandler) Search(c *gin.Context) {
	query := c.Query("q")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	users, err := h.service.Search(c.Request.Context(), query, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid query", "INVALID_PAYLOAD"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(users))
}

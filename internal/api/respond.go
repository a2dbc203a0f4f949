package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/overcastly/parley/internal/apperr"
	"go.uber.org/zap"
)

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.InvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError maps a service error to its HTTP status. Internal causes
// are logged for operators and masked in the response body.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(statusForKind(kind), gin.H{"error": apperr.Message(err)})
}

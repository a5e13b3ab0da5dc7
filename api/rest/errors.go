package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/engagebot/errs"
	mw "github.com/kasuganosora/engagebot/middleware"
	"go.uber.org/zap"
)

// statusOf maps an engine error onto an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrDuplicateCode), errors.Is(err, errs.ErrSessionAlreadyActive),
		errors.Is(err, errs.ErrAlreadyAnswered):
		return http.StatusConflict
	case errors.Is(err, errs.ErrInvalidEntry):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Server-side failures get a generic body;
// the cause is only logged.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("trace_id", mw.GetTraceID(c)),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error", "trace_id": mw.GetTraceID(c)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

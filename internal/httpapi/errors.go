package httpapi

import (
	"net/http"

	"callcenter/internal/apperr"
	"callcenter/pkg/logger"

	"github.com/gin-gonic/gin"
)

// writeError maps typed service errors to HTTP. Raw causes are logged, never returned.
func writeError(c *gin.Context, err error) {
	log := logger.FromGin(c)

	typed, ok := apperr.As(err)
	if !ok {
		log.Error("unhandled error", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
		return
	}

	status := http.StatusInternalServerError
	switch typed.Kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidState:
		status = http.StatusConflict
	case apperr.KindInvalidArgument:
		status = http.StatusBadRequest
	case apperr.KindTransient:
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		log.Error("request failed", "code", typed.Code, "err", err)
	}

	msg := typed.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	code := typed.Code
	if code == "" {
		code = string(typed.Kind)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": "invalid_request"})
}

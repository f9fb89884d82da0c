package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crewdeck/crewdeck/internal/errs"
)

// respondError translates the error taxonomy into HTTP. Internal errors
// are logged with the cause and surfaced as an opaque 500.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	kind := errs.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindConflict:
		status = http.StatusConflict
	case errs.KindUnauthorized:
		status = http.StatusUnauthorized
	case errs.KindValidation:
		status = http.StatusBadRequest
	}

	if kind == errs.KindInternal {
		logger.Error("request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": errs.Message(err)})
}

// Package handler provides the HTTP trigger and read surface.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ad-tracker/analytics-sync-go/internal/middleware"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/pkg/logger"
)

var errUnauthorized = errors.New("Unauthorized")

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

func respondError(c *gin.Context, status int, err error) {
	fields := []zap.Field{
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		logger.Log.Error("Request failed", fields...)
	} else {
		logger.Log.Warn("Request rejected", fields...)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

// platformParam parses the :platform path parameter.
func platformParam(c *gin.Context) (platform.Platform, bool) {
	p, err := platform.Parse(c.Param("platform"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return "", false
	}
	return p, true
}

// resolveAccount returns the account the caller acts on. User callers act on
// their own account; service callers must name one.
func resolveAccount(c *gin.Context, requested string) (string, bool) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, errUnauthorized)
		return "", false
	}

	if identity.Service {
		if requested == "" {
			respondError(c, http.StatusBadRequest, errors.New("accountId is required for service callers"))
			return "", false
		}
		return requested, true
	}

	if requested == "" {
		requested = identity.AccountID
	}
	if !identity.CanAct(requested) {
		respondError(c, http.StatusUnauthorized, errUnauthorized)
		return "", false
	}
	return requested, true
}

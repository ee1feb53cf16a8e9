package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/internal/auth"
	"github.com/satriahrh/voicerelay/internal/websocket"
	"github.com/satriahrh/voicerelay/usecase"
)

const serviceName = "Voice Agent"

// HistoryReader returns the transcript log of a session, most recent first
type HistoryReader interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]entities.TranscriptEntry, error)
}

// Dependencies are the services the routes are served from
type Dependencies struct {
	Hub     *websocket.Hub
	History HistoryReader
	// APIs reports which provider credentials are configured
	APIs   func() map[string]bool
	Signer *auth.Signer
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	e.GET("/health", func(c echo.Context) error {
		return health(c, deps)
	})

	v1 := e.Group("/api")
	v1.GET("/history/:session_id", func(c echo.Context) error {
		return history(c, deps.History, logger)
	})

	e.GET("/ws", func(c echo.Context) error {
		return websocketWithAuth(deps.Hub, deps.Signer, c, logger)
	})
}

func health(c echo.Context, deps Dependencies) error {
	apis := map[string]bool{}
	if deps.APIs != nil {
		apis = deps.APIs()
	}
	sessions := 0
	if deps.Hub != nil {
		sessions = deps.Hub.Count()
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "healthy",
		Service:  serviceName,
		APIs:     apis,
		Sessions: sessions,
	})
}

func history(c echo.Context, reader HistoryReader, logger *zap.Logger) error {
	sessionID := c.Param("session_id")

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be a non-negative integer",
			})
		}
		limit = n
	}

	if reader == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "history_unavailable",
			Message: usecase.ErrNoTranscriptStore.Error(),
		})
	}

	entries, err := reader.Recent(c.Request().Context(), sessionID, limit)
	if err != nil {
		if errors.Is(err, usecase.ErrNoTranscriptStore) {
			return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Error:   "history_unavailable",
				Message: err.Error(),
			})
		}
		logger.Error("Failed to read history",
			zap.String("sessionID", sessionID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "history_failed",
			Message: "Failed to read conversation history",
		})
	}

	return c.JSON(http.StatusOK, HistoryResponse{
		Status:  "success",
		History: entries,
	})
}

// websocketWithAuth checks the session token, when tokens are enabled, before
// handing the request to the session controller
func websocketWithAuth(hub *websocket.Hub, signer *auth.Signer, c echo.Context, logger *zap.Logger) error {
	if signer == nil || !signer.Enabled() {
		return websocket.HandleWebSocket(hub, c)
	}

	token := c.QueryParam("token")
	if authHeader := c.Request().Header.Get("Authorization"); token == "" && strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	}

	if token == "" {
		logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "A session token is required",
		})
	}

	claims, err := signer.ValidateToken(token)
	if err != nil {
		logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired session token",
		})
	}

	logger.Info("WebSocket connection authenticated", zap.String("clientID", claims.ClientID))
	return websocket.HandleWebSocket(hub, c)
}

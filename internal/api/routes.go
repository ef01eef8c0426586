package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	gorilla "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/siphio/phone-receptionist/server/domain/repositories"
	"github.com/siphio/phone-receptionist/server/internal/auth"
	"github.com/siphio/phone-receptionist/server/internal/websocket"
)

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The media stream peer is the telephony vendor, not a browser.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// InitRoutes initializes all API routes
func InitRoutes(
	e *echo.Echo,
	manager *websocket.Manager,
	webhooks *WebhookHandler,
	records repositories.CallRecordRepository,
	tokens *auth.TokenService,
	twilioConfigured bool,
	logger *zap.Logger,
) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		status := "ok"
		if !manager.IsHealthy() {
			status = "degraded"
		}
		return c.JSON(http.StatusOK, HealthResponse{
			Status:           status,
			Service:          "phone-receptionist",
			ActiveCalls:      manager.ActiveConnections(),
			TwilioConfigured: twilioConfigured,
		})
	})

	// Telephony vendor webhooks
	hooks := e.Group("/api/webhooks")
	hooks.POST("/incoming-call", webhooks.HandleIncomingCall)
	hooks.POST("/call-status", webhooks.HandleCallStatus)

	// Media stream endpoint. Admission is checked before the upgrade so a
	// rejected caller gets an HTTP status instead of a dead socket.
	e.GET("/media-stream/:streamID", func(c echo.Context) error {
		return mediaStream(manager, c, logger)
	})

	// Operator diagnostics, behind JWT auth
	v1 := e.Group("/api/v1", operatorAuth(tokens, logger))
	v1.GET("/calls", func(c echo.Context) error {
		return c.JSON(http.StatusOK, manager.Connections())
	})
	v1.GET("/calls/:streamID", func(c echo.Context) error {
		info, ok := manager.ConnectionInfo(c.Param("streamID"))
		if !ok {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "No active session for stream",
			})
		}
		return c.JSON(http.StatusOK, info)
	})
	v1.GET("/calls/history", func(c echo.Context) error {
		return callHistory(c, records, logger)
	})
}

// mediaStream authorizes, upgrades and services one media connection.
func mediaStream(manager *websocket.Manager, c echo.Context, logger *zap.Logger) error {
	streamID := c.Param("streamID")

	if err := manager.Authorize(streamID); err != nil {
		logger.Warn("Media stream connection rejected",
			zap.String("streamID", streamID), zap.Error(err))
		status := http.StatusForbidden
		if errors.Is(err, websocket.ErrCapacityExceeded) {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, ErrorResponse{
			Error:   "connection_rejected",
			Message: err.Error(),
		})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("Failed to upgrade media stream connection",
			zap.String("streamID", streamID), zap.Error(err))
		return nil
	}

	// Blocks for the lifetime of the call. Session errors are logged inside
	// the manager; the HTTP layer has nothing left to report.
	_ = manager.HandleMediaStream(c.Request().Context(), conn, streamID)
	return nil
}

func callHistory(c echo.Context, records repositories.CallRecordRepository, logger *zap.Logger) error {
	if records == nil {
		return c.JSON(http.StatusNotImplemented, ErrorResponse{
			Error:   "not_configured",
			Message: "Call archive is not configured",
		})
	}

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	history, err := records.ListRecent(c.Request().Context(), limit)
	if err != nil {
		logger.Error("Failed to list call history", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "storage_error",
			Message: "Failed to load call history",
		})
	}
	return c.JSON(http.StatusOK, history)
}

// operatorAuth validates the bearer token on diagnostics requests.
func operatorAuth(tokens *auth.TokenService, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "Bearer token is required",
				})
			}

			claims, err := tokens.ValidateToken(token)
			if err != nil {
				logger.Warn("Diagnostics request rejected", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired token",
				})
			}
			if claims.Role != "operator" {
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Error:   "invalid_role",
					Message: "Operator token required",
				})
			}

			c.Set("operator_id", claims.OperatorID)
			return next(c)
		}
	}
}

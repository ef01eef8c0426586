// Package api exposes the server's HTTP surface: telephony vendor webhooks,
// the media stream endpoint and the operator diagnostics API.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/siphio/phone-receptionist/server/domain/entities"
	"github.com/siphio/phone-receptionist/server/domain/repositories"
	"github.com/siphio/phone-receptionist/server/internal/security"
	"github.com/siphio/phone-receptionist/server/internal/websocket"
)

// WebhookHandler services the telephony vendor's call lifecycle callbacks.
type WebhookHandler struct {
	manager   *websocket.Manager
	records   repositories.CallRecordRepository
	snapshots repositories.StateStore
	validator *SignatureValidator

	// publicHost is the externally reachable host used in the stream URL.
	// Falls back to the request's Host header when empty.
	publicHost  string
	snapshotTTL time.Duration
	logger      *zap.Logger
}

func NewWebhookHandler(
	manager *websocket.Manager,
	records repositories.CallRecordRepository,
	snapshots repositories.StateStore,
	validator *SignatureValidator,
	publicHost string,
	snapshotTTL time.Duration,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		manager:     manager,
		records:     records,
		snapshots:   snapshots,
		validator:   validator,
		publicHost:  publicHost,
		snapshotTTL: snapshotTTL,
		logger:      logger,
	}
}

// HandleIncomingCall answers the vendor's new-call webhook. It mints a stream
// identifier, registers the pending conversation state and responds with a
// greeting plus a media stream connect instruction.
func (h *WebhookHandler) HandleIncomingCall(c echo.Context) error {
	if !h.validateRequest(c) {
		h.logger.Warn("Rejected webhook with invalid signature",
			zap.String("remote", c.RealIP()))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "invalid_signature",
			Message: "Request signature validation failed",
		})
	}

	callSID := c.FormValue("CallSid")
	fromNumber := c.FormValue("From")
	toNumber := c.FormValue("To")
	if callSID == "" || fromNumber == "" || toNumber == "" {
		h.logger.Error("Incoming call webhook missing required parameters")
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_parameters",
			Message: "CallSid, From and To are required",
		})
	}

	h.logger.Info("Incoming call",
		zap.String("callSID", callSID),
		zap.String("from", security.MaskPhoneNumber(fromNumber)),
		zap.String("to", security.MaskPhoneNumber(toNumber)),
		zap.String("callStatus", c.FormValue("CallStatus")))

	token, err := security.GenerateSecureToken(8)
	if err != nil {
		h.logger.Error("Failed to mint stream identifier", zap.Error(err))
		return h.respondTwiML(c, errorResponse())
	}
	streamID := callSID + "_" + token

	state := entities.NewConversationState(callSID, streamID, fromNumber, toNumber)
	h.manager.RegisterPending(streamID, state)

	if h.snapshots != nil {
		if err := h.snapshots.SaveSnapshot(c.Request().Context(), state.Record(), h.snapshotTTL); err != nil {
			h.logger.Warn("Failed to snapshot conversation state",
				zap.String("streamID", streamID), zap.Error(err))
		}
	}

	host := h.publicHost
	if host == "" {
		host = c.Request().Host
	}
	streamURL := "wss://" + host + "/media-stream/" + streamID
	h.logger.Info("Starting media stream",
		zap.String("streamID", streamID),
		zap.String("url", streamURL))

	// TODO: look up a per-client greeting by the dialed number once client
	// configuration exists.
	return h.respondTwiML(c, streamingResponse(defaultGreeting, streamURL, streamID, callSID))
}

// HandleCallStatus processes call state transitions. Terminal statuses tear
// down any live session for the call and archive the final record.
func (h *WebhookHandler) HandleCallStatus(c echo.Context) error {
	if !h.validateRequest(c) {
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "invalid_signature",
			Message: "Request signature validation failed",
		})
	}

	callSID := c.FormValue("CallSid")
	callStatus := c.FormValue("CallStatus")
	h.logger.Info("Call status update",
		zap.String("callSID", callSID),
		zap.String("callStatus", callStatus),
		zap.String("duration", c.FormValue("CallDuration")))

	switch callStatus {
	case "completed":
		h.finalizeCall(c, callSID, entities.CallStatusCompleted)
	case "failed", "busy", "no-answer":
		h.logger.Warn("Call ended abnormally",
			zap.String("callSID", callSID),
			zap.String("callStatus", callStatus))
		h.finalizeCall(c, callSID, entities.CallStatusFailed)
	}

	return c.String(http.StatusOK, "OK")
}

// finalizeCall tears down the call's session, marks the state terminal and
// archives the record. Archive failures are logged, not surfaced: the vendor
// retries webhooks that return errors and the call is already over.
func (h *WebhookHandler) finalizeCall(c echo.Context, callSID string, status entities.CallStatus) {
	state := h.manager.StateForCall(callSID)
	h.manager.CleanupCall(callSID)

	if state == nil {
		h.logger.Debug("No live state for ended call", zap.String("callSID", callSID))
		return
	}
	_ = state.SetStatus(status)
	record := state.Record()

	ctx := c.Request().Context()
	if h.records != nil {
		if err := h.records.Save(ctx, record); err != nil {
			h.logger.Error("Failed to archive call record",
				zap.String("callSID", callSID), zap.Error(err))
		}
	}
	if h.snapshots != nil {
		if err := h.snapshots.DeleteSnapshot(ctx, record.StreamID); err != nil {
			h.logger.Warn("Failed to delete state snapshot",
				zap.String("streamID", record.StreamID), zap.Error(err))
		}
	}
}

func (h *WebhookHandler) respondTwiML(c echo.Context, doc *TwiML) error {
	body, err := doc.Render()
	if err != nil {
		h.logger.Error("Failed to render voice response", zap.Error(err))
		return c.NoContent(http.StatusInternalServerError)
	}
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.Blob(http.StatusOK, "application/xml", body)
}

func (h *WebhookHandler) validateRequest(c echo.Context) bool {
	if err := c.Request().ParseForm(); err != nil {
		h.logger.Error("Failed to parse webhook form", zap.Error(err))
		return false
	}
	requestURL := c.Scheme() + "://" + c.Request().Host + c.Request().RequestURI
	signature := c.Request().Header.Get("X-Twilio-Signature")
	return h.validator.Validate(requestURL, c.Request().PostForm, signature)
}

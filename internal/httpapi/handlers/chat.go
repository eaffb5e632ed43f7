package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/dentalcare/clinic-gateway/internal/audit"
	"github.com/dentalcare/clinic-gateway/internal/common"
	"github.com/dentalcare/clinic-gateway/internal/httpapi/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type chatReq struct {
	Message string `json:"message" binding:"required"`
}

// ChatRelay forwards one user message to the chat backend and relays the
// streamed reply downstream without buffering it. AuthRequired has already
// verified the credential before any of this runs; no upstream connection is
// opened for a rejected caller.
func (h *Handler) ChatRelay(c *gin.Context) {
	claims, token, ok := middleware.SessionFromContext(c)
	if !ok {
		common.Error(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	if claims.ChatSessionID == "" {
		h.Log.Warn("token carries no chat session",
			zap.String("subject", claims.Subject),
			zap.String("request_id", middleware.GetRequestID(c)))
		common.Error(c, http.StatusBadRequest, "no chat session associated")
		return
	}

	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Cfg.StreamTimeout)
	defer cancel()

	start := time.Now()

	resp, err := h.Backend.SendChat(ctx, token, claims.ChatSessionID, req.Message)
	if err != nil {
		h.Log.Error("chat upstream call failed", zap.Error(err),
			zap.String("session_id", claims.ChatSessionID),
			zap.String("request_id", middleware.GetRequestID(c)))
		common.Error(c, http.StatusBadGateway, "failed to reach chat backend")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Error payloads are small; read fully and surface with the
		// upstream's own status. Never partially stream an error.
		body, _ := io.ReadAll(resp.Body)
		h.Log.Error("chat backend rejected message",
			zap.Int("status", resp.StatusCode),
			zap.String("session_id", claims.ChatSessionID))
		common.Error(c, resp.StatusCode, string(body))
		return
	}

	// Pre-read the first chunk so an upstream that "succeeds" with an empty
	// body is still reported as a server error, before any stream header is
	// committed downstream.
	buf := make([]byte, 4096)
	first, err := resp.Body.Read(buf)
	if first == 0 && err == io.EOF {
		h.Log.Error("chat backend returned success with empty body",
			zap.String("session_id", claims.ChatSessionID))
		common.Error(c, http.StatusInternalServerError, "no response body from backend")
		return
	}
	if first == 0 && err != nil {
		h.Log.Error("chat backend stream failed before first byte", zap.Error(err),
			zap.String("session_id", claims.ChatSessionID))
		common.Error(c, http.StatusBadGateway, "failed to read chat backend response")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)

	outcome := audit.OutcomeCompleted
	var relayed int64

	write := func(p []byte) bool {
		n, werr := c.Writer.Write(p)
		relayed += int64(n)
		if werr != nil {
			// Caller went away; cancel the upstream read rather than
			// draining a response nobody will see.
			cancel()
			return false
		}
		if canFlush {
			flusher.Flush()
		}
		return true
	}

	ok = write(buf[:first])
	for ok && err == nil {
		var n int
		n, err = resp.Body.Read(buf)
		if n > 0 {
			ok = write(buf[:n])
		}
	}
	if err != nil && err != io.EOF {
		outcome = audit.OutcomeAborted
		h.Log.Warn("chat stream ended early", zap.Error(err),
			zap.String("session_id", claims.ChatSessionID))
	}
	if !ok {
		outcome = audit.OutcomeAborted
	}

	h.publishRelayEvent(claims.Subject, claims.ChatSessionID, outcome, relayed, time.Since(start))
}

// ChatHistory relays the backend's transcript verbatim.
func (h *Handler) ChatHistory(c *gin.Context) {
	claims, token, ok := middleware.SessionFromContext(c)
	if !ok {
		common.Error(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	if claims.ChatSessionID == "" {
		common.Error(c, http.StatusBadRequest, "no chat session associated")
		return
	}

	resp, err := h.Backend.History(c.Request.Context(), token, claims.ChatSessionID)
	if err != nil {
		h.Log.Error("history upstream call failed", zap.Error(err),
			zap.String("session_id", claims.ChatSessionID),
			zap.String("request_id", middleware.GetRequestID(c)))
		common.Error(c, http.StatusBadGateway, "failed to fetch chat history")
		return
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		common.Error(c, http.StatusBadGateway, "failed to fetch chat history")
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.Log.Error("chat backend rejected history fetch",
			zap.Int("status", resp.StatusCode),
			zap.String("session_id", claims.ChatSessionID))
		common.Error(c, resp.StatusCode, "failed to fetch chat history")
		return
	}

	c.Data(http.StatusOK, "application/json", body)
}

// publishRelayEvent enqueues an audit event; failures never affect the user
// call that produced them.
func (h *Handler) publishRelayEvent(subject, sessionID, outcome string, bytes int64, d time.Duration) {
	if h.Audit == nil {
		return
	}
	ev := audit.Event{
		EventID:      uuid.NewString(),
		Subject:      subject,
		SessionID:    sessionID,
		Outcome:      outcome,
		BytesRelayed: bytes,
		DurationMs:   d.Milliseconds(),
		OccurredAt:   time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Audit.Publish(ctx, ev); err != nil {
		h.Log.Warn("failed to publish relay audit event", zap.Error(err),
			zap.String("event_id", ev.EventID))
	}
}

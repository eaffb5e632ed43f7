package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/dentalcare/clinic-gateway/internal/common"
	"github.com/dentalcare/clinic-gateway/internal/httpapi/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// relayJSON forwards a backend JSON response. Success bodies pass through
// unchanged; failures are reshaped into the gateway's {"error": ...} form,
// preferring the backend's own message field.
func (h *Handler) relayJSON(c *gin.Context, resp *http.Response, err error, fallback string) {
	if err != nil {
		h.Log.Error("upstream call failed", zap.Error(err),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", middleware.GetRequestID(c)))
		common.Error(c, http.StatusBadGateway, fallback)
		return
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		common.Error(c, http.StatusBadGateway, fallback)
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &payload)
		msg := payload.Message
		if msg == "" {
			msg = fallback
		}
		common.Error(c, resp.StatusCode, msg)
		return
	}

	c.Data(resp.StatusCode, "application/json", body)
}

func (h *Handler) ListPatients(c *gin.Context) {
	_, token, ok := middleware.SessionFromContext(c)
	if !ok {
		common.Error(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	resp, err := h.Backend.ListPatients(c.Request.Context(), token)
	h.relayJSON(c, resp, err, "failed to get patients")
}

func (h *Handler) CreatePatient(c *gin.Context) {
	_, token, ok := middleware.SessionFromContext(c)
	if !ok {
		common.Error(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := h.Backend.CreatePatient(c.Request.Context(), token, bytes.NewReader(body))
	h.relayJSON(c, resp, err, "failed to create patient")
}

func (h *Handler) UpdatePatient(c *gin.Context) {
	_, token, ok := middleware.SessionFromContext(c)
	if !ok {
		common.Error(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	id := c.Param("id")
	if id == "" {
		common.Error(c, http.StatusBadRequest, "patient id required")
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := h.Backend.UpdatePatient(c.Request.Context(), token, id, bytes.NewReader(body))
	h.relayJSON(c, resp, err, "failed to update patient")
}

func (h *Handler) DeletePatient(c *gin.Context) {
	_, token, ok := middleware.SessionFromContext(c)
	if !ok {
		common.Error(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	id := c.Param("id")
	if id == "" {
		common.Error(c, http.StatusBadRequest, "patient id required")
		return
	}
	resp, err := h.Backend.DeletePatient(c.Request.Context(), token, id)
	h.relayJSON(c, resp, err, "failed to delete patient")
}

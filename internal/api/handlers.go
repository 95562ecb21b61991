package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/voxd/voxd/internal/config"
	"github.com/voxd/voxd/internal/session"
	"github.com/voxd/voxd/internal/storage/sqlite"
	"github.com/voxd/voxd/internal/websocket"
	"github.com/voxd/voxd/pkg/logger"
)

// DeviceLister enumerates audio input devices
type DeviceLister interface {
	ListInputDevices() ([]string, error)
}

// ConnectionTester probes the remote transcription API with the
// configured credentials
type ConnectionTester interface {
	TestConnection(ctx context.Context) error
}

// Handler contains the API handlers
type Handler struct {
	service  *session.Service
	devices  DeviceLister
	tester   ConnectionTester
	config   *config.Config
	logger   *logger.Logger
	wsServer *websocket.Server
}

// NewHandler creates a new API handler
func NewHandler(service *session.Service, devices DeviceLister, tester ConnectionTester, config *config.Config, logger *logger.Logger, wsServer *websocket.Server) *Handler {
	return &Handler{
		service:  service,
		devices:  devices,
		tester:   tester,
		config:   config,
		logger:   logger.Named("api-handler"),
		wsServer: wsServer,
	}
}

// StartDictation starts microphone recording
func (h *Handler) StartDictation(w http.ResponseWriter, r *http.Request) {
	if err := h.service.StartDictation(); err != nil {
		if errors.Is(err, session.ErrBusy) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("Failed to start dictation", logger.Error(err))
		http.Error(w, "Failed to start recording", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, h.service.Status())
}

// StopDictation stops recording and starts the transcription pipeline.
// The pipeline runs asynchronously; clients follow progress over the
// WebSocket or by polling /status.
func (h *Handler) StopDictation(w http.ResponseWriter, r *http.Request) {
	if err := h.service.StopDictation(); err != nil {
		h.logger.Error("Failed to stop dictation", logger.Error(err))
		http.Error(w, "Failed to stop recording", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusAccepted, h.service.Status())
}

// CancelDictation discards the in-progress recording
func (h *Handler) CancelDictation(w http.ResponseWriter, r *http.Request) {
	h.service.CancelDictation()
	WriteJSON(w, http.StatusOK, h.service.Status())
}

// StartCapture starts system-audio capture
func (h *Handler) StartCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.service.StartMeetingCapture(); err != nil {
		h.logger.Error("Failed to start capture", logger.Error(err))
		http.Error(w, "Failed to start capture", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, h.service.Status())
}

// StopCapture stops system-audio capture and transcribes the result
func (h *Handler) StopCapture(w http.ResponseWriter, r *http.Request) {
	path, err := h.service.StopMeetingCapture()
	if err != nil {
		h.logger.Error("Failed to stop capture", logger.Error(err))
		http.Error(w, "Failed to stop capture", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]any{
		"file":   path,
		"status": h.service.Status(),
	})
}

// GetStatus returns the current session state
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.service.Status())
}

// GetHistory returns stored transcripts with pagination
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	records, err := h.service.History(limit, offset)
	if err != nil {
		h.logger.Error("Failed to retrieve history", logger.Error(err))
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*sqlite.TranscriptRecord{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp":   time.Now(),
		"count":       len(records),
		"transcripts": records,
	})
}

// GetDevices returns the available audio input devices
func (h *Handler) GetDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.ListInputDevices()
	if err != nil {
		h.logger.Error("Failed to list devices", logger.Error(err))
		http.Error(w, "Failed to list audio devices", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
	})
}

// TestConnection verifies the configured API credentials
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	if err := h.tester.TestConnection(ctx); err != nil {
		h.logger.Warn("Connection test failed", logger.Error(err))
		WriteJSON(w, http.StatusBadGateway, map[string]any{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// HandleWebSocket handles WebSocket connections
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("WebSocket connection request received")

	// Handle the WebSocket connection
	h.wsServer.HandleConnection(w, r)
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parsePaginationParams(r *http.Request) (int, int) {
	limit := 100 // Default limit
	offset := 0  // Default offset

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}

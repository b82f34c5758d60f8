package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/omnisocial/omnisocial/internal/auth"
	"github.com/omnisocial/omnisocial/internal/hub"
	"github.com/omnisocial/omnisocial/internal/models"
	"github.com/omnisocial/omnisocial/internal/platform"
	"log/slog"
)

// PlatformHandler serves the platform connection and content routes.
type PlatformHandler struct {
	hub    *hub.Hub
	logger *slog.Logger
}

// NewPlatformHandler creates a new platform handler.
func NewPlatformHandler(h *hub.Hub, logger *slog.Logger) *PlatformHandler {
	return &PlatformHandler{
		hub:    h,
		logger: logger,
	}
}

// ConnectRequest carries the credentials for a platform connection.
type ConnectRequest struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// PostRequest is the publish payload.
type PostRequest struct {
	Text   string   `json:"text"`
	Title  string   `json:"title,omitempty"`
	Target string   `json:"target,omitempty"`
	Images []string `json:"images,omitempty"`
	Link   string   `json:"link,omitempty"`
}

type errorBody struct {
	Kind       string  `json:"kind"`
	Platform   string  `json:"platform,omitempty"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retryAfter,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// ListStatuses handles GET /api/platforms
func (h *PlatformHandler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.logger, w, http.StatusOK, map[string]any{
		"platforms": h.hub.Statuses(),
	})
}

// GetStatus handles GET /api/platforms/:platform/status
func (h *PlatformHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := h.parsePlatform(w, r)
	if !ok {
		return
	}
	status, err := h.hub.Status(p)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, status)
}

// Connect handles POST /api/platforms/:platform/connect
func (h *PlatformHandler) Connect(w http.ResponseWriter, r *http.Request) {
	p, ok := h.parsePlatform(w, r)
	if !ok {
		return
	}
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccessToken == "" {
		h.writeError(w, platform.Errorf(platform.KindValidation, p, "accessToken is required"))
		return
	}

	profile, err := h.hub.Connect(r.Context(), userID, p, models.Credentials{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]any{
		"connected": true,
		"platform":  p,
		"profile":   profile,
	})
}

// Disconnect handles DELETE /api/platforms/:platform/connect
func (h *PlatformHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	p, ok := h.parsePlatform(w, r)
	if !ok {
		return
	}
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.hub.Disconnect(r.Context(), userID, p); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]any{
		"connected": false,
		"platform":  p,
	})
}

// Content handles GET /api/platforms/:platform/content
func (h *PlatformHandler) Content(w http.ResponseWriter, r *http.Request) {
	p, ok := h.parsePlatform(w, r)
	if !ok {
		return
	}
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	opts := models.ContentOptions{
		Cursor:  r.URL.Query().Get("cursor"),
		Channel: r.URL.Query().Get("channel"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		opts.Limit = limit
	}

	page, err := h.hub.Content(r.Context(), userID, p, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, page)
}

// Post handles POST /api/platforms/:platform/post
func (h *PlatformHandler) Post(w http.ResponseWriter, r *http.Request) {
	p, ok := h.parsePlatform(w, r)
	if !ok {
		return
	}
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req PostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := h.hub.Post(r.Context(), userID, p, models.Draft{
		Text:   req.Text,
		Title:  req.Title,
		Target: req.Target,
		Images: req.Images,
		Link:   req.Link,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusCreated, receipt)
}

// Search handles GET /api/platforms/:platform/search
func (h *PlatformHandler) Search(w http.ResponseWriter, r *http.Request) {
	p, ok := h.parsePlatform(w, r)
	if !ok {
		return
	}
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q parameter is required", http.StatusBadRequest)
		return
	}

	opts := models.SearchOptions{
		Channel: r.URL.Query().Get("channel"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		opts.Limit = limit
	}

	page, err := h.hub.Search(r.Context(), userID, p, query, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, page)
}

// Healthz handles GET /healthz
func (h *PlatformHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.logger, w, http.StatusOK, map[string]any{
		"status":    "ok",
		"platforms": h.hub.Statuses(),
	})
}

// parsePlatform extracts the platform path segment from
// /api/platforms/:platform/... and validates it.
func (h *PlatformHandler) parsePlatform(w http.ResponseWriter, r *http.Request) (models.Platform, bool) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/platforms/")
	name, _, _ := strings.Cut(rest, "/")
	p, err := models.ParsePlatform(name)
	if err != nil {
		http.Error(w, "Unknown platform", http.StatusNotFound)
		return "", false
	}
	return p, true
}

// writeError maps a platform error onto an HTTP status and JSON envelope.
func (h *PlatformHandler) writeError(w http.ResponseWriter, err error) {
	body := errorBody{
		Kind:    string(platform.KindUpstream),
		Message: err.Error(),
	}
	status := http.StatusBadGateway

	if pe, ok := platform.AsError(err); ok {
		body.Kind = string(pe.Kind)
		body.Platform = pe.Platform.String()
		body.Message = pe.Message
		if ra := pe.RetryAfter(); ra > 0 {
			body.RetryAfter = ra.Seconds()
		}

		switch pe.Kind {
		case platform.KindValidation:
			status = http.StatusBadRequest
		case platform.KindNotConnected:
			status = http.StatusConflict
		case platform.KindNotRegistered:
			status = http.StatusNotFound
		case platform.KindRateLimited:
			status = http.StatusTooManyRequests
			if ra := pe.RetryAfter(); ra > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(ra.Seconds())))
			}
		case platform.KindAuth:
			status = http.StatusUnauthorized
		}
	}

	writeJSON(h.logger, w, status, errorResponse{Error: body})
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

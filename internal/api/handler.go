package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/history"
	"github.com/unablepath/memospark-notify/internal/metrics"
	"github.com/unablepath/memospark-notify/internal/notify"
	"github.com/unablepath/memospark-notify/internal/probe"
	"github.com/unablepath/memospark-notify/internal/scheduler"
	"github.com/unablepath/memospark-notify/internal/sender"
	"github.com/unablepath/memospark-notify/internal/settings"
	"github.com/unablepath/memospark-notify/internal/stats"
)

// ScheduleRequest represents the incoming request body
type ScheduleRequest struct {
	ID                 string          `json:"id,omitempty"`
	UserID             string          `json:"user_id"`
	Type               string          `json:"type"`
	Priority           string          `json:"priority,omitempty"`
	Channel            string          `json:"channel,omitempty"`
	Title              string          `json:"title"`
	Body               string          `json:"body,omitempty"`
	ScheduledAt        time.Time       `json:"scheduled_at"`
	TaskID             *string         `json:"task_id,omitempty"`
	ReminderID         *string         `json:"reminder_id,omitempty"`
	Icon               string          `json:"icon,omitempty"`
	Badge              string          `json:"badge,omitempty"`
	Data               json.RawMessage `json:"data,omitempty"`
	Actions            []notify.Action `json:"actions,omitempty"`
	RequireInteraction bool            `json:"require_interaction,omitempty"`
}

// ScheduleResponse is returned after accepting a notification
type ScheduleResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// EventRequest reports a click or dismiss back from the client.
type EventRequest struct {
	NotificationID string            `json:"notification_id"`
	UserID         string            `json:"user_id"`
	Event          string            `json:"event"`
	Data           map[string]string `json:"data,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger    *zap.Logger
	scheduler *scheduler.Scheduler
	settings  *settings.Store
	stats     *stats.Recorder
	probe     *probe.Probe
	history   *history.Repository // nil if Postgres not configured
	local     *sender.LocalSender // nil unless the local channel is wired
}

// NewHandler creates a new API handler. history and local may be nil.
func NewHandler(
	logger *zap.Logger,
	sched *scheduler.Scheduler,
	st *settings.Store,
	rec *stats.Recorder,
	pr *probe.Probe,
	repo *history.Repository,
	local *sender.LocalSender,
) *Handler {
	return &Handler{
		logger:    logger,
		scheduler: sched,
		settings:  st,
		stats:     rec,
		probe:     pr,
		history:   repo,
		local:     local,
	}
}

// ScheduleNotification handles POST /v1/notifications
func (h *Handler) ScheduleNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.UserID == "" || req.Type == "" || req.Title == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id, type, and title are required")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	id := uuid.New()
	if req.ID != "" {
		id, err = uuid.Parse(req.ID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid id", "id must be a valid UUID")
			return
		}
	}

	if req.ScheduledAt.IsZero() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing scheduled_at", "scheduled_at is required")
		return
	}

	if len(req.Data) > 0 && !json.Valid(req.Data) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid data", "data must be valid JSON")
		return
	}

	n := &notify.Notification{
		ID:                 id,
		UserID:             userID,
		Type:               notify.Type(req.Type),
		Priority:           notify.Priority(req.Priority),
		Channel:            req.Channel,
		Title:              req.Title,
		Body:               req.Body,
		ScheduledAt:        req.ScheduledAt,
		Icon:               req.Icon,
		Badge:              req.Badge,
		Data:               req.Data,
		Actions:            req.Actions,
		RequireInteraction: req.RequireInteraction,
	}

	if req.TaskID != nil {
		taskID, err := uuid.Parse(*req.TaskID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid task_id", "task_id must be a valid UUID")
			return
		}
		n.TaskID = &taskID
	}
	if req.ReminderID != nil {
		reminderID, err := uuid.Parse(*req.ReminderID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid reminder_id", "reminder_id must be a valid UUID")
			return
		}
		n.ReminderID = &reminderID
	}

	accepted, reason := h.scheduler.Schedule(ctx, n)
	if !accepted {
		if reason == scheduler.ReasonInvalid {
			h.writeError(w, http.StatusBadRequest, reason, "Invalid notification", "")
			return
		}
		h.writeError(w, http.StatusUnprocessableEntity, reason, "Notification rejected", "")
		return
	}

	h.logger.Info("notification accepted",
		zap.String("id", n.ID.String()),
		zap.String("user_id", req.UserID),
		zap.String("type", req.Type),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ScheduleResponse{ID: n.ID.String(), Status: "scheduled"})
}

// CancelNotification handles DELETE /v1/notifications/{id}
func (h *Handler) CancelNotification(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	if _, err := uuid.Parse(idStr); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	if !h.scheduler.Cancel(r.Context(), idStr) {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not pending", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": idStr, "status": "cancelled"})
}

// CancelAllNotifications handles DELETE /v1/notifications
func (h *Handler) CancelAllNotifications(w http.ResponseWriter, r *http.Request) {
	count := h.scheduler.CancelAll(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int{"cancelled": count})
}

// ListNotifications handles GET /v1/notifications?user_id=
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	var filterUser uuid.UUID
	filtered := false
	if userStr := r.URL.Query().Get("user_id"); userStr != "" {
		id, err := uuid.Parse(userStr)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
			return
		}
		filterUser, filtered = id, true
	}

	items := h.scheduler.Queued(r.Context())
	if filtered {
		kept := items[:0]
		for _, item := range items {
			if item.Notification.UserID == filterUser {
				kept = append(kept, item)
			}
		}
		items = kept
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  items,
		"count": len(items),
	})
}

// GetSettings handles GET /v1/users/{userID}/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	cfg := h.settings.Load(r.Context(), userID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(cfg)
}

// UpdateSettings handles PUT /v1/users/{userID}/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var upd settings.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if upd.Permission != nil {
		switch *upd.Permission {
		case settings.PermissionDefault, settings.PermissionGranted, settings.PermissionDenied:
		default:
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid permission", "permission must be default, granted, or denied")
			return
		}
	}
	if upd.MaxDaily != nil && *upd.MaxDaily < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid max_daily", "max_daily must be >= 0")
		return
	}

	cfg, err := h.settings.Apply(r.Context(), userID, upd)
	if err != nil {
		h.logger.Error("failed to update settings",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "storage_error", "Failed to update settings", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(cfg)
}

// GetStats handles GET /v1/users/{userID}/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	day := h.stats.Load(r.Context(), userID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(day)
}

// GetPermission handles GET /v1/users/{userID}/permission
func (h *Handler) GetPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	state := h.probe.State(r.Context(), userID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(state)
}

// RequestPermission handles POST /v1/users/{userID}/permission/request
func (h *Handler) RequestPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	permission := h.probe.RequestPermission(r.Context(), userID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"permission": permission})
}

// SetPermission handles PUT /v1/users/{userID}/permission
func (h *Handler) SetPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req struct {
		Permission string `json:"permission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if err := h.probe.SetPermission(r.Context(), userID, req.Permission); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid permission", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"permission": req.Permission})
}

// ReportEvent handles POST /v1/events
func (h *Handler) ReportEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	switch req.Event {
	case "clicked":
		h.stats.RecordClicked(ctx, userID)
	case "dismissed":
		h.stats.RecordDismissed(ctx, userID)
	default:
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid event", "event must be clicked or dismissed")
		return
	}
	metrics.RecordEvent(req.Event)

	h.logger.Debug("client event recorded",
		zap.String("user_id", req.UserID),
		zap.String("event", req.Event),
		zap.String("notification_id", req.NotificationID),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"event": req.Event, "status": "recorded"})
}

// GetHistory handles GET /v1/users/{userID}/history?limit=20&offset=0
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if h.history == nil {
		h.writeError(w, http.StatusServiceUnavailable, "history_unavailable", "Delivery history not configured", "")
		return
	}

	limit := 20
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	deliveries, err := h.history.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list delivery history",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list delivery history", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   deliveries,
		"limit":  limit,
		"offset": offset,
		"count":  len(deliveries),
	})
}

// GetFeed handles GET /v1/users/{userID}/feed for the local channel.
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if h.local == nil {
		h.writeError(w, http.StatusServiceUnavailable, "feed_unavailable", "Local channel not configured", "")
		return
	}

	events := h.local.Feed(userID.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  events,
		"count": len(events),
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user ID", "user ID must be a valid UUID")
		return uuid.Nil, false
	}
	return userID, true
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/telereplica/discovery/internal/groupconfig"
)

// apiGroup is the wire shape of a group configuration with its derived
// status.
type apiGroup struct {
	groupconfig.GroupConfig
	Status string `json:"status"`
}

func toAPIGroup(cfg groupconfig.GroupConfig) apiGroup {
	return apiGroup{GroupConfig: cfg, Status: cfg.Status()}
}

type groupRequest struct {
	GroupID         int64          `json:"group_id"`
	GroupName       string         `json:"group_name"`
	WebhookURL      string         `json:"webhook_url"`
	Enabled         *bool          `json:"enabled"`
	Filters         map[string]any `json:"filters"`
	Transformations map[string]any `json:"transformations"`
}

func (h *Handler) handleGroups(w http.ResponseWriter, r *http.Request) int {
	switch r.Method {
	case http.MethodGet:
		return h.handleGroupList(w)
	case http.MethodPost:
		return h.handleGroupCreate(w, r)
	default:
		return h.writeError(w, http.StatusMethodNotAllowed, errMsgMethodNotAllowed)
	}
}

func (h *Handler) handleGroupList(w http.ResponseWriter) int {
	configs := h.groups.List()

	groups := make([]apiGroup, 0, len(configs))
	for _, cfg := range configs {
		groups = append(groups, toAPIGroup(cfg))
	}

	return h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"groups":  groups,
		"total":   len(groups),
	})
}

func (h *Handler) handleGroupCreate(w http.ResponseWriter, r *http.Request) int {
	var req groupRequest
	if err := decodeBody(r, &req); err != nil {
		return h.writeError(w, http.StatusBadRequest, errMsgInvalidBody)
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	cfg, err := h.groups.Add(groupconfig.GroupConfig{
		GroupID:         req.GroupID,
		GroupName:       req.GroupName,
		WebhookURL:      req.WebhookURL,
		Enabled:         enabled,
		Filters:         req.Filters,
		Transformations: req.Transformations,
	})
	if err != nil {
		return h.writeGroupError(w, err)
	}

	h.logger.Info().Int64("group_id", cfg.GroupID).Str("group_name", cfg.GroupName).Msg("group configured")

	return h.writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"group":   toAPIGroup(cfg),
	})
}

// handleGroup serves /api/groups/{id} and /api/groups/{id}/{action}.
func (h *Handler) handleGroup(w http.ResponseWriter, r *http.Request, path string) int {
	parts := strings.SplitN(strings.Trim(path, "/"), "/", 2)

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return h.writeError(w, http.StatusBadRequest, "Invalid group id.")
	}

	if len(parts) == 2 {
		return h.handleGroupAction(w, r, id, parts[1])
	}

	switch r.Method {
	case http.MethodGet:
		return h.handleGroupGet(w, id)
	case http.MethodPut:
		return h.handleGroupUpdate(w, r, id)
	case http.MethodDelete:
		return h.handleGroupDelete(w, id)
	default:
		return h.writeError(w, http.StatusMethodNotAllowed, errMsgMethodNotAllowed)
	}
}

func (h *Handler) handleGroupGet(w http.ResponseWriter, id int64) int {
	cfg, ok := h.groups.Get(id)
	if !ok {
		return h.writeError(w, http.StatusNotFound, "Group not configured.")
	}

	return h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"group":   toAPIGroup(cfg),
	})
}

func (h *Handler) handleGroupUpdate(w http.ResponseWriter, r *http.Request, id int64) int {
	var req groupRequest
	if err := decodeBody(r, &req); err != nil {
		return h.writeError(w, http.StatusBadRequest, errMsgInvalidBody)
	}

	upd := groupconfig.Update{
		Enabled:         req.Enabled,
		Filters:         req.Filters,
		Transformations: req.Transformations,
	}

	if req.GroupName != "" {
		upd.GroupName = &req.GroupName
	}

	if req.WebhookURL != "" {
		upd.WebhookURL = &req.WebhookURL
	}

	cfg, err := h.groups.Apply(id, upd)
	if err != nil {
		return h.writeGroupError(w, err)
	}

	return h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"group":   toAPIGroup(cfg),
	})
}

func (h *Handler) handleGroupDelete(w http.ResponseWriter, id int64) int {
	if err := h.groups.Remove(id); err != nil {
		return h.writeGroupError(w, err)
	}

	h.logger.Info().Int64("group_id", id).Msg("group configuration removed")

	return h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Group configuration removed",
	})
}

func (h *Handler) handleGroupAction(w http.ResponseWriter, r *http.Request, id int64, action string) int {
	if r.Method != http.MethodPost {
		return h.writeError(w, http.StatusMethodNotAllowed, errMsgMethodNotAllowed)
	}

	var (
		cfg groupconfig.GroupConfig
		err error
	)

	switch action {
	case "enable":
		cfg, err = h.groups.SetEnabled(id, true)
	case "disable":
		cfg, err = h.groups.SetEnabled(id, false)
	case "toggle":
		cfg, err = h.groups.Toggle(id)
	default:
		return h.writeError(w, http.StatusNotFound, errMsgUnknownEndpoint)
	}

	if err != nil {
		return h.writeGroupError(w, err)
	}

	return h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"group":   toAPIGroup(cfg),
	})
}

type bulkRequest struct {
	GroupIDs   []int64 `json:"group_ids"`
	Operation  string  `json:"operation"`
	WebhookURL string  `json:"webhook_url"`
}

type bulkResult struct {
	GroupID int64  `json:"group_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (h *Handler) handleGroupsBulk(w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodPost {
		return h.writeError(w, http.StatusMethodNotAllowed, errMsgMethodNotAllowed)
	}

	var req bulkRequest
	if err := decodeBody(r, &req); err != nil {
		return h.writeError(w, http.StatusBadRequest, errMsgInvalidBody)
	}

	if len(req.GroupIDs) == 0 {
		return h.writeError(w, http.StatusBadRequest, "group_ids is required.")
	}

	switch req.Operation {
	case "enable", "disable", "configure":
	default:
		return h.writeError(w, http.StatusBadRequest, "Unknown bulk operation.")
	}

	results := make([]bulkResult, 0, len(req.GroupIDs))
	succeeded := 0

	for _, id := range req.GroupIDs {
		var err error

		switch req.Operation {
		case "enable":
			_, err = h.groups.SetEnabled(id, true)
		case "disable":
			_, err = h.groups.SetEnabled(id, false)
		case "configure":
			webhook := req.WebhookURL
			_, err = h.groups.Apply(id, groupconfig.Update{WebhookURL: &webhook})
		}

		result := bulkResult{GroupID: id, Success: err == nil}
		if err != nil {
			result.Error = err.Error()
		} else {
			succeeded++
		}

		results = append(results, result)
	}

	return h.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"operation": req.Operation,
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}

// writeGroupError maps store errors to HTTP statuses.
func (h *Handler) writeGroupError(w http.ResponseWriter, err error) int {
	var vErr *groupconfig.ValidationError

	switch {
	case errors.As(err, &vErr):
		return h.writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, groupconfig.ErrGroupExists):
		return h.writeError(w, http.StatusConflict, "Group already configured.")
	case errors.Is(err, groupconfig.ErrGroupNotFound):
		return h.writeError(w, http.StatusNotFound, "Group not configured.")
	default:
		h.logger.Error().Err(err).Msg("group store operation failed")

		return h.writeError(w, http.StatusInternalServerError, "Failed to persist group configuration.")
	}
}

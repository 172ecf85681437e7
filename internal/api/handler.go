// Package api serves the discovery and group-configuration HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/telereplica/discovery/internal/groupconfig"
	"github.com/telereplica/discovery/internal/platform/observability"
	"github.com/telereplica/discovery/internal/scan"
	db "github.com/telereplica/discovery/internal/storage"
)

const (
	serviceName    = "chat-discovery"
	serviceVersion = "1.2.0"

	maxBodyBytes = 1 << 20

	// Route path constants.
	routeScan       = "api/discovery/scan"
	routeScanStatus = "api/discovery/scan/status"
	routeChats      = "api/discovery/chats"
	routeStats      = "api/discovery/stats"
	routeStatus     = "api/discovery/status"
	routeGroups     = "api/groups"
	routeGroupsBulk = "api/groups/bulk"

	contentTypeHeader = "Content-Type"
	contentTypeJSON   = "application/json; charset=utf-8"

	// Error message constants.
	errMsgMethodNotAllowed = "Method not allowed."
	errMsgInvalidBody      = "Invalid request body."
	errMsgUnknownEndpoint  = "Unknown endpoint."
)

// Scanner is the part of the scan orchestrator the API needs.
type Scanner interface {
	Start(ctx context.Context, opts scan.Options) (string, error)
	Status() scan.Status
	Stats() scan.Stats
	Ready() bool
	Scanning() bool
}

// ChatStore is the part of the record store the API needs.
type ChatStore interface {
	QueryChats(ctx context.Context, filter db.ChatFilter) ([]db.ChatRecord, error)
	CountChats(ctx context.Context, filter db.ChatFilter) (int, error)
	ChatStats(ctx context.Context) (db.ChatStats, error)
	Ping(ctx context.Context) error
}

// Handler routes API requests.
type Handler struct {
	scanner Scanner
	chats   ChatStore
	groups  *groupconfig.Store
	hub     *Hub
	logger  *zerolog.Logger

	// baseCtx outlives individual requests; scans started from a request
	// run against it.
	baseCtx context.Context
}

// NewHandler creates the API handler. baseCtx bounds background scans.
func NewHandler(baseCtx context.Context, scanner Scanner, chats ChatStore, groups *groupconfig.Store, hub *Hub, logger *zerolog.Logger) *Handler {
	return &Handler{
		scanner: scanner,
		chats:   chats,
		groups:  groups,
		hub:     hub,
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// ServeHTTP routes requests and records per-route metrics.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, status := "panic", http.StatusInternalServerError

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("request handler panicked")
			h.writeError(w, http.StatusInternalServerError, "Internal server error.")
		}

		observability.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	route, status = h.dispatch(w, r)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) (route string, status int) {
	path := strings.Trim(r.URL.Path, "/")

	switch {
	case path == "":
		return "index", h.handleIndex(w, r)
	case path == routeScanStatus:
		return "scan_status", h.handleScanStatus(w, r)
	case path == routeScan:
		return "scan", h.handleScan(w, r)
	case path == routeChats:
		return "chats", h.handleChats(w, r)
	case path == routeStats:
		return "stats", h.handleStats(w, r)
	case path == routeStatus:
		return "status", h.handleStatus(w, r)
	case path == routeGroupsBulk:
		return "groups_bulk", h.handleGroupsBulk(w, r)
	case path == routeGroups:
		return "groups", h.handleGroups(w, r)
	case strings.HasPrefix(path, routeGroups+"/"):
		return "group", h.handleGroup(w, r, strings.TrimPrefix(path, routeGroups+"/"))
	default:
		return "not_found", h.writeError(w, http.StatusNotFound, errMsgUnknownEndpoint)
	}
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodGet {
		return h.writeError(w, http.StatusMethodNotAllowed, errMsgMethodNotAllowed)
	}

	return h.writeJSON(w, http.StatusOK, map[string]any{
		"service":       serviceName,
		"version":       serviceVersion,
		"status":        "running",
		"scanner_ready": h.scanner.Ready(),
	})
}

type scanRequest struct {
	MaxChats       int   `json:"max_chats"`
	IncludePrivate *bool `json:"include_private"`
	ForceRefresh   bool  `json:"force_refresh"`
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodPost {
		return h.writeError(w, http.StatusMethodNotAllowed, errMsgMethodNotAllowed)
	}

	var req scanRequest
	if err := decodeBody(r, &req); err != nil {
		return h.writeError(w, http.StatusBadRequest, errMsgInvalidBody)
	}

	// Private dialogs are only recorded when the caller asks for them.
	includePrivate := false
	if req.IncludePrivate != nil {
		includePrivate = *req.IncludePrivate
	}

	scanID, err := h.scanner.Start(h.baseCtx, scan.Options{
		MaxChats:       req.MaxChats,
		IncludePrivate: includePrivate,
		ForceRefresh:   req.ForceRefresh,
	})

	switch {
	case err == nil:
	case errors.Is(err, scan.ErrScanInProgress):
		return h.writeError(w, http.StatusConflict, "Scan already in progress.")
	case errors.Is(err, scan.ErrSourceNotReady):
		return h.writeError(w, http.StatusServiceUnavailable, "Telegram client not connected.")
	default:
		h.logger.Error().Err(err).Msg("start scan failed")

		return h.writeError(w, http.StatusInternalServerError, "Failed to start scan.")
	}

	return h.writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Chat scan started",
		"scan_id": scanID,
	})
}

func (h *Handler) handleScanStatus(w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodGet {
		return h.writeError(w, http.StatusMethodNotAllowed, errMsgMethodNotAllowed)
	}

	return h.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"progress": h.scanner.Status(),
		"stats":    h.scanner.Stats(),
	})
}

func (h *Handler) handleChats(w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodGet {
		return h.writeError(w, http.StatusMethodNotAllowed, errMsgMethodNotAllowed)
	}

	filter, err := parseChatFilter(r)
	if err != nil {
		return h.writeError(w, http.StatusBadRequest, err.Error())
	}

	records, err := h.chats.QueryChats(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("query chats failed")

		return h.writeError(w, http.StatusInternalServerError, "Failed to query chats.")
	}

	total, err := h.chats.CountChats(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("count chats failed")

		return h.writeError(w, http.StatusInternalServerError, "Failed to query chats.")
	}

	chats := make([]apiChat, 0, len(records))
	for _, rec := range records {
		chats = append(chats, h.toAPIChat(rec))
	}

	// The configured join happens against the in-memory group store, so
	// it filters the returned page rather than the SQL query.
	if v := r.URL.Query().Get("configured"); v != "" {
		want := parseBool(v)
		filtered := chats[:0]

		for _, c := range chats {
			if c.Configured == want {
				filtered = append(filtered, c)
			}
		}

		chats = filtered
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = db.DefaultQueryLimit
	}

	if limit > db.MaxQueryLimit {
		limit = db.MaxQueryLimit
	}

	return h.writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"chats":           chats,
		"total":           total,
		"limit":           limit,
		"offset":          filter.Offset,
		"filters_applied": filterSummary(r),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodGet {
		return h.writeError(w, http.StatusMethodNotAllowed, errMsgMethodNotAllowed)
	}

	stats, err := h.chats.ChatStats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("chat stats failed")

		return h.writeError(w, http.StatusInternalServerError, "Failed to load stats.")
	}

	return h.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"stats":      stats,
		"scan_stats": h.scanner.Stats(),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodGet {
		return h.writeError(w, http.StatusMethodNotAllowed, errMsgMethodNotAllowed)
	}

	stats, err := h.chats.ChatStats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("chat stats failed")

		return h.writeError(w, http.StatusInternalServerError, "Failed to load status.")
	}

	wsClients := 0
	if h.hub != nil {
		wsClients = h.hub.ClientCount()
	}

	return h.writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"service":           serviceName,
		"version":           serviceVersion,
		"scanner_ready":     h.scanner.Ready(),
		"scanning":          h.scanner.Scanning(),
		"progress":          h.scanner.Status(),
		"scan_stats":        h.scanner.Stats(),
		"db_stats":          stats,
		"configured_groups": h.groups.Count(),
		"websocket_clients": wsClients,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

// apiChat is the wire shape of a stored chat record, including whether a
// forwarding configuration exists for it.
type apiChat struct {
	ID                int64     `json:"id"`
	Title             string    `json:"title"`
	Type              string    `json:"type"`
	Username          string    `json:"username,omitempty"`
	Description       string    `json:"description,omitempty"`
	ParticipantsCount int       `json:"participants_count"`
	IsBroadcast       bool      `json:"is_broadcast"`
	IsVerified        bool      `json:"is_verified"`
	IsScam            bool      `json:"is_scam"`
	IsFake            bool      `json:"is_fake"`
	HasPhoto          bool      `json:"has_photo"`
	IsPublic          bool      `json:"is_public"`
	DiscoveredAt      time.Time `json:"discovered_at"`
	LastUpdated       time.Time `json:"last_updated"`
	Configured        bool      `json:"configured"`
}

func (h *Handler) toAPIChat(rec db.ChatRecord) apiChat {
	return apiChat{
		ID:                rec.ID,
		Title:             rec.Title,
		Type:              rec.Type,
		Username:          rec.Username,
		Description:       rec.Description,
		ParticipantsCount: rec.ParticipantsCount,
		IsBroadcast:       rec.IsBroadcast,
		IsVerified:        rec.IsVerified,
		IsScam:            rec.IsScam,
		IsFake:            rec.IsFake,
		HasPhoto:          rec.HasPhoto,
		IsPublic:          rec.IsPublic,
		DiscoveredAt:      rec.DiscoveredAt,
		LastUpdated:       rec.LastUpdated,
		Configured:        h.groups.Configured(markedChatID(rec)),
	}
}

// markedChatID converts a raw entity id to the signed form group
// configurations are keyed by: groups and channels get negative ids,
// private chats keep the raw positive id.
func markedChatID(rec db.ChatRecord) int64 {
	switch rec.Type {
	case db.ChatTypeGroup:
		return -rec.ID
	case db.ChatTypeSupergroup, db.ChatTypeChannel:
		return -1000000000000 - rec.ID
	default:
		return rec.ID
	}
}

func parseChatFilter(r *http.Request) (db.ChatFilter, error) {
	q := r.URL.Query()

	search := q.Get("search_term")
	if search == "" {
		// Older clients used the short form.
		search = q.Get("search")
	}

	filter := db.ChatFilter{
		Type:            strings.TrimSpace(q.Get("type")),
		SearchTerm:      strings.TrimSpace(search),
		MinParticipants: parseIntParam(q.Get("min_participants"), -1),
		MaxParticipants: parseIntParam(q.Get("max_participants"), -1),
		Limit:           parseIntParam(q.Get("limit"), 0),
		Offset:          parseIntParam(q.Get("offset"), 0),
	}

	if filter.Type != "" {
		switch filter.Type {
		case db.ChatTypePrivate, db.ChatTypeGroup, db.ChatTypeSupergroup, db.ChatTypeChannel:
		default:
			return filter, &groupconfig.ValidationError{Field: "type", Reason: "unknown chat type"}
		}
	}

	if v := q.Get("has_username"); v != "" {
		b := parseBool(v)
		filter.HasUsername = &b
	}

	if v := q.Get("verified"); v != "" {
		b := parseBool(v)
		filter.IsVerified = &b
	}

	return filter, nil
}

func filterSummary(r *http.Request) map[string]string {
	summary := map[string]string{}

	for _, key := range []string{"type", "search_term", "search", "min_participants", "max_participants", "has_username", "verified", "configured"} {
		if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
			summary[key] = v
		}
	}

	return summary
}

func parseIntParam(val string, fallback int) int {
	val = strings.TrimSpace(val)
	if val == "" {
		return fallback
	}

	num, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}

	return num
}

func parseBool(val string) bool {
	val = strings.ToLower(strings.TrimSpace(val))

	return val == "true" || val == "1" || val == "yes"
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}

	return json.NewDecoder(r.Body).Decode(target)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) int {
	w.Header().Set(contentTypeHeader, contentTypeJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error().Err(err).Msg("write json failed")
	}

	return status
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) int {
	return h.writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

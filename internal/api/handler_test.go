package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telereplica/discovery/internal/groupconfig"
	"github.com/telereplica/discovery/internal/scan"
	db "github.com/telereplica/discovery/internal/storage"
)

const testWebhook = "https://discord.com/api/webhooks/123/token"

type fakeScanner struct {
	ready    bool
	scanning bool
	startErr error
	scanID   string
	status   scan.Status
	stats    scan.Stats
	lastOpts scan.Options
}

func (f *fakeScanner) Start(_ context.Context, opts scan.Options) (string, error) {
	f.lastOpts = opts

	if f.startErr != nil {
		return "", f.startErr
	}

	return f.scanID, nil
}

func (f *fakeScanner) Status() scan.Status { return f.status }
func (f *fakeScanner) Stats() scan.Stats   { return f.stats }
func (f *fakeScanner) Ready() bool         { return f.ready }
func (f *fakeScanner) Scanning() bool      { return f.scanning }

type fakeChatStore struct {
	records    []db.ChatRecord
	err        error
	lastFilter db.ChatFilter
}

func (f *fakeChatStore) QueryChats(_ context.Context, filter db.ChatFilter) ([]db.ChatRecord, error) {
	f.lastFilter = filter

	return f.records, f.err
}

func (f *fakeChatStore) CountChats(_ context.Context, _ db.ChatFilter) (int, error) {
	return len(f.records), f.err
}

func (f *fakeChatStore) ChatStats(_ context.Context) (db.ChatStats, error) {
	return db.ChatStats{Total: len(f.records), ByType: map[string]int{}}, f.err
}

func (f *fakeChatStore) Ping(_ context.Context) error { return f.err }

type testEnv struct {
	handler *Handler
	scanner *fakeScanner
	chats   *fakeChatStore
	groups  *groupconfig.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zerolog.Nop()

	groups, err := groupconfig.Open(filepath.Join(t.TempDir(), "groups.json"), &logger)
	require.NoError(t, err)

	scanner := &fakeScanner{ready: true, scanID: "scan-1"}
	chats := &fakeChatStore{}

	return &testEnv{
		handler: NewHandler(context.Background(), scanner, chats, groups, nil, &logger),
		scanner: scanner,
		chats:   chats,
		groups:  groups,
	}
}

func (e *testEnv) request(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()

	e.handler.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}

	return rec, payload
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t)

	rec, payload := env.request(t, http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, serviceName, payload["service"])
	assert.Equal(t, true, payload["scanner_ready"])
}

func TestScan_Accepted(t *testing.T) {
	env := newTestEnv(t)

	rec, payload := env.request(t, http.MethodPost, "/api/discovery/scan",
		`{"max_chats": 50, "include_private": false, "force_refresh": true}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "scan-1", payload["scan_id"])

	assert.Equal(t, 50, env.scanner.lastOpts.MaxChats)
	assert.False(t, env.scanner.lastOpts.IncludePrivate)
	assert.True(t, env.scanner.lastOpts.ForceRefresh)
}

func TestScan_PrivateExcludedByDefault(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.request(t, http.MethodPost, "/api/discovery/scan", "")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, env.scanner.lastOpts.IncludePrivate)

	rec, _ = env.request(t, http.MethodPost, "/api/discovery/scan", `{"include_private": true}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, env.scanner.lastOpts.IncludePrivate)
}

func TestScan_Conflict(t *testing.T) {
	env := newTestEnv(t)
	env.scanner.startErr = scan.ErrScanInProgress

	rec, payload := env.request(t, http.MethodPost, "/api/discovery/scan", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, false, payload["success"])
	assert.Contains(t, payload["error"], "in progress")
}

func TestScan_SourceUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.scanner.startErr = scan.ErrSourceNotReady

	rec, payload := env.request(t, http.MethodPost, "/api/discovery/scan", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, payload["success"])
}

func TestScan_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec, payload := env.request(t, http.MethodGet, "/api/discovery/scan", "")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, false, payload["success"])
}

func TestScan_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	rec, payload := env.request(t, http.MethodPost, "/api/discovery/scan", "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, payload["success"])
}

func TestUnknownEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec, payload := env.request(t, http.MethodGet, "/api/nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, payload["success"])
}

func TestChats_ConfiguredJoin(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now().UTC()
	env.chats.records = []db.ChatRecord{
		{ID: 100, Title: "Supergroup", Type: db.ChatTypeSupergroup, DiscoveredAt: now, LastUpdated: now},
		{ID: 200, Title: "Other", Type: db.ChatTypeGroup, DiscoveredAt: now, LastUpdated: now},
	}

	// Configure the supergroup under its marked id.
	_, err := env.groups.Add(groupconfig.GroupConfig{
		GroupID:    -1000000000100,
		GroupName:  "Supergroup",
		WebhookURL: testWebhook,
	})
	require.NoError(t, err)

	rec, payload := env.request(t, http.MethodGet, "/api/discovery/chats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	chats, ok := payload["chats"].([]any)
	require.True(t, ok)
	require.Len(t, chats, 2)

	first, ok := chats[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, first["configured"])

	second, ok := chats[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, second["configured"])

	// configured=true narrows the page to configured chats.
	rec, payload = env.request(t, http.MethodGet, "/api/discovery/chats?configured=true", "")
	require.Equal(t, http.StatusOK, rec.Code)

	chats, ok = payload["chats"].([]any)
	require.True(t, ok)
	assert.Len(t, chats, 1)
}

func TestChats_SearchTermParam(t *testing.T) {
	env := newTestEnv(t)

	rec, payload := env.request(t, http.MethodGet, "/api/discovery/chats?search_term=golang", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "golang", env.chats.lastFilter.SearchTerm)

	applied, ok := payload["filters_applied"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "golang", applied["search_term"])

	// The short form still works.
	rec, _ = env.request(t, http.MethodGet, "/api/discovery/chats?search=news", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "news", env.chats.lastFilter.SearchTerm)
}

func TestChats_InvalidType(t *testing.T) {
	env := newTestEnv(t)

	rec, payload := env.request(t, http.MethodGet, "/api/discovery/chats?type=bogus", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, payload["success"])
}

func TestScanStatus(t *testing.T) {
	env := newTestEnv(t)
	env.scanner.status = scan.Status{State: scan.StateScanning, ScanID: "scan-1", Current: 40, Total: 0}
	env.scanner.stats = scan.Stats{TotalScanned: 40, NewDiscovered: 12}

	rec, payload := env.request(t, http.MethodGet, "/api/discovery/scan/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	progress, ok := payload["progress"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "scanning", progress["status"])
	assert.Equal(t, float64(40), progress["current"])

	stats, ok := payload["stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(12), stats["new_discovered"])
}

func TestStatus_Detailed(t *testing.T) {
	env := newTestEnv(t)

	rec, payload := env.request(t, http.MethodGet, "/api/discovery/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, true, payload["success"])
	assert.Equal(t, serviceName, payload["service"])
	assert.Equal(t, float64(0), payload["configured_groups"])
	assert.Contains(t, payload, "db_stats")
}

func TestGroups_CRUD(t *testing.T) {
	env := newTestEnv(t)

	body := `{"group_id": -100, "group_name": "My Group", "webhook_url": "` + testWebhook + `"}`

	rec, payload := env.request(t, http.MethodPost, "/api/groups", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, payload["success"])

	group, ok := payload["group"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "active", group["status"])
	assert.Equal(t, float64(0), group["message_count"])

	// Duplicate create conflicts.
	rec, _ = env.request(t, http.MethodPost, "/api/groups", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Positive id rejected.
	rec, payload = env.request(t, http.MethodPost, "/api/groups",
		`{"group_id": 100, "group_name": "Bad", "webhook_url": "`+testWebhook+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, payload["error"], "group_id")

	// List contains the group.
	rec, payload = env.request(t, http.MethodGet, "/api/groups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), payload["total"])

	// Partial update.
	rec, payload = env.request(t, http.MethodPut, "/api/groups/-100", `{"group_name": "Renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	group, ok = payload["group"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Renamed", group["group_name"])
	assert.Equal(t, testWebhook, group["webhook_url"])

	// Get single.
	rec, _ = env.request(t, http.MethodGet, "/api/groups/-100", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Delete, then gone.
	rec, _ = env.request(t, http.MethodDelete, "/api/groups/-100", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.request(t, http.MethodGet, "/api/groups/-100", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroups_Actions(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.groups.Add(groupconfig.GroupConfig{
		GroupID: -100, GroupName: "G", WebhookURL: testWebhook, Enabled: true,
	})
	require.NoError(t, err)

	rec, payload := env.request(t, http.MethodPost, "/api/groups/-100/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)

	group, ok := payload["group"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "paused", group["status"])

	rec, payload = env.request(t, http.MethodPost, "/api/groups/-100/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)

	group, ok = payload["group"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, group["enabled"])

	// Unknown action.
	rec, _ = env.request(t, http.MethodPost, "/api/groups/-100/explode", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Actions are POST-only.
	rec, _ = env.request(t, http.MethodGet, "/api/groups/-100/enable", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// Unknown group.
	rec, _ = env.request(t, http.MethodPost, "/api/groups/-999/enable", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroups_InvalidID(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.request(t, http.MethodGet, "/api/groups/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGroupsBulk(t *testing.T) {
	env := newTestEnv(t)

	for _, id := range []int64{-100, -200} {
		_, err := env.groups.Add(groupconfig.GroupConfig{
			GroupID: id, GroupName: "G", WebhookURL: testWebhook, Enabled: true,
		})
		require.NoError(t, err)
	}

	rec, payload := env.request(t, http.MethodPost, "/api/groups/bulk",
		`{"group_ids": [-100, -200, -999], "operation": "disable"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, float64(2), payload["succeeded"])
	assert.Equal(t, float64(1), payload["failed"])

	results, ok := payload["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 3)

	last, ok := results[2].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, last["success"])
	assert.Contains(t, last["error"], "not configured")

	got, found := env.groups.Get(-100)
	require.True(t, found)
	assert.False(t, got.Enabled)
}

func TestGroupsBulk_Validation(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.request(t, http.MethodPost, "/api/groups/bulk", `{"group_ids": [], "operation": "enable"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.request(t, http.MethodPost, "/api/groups/bulk", `{"group_ids": [-100], "operation": "demolish"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkedChatID(t *testing.T) {
	assert.Equal(t, int64(-100), markedChatID(db.ChatRecord{ID: 100, Type: db.ChatTypeGroup}))
	assert.Equal(t, int64(-1000000000100), markedChatID(db.ChatRecord{ID: 100, Type: db.ChatTypeSupergroup}))
	assert.Equal(t, int64(-1000000000100), markedChatID(db.ChatRecord{ID: 100, Type: db.ChatTypeChannel}))
	assert.Equal(t, int64(100), markedChatID(db.ChatRecord{ID: 100, Type: db.ChatTypePrivate}))
}

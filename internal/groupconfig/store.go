// Package groupconfig manages the forwarding configuration document: a
// JSON file mapping Telegram group ids to Discord webhook configs.
package groupconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/telereplica/discovery/internal/platform/observability"
)

// Webhook URL prefixes accepted by validation. Discord still issues
// discordapp.com URLs for older webhooks.
var webhookPrefixes = []string{
	"https://discord.com/api/webhooks/",
	"https://discordapp.com/api/webhooks/",
}

// Group status values derived from the enabled flag.
const (
	StatusActive = "active"
	StatusPaused = "paused"
)

var (
	// ErrGroupExists is returned when adding a group id that is already
	// configured.
	ErrGroupExists = errors.New("group already configured")

	// ErrGroupNotFound is returned for operations on unknown group ids.
	ErrGroupNotFound = errors.New("group not configured")
)

// ValidationError describes a rejected configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// GroupConfig is one group's forwarding configuration.
type GroupConfig struct {
	GroupID         int64          `json:"group_id"`
	GroupName       string         `json:"group_name"`
	WebhookURL      string         `json:"webhook_url"`
	Enabled         bool           `json:"enabled"`
	Filters         map[string]any `json:"filters"`
	Transformations map[string]any `json:"transformations"`
	MessageCount    int            `json:"message_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Status derives the display status from the enabled flag.
func (g GroupConfig) Status() string {
	if g.Enabled {
		return StatusActive
	}

	return StatusPaused
}

// Update carries a partial configuration change. Nil fields are left
// untouched.
type Update struct {
	GroupName       *string
	WebhookURL      *string
	Enabled         *bool
	Filters         map[string]any
	Transformations map[string]any
}

// Store holds the configuration document in memory and rewrites the
// backing file atomically on every mutation.
type Store struct {
	path   string
	logger *zerolog.Logger

	mu     sync.Mutex
	groups map[int64]GroupConfig
}

// Open loads the document at path. A missing or corrupt file starts the
// store empty with a warning rather than failing.
func Open(path string, logger *zerolog.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger, groups: map[int64]GroupConfig{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read group config: %w", err)
		}

		logger.Info().Str("path", path).Msg("no group configuration file, starting empty")

		return s, nil
	}

	var doc map[string]GroupConfig
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("corrupt group configuration file, starting empty")

		return s, nil
	}

	for key, cfg := range doc {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			logger.Warn().Str("key", key).Msg("skipping group config entry with non-numeric key")

			continue
		}

		cfg.GroupID = id
		s.groups[id] = cfg
	}

	observability.ConfiguredGroups.Set(float64(len(s.groups)))

	return s, nil
}

// List returns all configurations ordered by group id.
func (s *Store) List() []GroupConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]GroupConfig, 0, len(s.groups))
	for _, cfg := range s.groups {
		out = append(out, cfg)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })

	return out
}

// Get returns one group's configuration.
func (s *Store) Get(id int64) (GroupConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.groups[id]

	return cfg, ok
}

// Configured reports whether a group id has a configuration.
func (s *Store) Configured(id int64) bool {
	_, ok := s.Get(id)

	return ok
}

// Count returns the number of configured groups.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.groups)
}

// Add validates and stores a new group configuration.
func (s *Store) Add(cfg GroupConfig) (GroupConfig, error) {
	if err := validateGroupID(cfg.GroupID); err != nil {
		return GroupConfig{}, err
	}

	if err := validateWebhook(cfg.WebhookURL); err != nil {
		return GroupConfig{}, err
	}

	cfg.GroupName = strings.TrimSpace(cfg.GroupName)
	if cfg.GroupName == "" {
		return GroupConfig{}, &ValidationError{Field: "group_name", Reason: "must not be empty"}
	}

	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	cfg.MessageCount = 0

	if cfg.Filters == nil {
		cfg.Filters = map[string]any{}
	}

	if cfg.Transformations == nil {
		cfg.Transformations = map[string]any{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[cfg.GroupID]; exists {
		return GroupConfig{}, fmt.Errorf("group %d: %w", cfg.GroupID, ErrGroupExists)
	}

	s.groups[cfg.GroupID] = cfg

	if err := s.persistLocked(); err != nil {
		delete(s.groups, cfg.GroupID)

		return GroupConfig{}, err
	}

	return cfg, nil
}

// Apply validates and applies a partial update to an existing group.
func (s *Store) Apply(id int64, upd Update) (GroupConfig, error) {
	if upd.WebhookURL != nil {
		if err := validateWebhook(*upd.WebhookURL); err != nil {
			return GroupConfig{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.groups[id]
	if !ok {
		return GroupConfig{}, fmt.Errorf("group %d: %w", id, ErrGroupNotFound)
	}

	prev := cfg

	if upd.GroupName != nil {
		cfg.GroupName = *upd.GroupName
	}

	if upd.WebhookURL != nil {
		cfg.WebhookURL = *upd.WebhookURL
	}

	if upd.Enabled != nil {
		cfg.Enabled = *upd.Enabled
	}

	if upd.Filters != nil {
		cfg.Filters = upd.Filters
	}

	if upd.Transformations != nil {
		cfg.Transformations = upd.Transformations
	}

	cfg.UpdatedAt = time.Now().UTC()
	s.groups[id] = cfg

	if err := s.persistLocked(); err != nil {
		s.groups[id] = prev

		return GroupConfig{}, err
	}

	return cfg, nil
}

// Remove deletes a group's configuration.
func (s *Store) Remove(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.groups[id]
	if !ok {
		return fmt.Errorf("group %d: %w", id, ErrGroupNotFound)
	}

	delete(s.groups, id)

	if err := s.persistLocked(); err != nil {
		s.groups[id] = prev

		return err
	}

	return nil
}

// SetEnabled switches forwarding on or off for a group.
func (s *Store) SetEnabled(id int64, enabled bool) (GroupConfig, error) {
	return s.Apply(id, Update{Enabled: &enabled})
}

// Toggle flips a group's enabled flag and returns the new state.
func (s *Store) Toggle(id int64) (GroupConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.groups[id]
	if !ok {
		return GroupConfig{}, fmt.Errorf("group %d: %w", id, ErrGroupNotFound)
	}

	prev := cfg
	cfg.Enabled = !cfg.Enabled
	cfg.UpdatedAt = time.Now().UTC()
	s.groups[id] = cfg

	if err := s.persistLocked(); err != nil {
		s.groups[id] = prev

		return GroupConfig{}, err
	}

	return cfg, nil
}

// persistLocked rewrites the document via a temp file and rename so a
// crash mid-write never corrupts the previous version. Callers hold mu.
func (s *Store) persistLocked() error {
	doc := make(map[string]GroupConfig, len(s.groups))
	for id, cfg := range s.groups {
		doc[strconv.FormatInt(id, 10)] = cfg
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal group config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".groupconfig-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("write temp config: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("close temp config: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("replace config file: %w", err)
	}

	observability.ConfiguredGroups.Set(float64(len(s.groups)))

	return nil
}

func validateGroupID(id int64) error {
	if id >= 0 {
		return &ValidationError{Field: "group_id", Reason: "must be negative for groups and channels"}
	}

	return nil
}

func validateWebhook(url string) error {
	for _, prefix := range webhookPrefixes {
		if strings.HasPrefix(url, prefix) && len(url) > len(prefix) {
			return nil
		}
	}

	return &ValidationError{Field: "webhook_url", Reason: "must be a Discord webhook URL"}
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Chat type values stored in the type column.
const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
	ChatTypeChannel    = "channel"
)

const (
	// DefaultQueryLimit applies when a caller does not set a limit.
	DefaultQueryLimit = 100
	// MaxQueryLimit caps a single page of results.
	MaxQueryLimit = 500
)

// ChatRecord is one discovered chat, channel or group.
// ParticipantsCount is negative when the source did not expose a count.
type ChatRecord struct {
	ID                int64
	Title             string
	Type              string
	Username          string
	Description       string
	ParticipantsCount int
	IsBroadcast       bool
	IsVerified        bool
	IsScam            bool
	IsFake            bool
	HasPhoto          bool
	IsPublic          bool
	DiscoveredAt      time.Time
	LastUpdated       time.Time
}

// ChatFilter selects a subset of stored chat records.
// MinParticipants/MaxParticipants are disabled when negative.
type ChatFilter struct {
	Type            string
	SearchTerm      string
	MinParticipants int
	MaxParticipants int
	HasUsername     *bool
	IsVerified      *bool
	Limit           int
	Offset          int
}

// ChatStats aggregates the stored chat records.
type ChatStats struct {
	Total       int            `json:"total_chats"`
	ByType      map[string]int `json:"by_type"`
	PublicCount int            `json:"public_chats"`
}

const chatColumns = `id, title, type, username, description, participants_count,
	is_broadcast, is_verified, is_scam, is_fake, has_photo, is_public,
	discovered_at, last_updated`

// UpsertChat inserts a new record or overwrites an existing one with the same
// id, preserving discovered_at and refreshing last_updated. It reports whether
// a new row was inserted.
func (db *DB) UpsertChat(ctx context.Context, rec ChatRecord) (bool, error) {
	var exists bool
	if err := db.SQL.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM discovered_chats WHERE id = ?)", rec.ID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check chat exists: %w", err)
	}

	_, err := db.SQL.ExecContext(ctx, `
		INSERT INTO discovered_chats (`+chatColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			type = excluded.type,
			username = excluded.username,
			description = excluded.description,
			participants_count = excluded.participants_count,
			is_broadcast = excluded.is_broadcast,
			is_verified = excluded.is_verified,
			is_scam = excluded.is_scam,
			is_fake = excluded.is_fake,
			has_photo = excluded.has_photo,
			is_public = excluded.is_public,
			last_updated = excluded.last_updated`,
		rec.ID, SanitizeUTF8(rec.Title), rec.Type,
		toNullString(rec.Username), toNullString(rec.Description), toNullInt(rec.ParticipantsCount),
		rec.IsBroadcast, rec.IsVerified, rec.IsScam, rec.IsFake, rec.HasPhoto, rec.IsPublic,
		rec.DiscoveredAt.UTC(), rec.LastUpdated.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("upsert chat %d: %w", rec.ID, err)
	}

	return !exists, nil
}

// QueryChats returns stored records matching the filter, most recently
// re-seen first.
func (db *DB) QueryChats(ctx context.Context, filter ChatFilter) ([]ChatRecord, error) {
	where, args := buildChatFilter(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := "SELECT " + chatColumns + " FROM discovered_chats" + where +
		" ORDER BY last_updated DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var records []ChatRecord

	for rows.Next() {
		rec, err := scanChatRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}

	return records, nil
}

// CountChats returns how many stored records match the filter, ignoring
// pagination.
func (db *DB) CountChats(ctx context.Context, filter ChatFilter) (int, error) {
	where, args := buildChatFilter(filter)

	var count int
	if err := db.SQL.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM discovered_chats"+where, args...,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count chats: %w", err)
	}

	return count, nil
}

// ChatIsStored reports whether a chat id has been discovered.
func (db *DB) ChatIsStored(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := db.SQL.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM discovered_chats WHERE id = ?)", id,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check chat stored: %w", err)
	}

	return exists, nil
}

// ChatStats computes aggregate counts over all stored records.
func (db *DB) ChatStats(ctx context.Context) (ChatStats, error) {
	stats := ChatStats{ByType: map[string]int{}}

	rows, err := db.SQL.QueryContext(ctx,
		"SELECT type, COUNT(*) FROM discovered_chats GROUP BY type")
	if err != nil {
		return stats, fmt.Errorf("chat stats by type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			chatType string
			count    int
		)

		if err := rows.Scan(&chatType, &count); err != nil {
			return stats, fmt.Errorf("scan chat stats: %w", err)
		}

		stats.ByType[chatType] = count
		stats.Total += count
	}

	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate chat stats: %w", err)
	}

	if err := db.SQL.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM discovered_chats WHERE username IS NOT NULL AND username != ''",
	).Scan(&stats.PublicCount); err != nil {
		return stats, fmt.Errorf("chat stats public count: %w", err)
	}

	return stats, nil
}

func buildChatFilter(filter ChatFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, filter.Type)
	}

	if term := strings.TrimSpace(filter.SearchTerm); term != "" {
		pattern := "%" + strings.ToLower(term) + "%"
		clauses = append(clauses,
			"(lower(title) LIKE ? OR lower(coalesce(description, '')) LIKE ? OR lower(coalesce(username, '')) LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}

	if filter.MinParticipants >= 0 {
		clauses = append(clauses, "participants_count >= ?")
		args = append(args, filter.MinParticipants)
	}

	if filter.MaxParticipants >= 0 {
		clauses = append(clauses, "participants_count <= ?")
		args = append(args, filter.MaxParticipants)
	}

	if filter.HasUsername != nil {
		if *filter.HasUsername {
			clauses = append(clauses, "username IS NOT NULL AND username != ''")
		} else {
			clauses = append(clauses, "(username IS NULL OR username = '')")
		}
	}

	if filter.IsVerified != nil {
		clauses = append(clauses, "is_verified = ?")
		args = append(args, *filter.IsVerified)
	}

	if len(clauses) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChatRecord(row rowScanner) (ChatRecord, error) {
	var (
		rec          ChatRecord
		username     sql.NullString
		description  sql.NullString
		participants sql.NullInt64
	)

	if err := row.Scan(
		&rec.ID, &rec.Title, &rec.Type, &username, &description, &participants,
		&rec.IsBroadcast, &rec.IsVerified, &rec.IsScam, &rec.IsFake,
		&rec.HasPhoto, &rec.IsPublic, &rec.DiscoveredAt, &rec.LastUpdated,
	); err != nil {
		return rec, fmt.Errorf("scan chat record: %w", err)
	}

	rec.Username = fromNullString(username)
	rec.Description = fromNullString(description)
	rec.ParticipantsCount = fromNullInt(participants)

	return rec, nil
}

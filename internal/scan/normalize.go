// Package scan walks the account's dialog list and records every chat,
// channel and group it can see into the discovery store.
package scan

import (
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	db "github.com/telereplica/discovery/internal/storage"
)

// Dialog is one entry from the dialog list. Exactly one of the entity
// fields is set.
type Dialog struct {
	User    *tg.User
	Chat    *tg.Chat
	Channel *tg.Channel
}

// Normalize converts a dialog entity into a storable chat record. It
// returns false for entities that cannot be recorded (deleted accounts,
// dialogs with no entity attached).
func Normalize(d Dialog, now time.Time) (db.ChatRecord, bool) {
	switch {
	case d.User != nil:
		return normalizeUser(d.User, now)
	case d.Channel != nil:
		return normalizeChannel(d.Channel, now), true
	case d.Chat != nil:
		return normalizeChat(d.Chat, now), true
	default:
		return db.ChatRecord{}, false
	}
}

func normalizeUser(u *tg.User, now time.Time) (db.ChatRecord, bool) {
	if u.Deleted {
		return db.ChatRecord{}, false
	}

	username, _ := u.GetUsername()
	_, hasPhoto := u.GetPhoto()

	return db.ChatRecord{
		ID:                u.ID,
		Title:             chatTitle("", u.FirstName, u.LastName, username, u.ID),
		Type:              db.ChatTypePrivate,
		Username:          username,
		ParticipantsCount: -1,
		IsVerified:        u.Verified,
		IsScam:            u.Scam,
		IsFake:            u.Fake,
		HasPhoto:          hasPhoto,
		IsPublic:          username != "",
		DiscoveredAt:      now,
		LastUpdated:       now,
	}, true
}

func normalizeChannel(c *tg.Channel, now time.Time) db.ChatRecord {
	chatType := db.ChatTypeSupergroup
	if c.Broadcast {
		chatType = db.ChatTypeChannel
	}

	username, _ := c.GetUsername()

	participants := -1
	if count, ok := c.GetParticipantsCount(); ok {
		participants = count
	}

	return db.ChatRecord{
		ID:                c.ID,
		Title:             chatTitle(c.Title, "", "", username, c.ID),
		Type:              chatType,
		Username:          username,
		ParticipantsCount: participants,
		IsBroadcast:       c.Broadcast,
		IsVerified:        c.Verified,
		IsScam:            c.Scam,
		IsFake:            c.Fake,
		HasPhoto:          hasChatPhoto(c.Photo),
		IsPublic:          username != "",
		DiscoveredAt:      now,
		LastUpdated:       now,
	}
}

func normalizeChat(c *tg.Chat, now time.Time) db.ChatRecord {
	return db.ChatRecord{
		ID:                c.ID,
		Title:             chatTitle(c.Title, "", "", "", c.ID),
		Type:              db.ChatTypeGroup,
		ParticipantsCount: c.ParticipantsCount,
		HasPhoto:          hasChatPhoto(c.Photo),
		DiscoveredAt:      now,
		LastUpdated:       now,
	}
}

// chatTitle picks a display title: the entity title, then the person's
// name, then the username, then a synthetic fallback. The result is
// never empty.
func chatTitle(title, firstName, lastName, username string, id int64) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}

	if name := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName)); name != "" {
		return name
	}

	if username != "" {
		return "@" + username
	}

	return fmt.Sprintf("Chat %d", id)
}

func hasChatPhoto(photo tg.ChatPhotoClass) bool {
	if photo == nil {
		return false
	}

	_, empty := photo.(*tg.ChatPhotoEmpty)

	return !empty
}

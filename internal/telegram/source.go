package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/telereplica/discovery/internal/scan"
)

// ErrNotConnected indicates the client is not currently connected.
var ErrNotConnected = errors.New("telegram client not connected")

// NextDialogs implements scan.DialogSource over messages.getDialogs. It
// retries a FLOOD_WAIT page once after the indicated wait; a second
// failure surfaces to the caller.
func (c *Client) NextDialogs(ctx context.Context, cursor scan.Cursor, limit int) ([]scan.Dialog, scan.Cursor, error) {
	if cursor.Exhausted {
		return nil, cursor, nil
	}

	api := c.currentAPI()
	if api == nil {
		return nil, cursor, ErrNotConnected
	}

	offsetPeer := cursor.OffsetPeer
	if offsetPeer == nil {
		offsetPeer = &tg.InputPeerEmpty{}
	}

	req := &tg.MessagesGetDialogsRequest{
		OffsetDate: cursor.OffsetDate,
		OffsetID:   cursor.OffsetID,
		OffsetPeer: offsetPeer,
		Limit:      limit,
	}

	resp, err := api.MessagesGetDialogs(ctx, req)
	if err != nil {
		floodErr, ok := tgerr.As(err)
		if !ok || floodErr.Type != "FLOOD_WAIT" {
			return nil, cursor, fmt.Errorf("get dialogs: %w", err)
		}

		c.logger.Warn().Int("seconds", floodErr.Argument).Msg("flood wait")

		select {
		case <-ctx.Done():
			return nil, cursor, ctx.Err()
		case <-time.After(time.Duration(floodErr.Argument) * time.Second):
		}

		resp, err = api.MessagesGetDialogs(ctx, req)
		if err != nil {
			return nil, cursor, fmt.Errorf("get dialogs after flood wait: %w", err)
		}
	}

	return collectDialogs(resp, cursor, limit)
}

// collectDialogs flattens a dialogs response into entity-resolved dialogs
// and computes the cursor for the following page.
func collectDialogs(resp tg.MessagesDialogsClass, cursor scan.Cursor, limit int) ([]scan.Dialog, scan.Cursor, error) {
	var (
		rawDialogs []tg.DialogClass
		messages   []tg.MessageClass
		chats      []tg.ChatClass
		users      []tg.UserClass
		lastPage   bool
	)

	switch d := resp.(type) {
	case *tg.MessagesDialogs:
		rawDialogs, messages, chats, users = d.Dialogs, d.Messages, d.Chats, d.Users
		lastPage = true
	case *tg.MessagesDialogsSlice:
		rawDialogs, messages, chats, users = d.Dialogs, d.Messages, d.Chats, d.Users
		lastPage = len(rawDialogs) < limit
	case *tg.MessagesDialogsNotModified:
		return nil, scan.Cursor{Exhausted: true}, nil
	default:
		return nil, cursor, fmt.Errorf("unexpected dialogs response %T", resp)
	}

	entities := newEntitySet(users, chats)

	out := make([]scan.Dialog, 0, len(rawDialogs))

	var lastDialog *tg.Dialog

	for _, raw := range rawDialogs {
		dialog, ok := raw.(*tg.Dialog)
		if !ok {
			continue
		}

		lastDialog = dialog
		out = append(out, entities.resolve(dialog.Peer))
	}

	next := scan.Cursor{Exhausted: lastPage}
	if !lastPage && lastDialog != nil {
		next.OffsetPeer = entities.inputPeer(lastDialog.Peer)
		next.OffsetID, next.OffsetDate = topMessagePosition(messages, lastDialog.TopMessage)

		// Without a usable offset the next request would repeat this
		// page forever.
		if next.OffsetPeer == nil {
			next = scan.Cursor{Exhausted: true}
		}
	}

	return out, next, nil
}

type entitySet struct {
	users    map[int64]*tg.User
	chats    map[int64]*tg.Chat
	channels map[int64]*tg.Channel
}

func newEntitySet(users []tg.UserClass, chats []tg.ChatClass) *entitySet {
	set := &entitySet{
		users:    map[int64]*tg.User{},
		chats:    map[int64]*tg.Chat{},
		channels: map[int64]*tg.Channel{},
	}

	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			set.users[user.ID] = user
		}
	}

	for _, c := range chats {
		switch chat := c.(type) {
		case *tg.Chat:
			set.chats[chat.ID] = chat
		case *tg.Channel:
			set.channels[chat.ID] = chat
		}
	}

	return set
}

// resolve returns the dialog entity for a peer. Unknown or forbidden
// peers produce an empty Dialog, which the scanner skips.
func (s *entitySet) resolve(peer tg.PeerClass) scan.Dialog {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return scan.Dialog{User: s.users[p.UserID]}
	case *tg.PeerChat:
		return scan.Dialog{Chat: s.chats[p.ChatID]}
	case *tg.PeerChannel:
		return scan.Dialog{Channel: s.channels[p.ChannelID]}
	default:
		return scan.Dialog{}
	}
}

func (s *entitySet) inputPeer(peer tg.PeerClass) tg.InputPeerClass {
	switch p := peer.(type) {
	case *tg.PeerUser:
		if user, ok := s.users[p.UserID]; ok {
			return &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerChannel:
		if channel, ok := s.channels[p.ChannelID]; ok {
			return &tg.InputPeerChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash}
		}
	}

	return nil
}

// topMessagePosition finds the id and date of a dialog's top message
// within the response's message set.
func topMessagePosition(messages []tg.MessageClass, topMessage int) (id, date int) {
	for _, m := range messages {
		if m.GetID() != topMessage {
			continue
		}

		if msg, ok := m.(*tg.Message); ok {
			return msg.ID, msg.Date
		}

		if msg, ok := m.(*tg.MessageService); ok {
			return msg.ID, msg.Date
		}
	}

	return topMessage, 0
}

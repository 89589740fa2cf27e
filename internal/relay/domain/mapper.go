package domain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/louisbranch/anonrelay/internal/telegram"
)

const profileLinkPrefix = "tg://user?id="

// RelayInbound forwards one admitted message into the owner's thread. A
// fresh edit with a recorded mapping is mirrored onto the relayed copy
// instead; a missing mapping or a lapsed edit window falls through to a
// normal relay.
func (s *Service) RelayInbound(ctx context.Context, msg *telegram.Message, isEdit bool, now time.Time) error {
	if msg == nil {
		return nil
	}
	identity := strconv.FormatInt(msg.Chat.ID, 10)
	key := mapKey(identity, msg.MessageID)

	if isEdit && msg.Text != "" {
		editedAt := msg.EditDate
		if editedAt == 0 {
			editedAt = now.Unix()
		}
		if editedAt-msg.Date <= editSyncWindowSeconds {
			mapped, err := s.getOptional(ctx, key)
			if err != nil {
				return err
			}
			if relayedID, parseErr := strconv.ParseInt(mapped, 10, 64); parseErr == nil && mapped != "" {
				text := msg.Text
				s.tasks.Go("edit sync", func(ctx context.Context) error {
					return s.gateway.EditMessageText(ctx, telegram.EditMessageTextRequest{
						ChatID:      s.owner,
						MessageID:   relayedID,
						Text:        fmt.Sprintf("%s\n\n(Ed) ID: %s", text, identity),
						ReplyMarkup: identityKeyboard(identity, false),
					})
				})
				return nil
			}
		}
	}

	s.tasks.Go("typing indicator", func(ctx context.Context) error {
		return s.gateway.SendChatAction(ctx, telegram.SendChatActionRequest{
			ChatID: msg.Chat.ID,
			Action: typingAction,
		})
	})

	copyID, err := s.copyToOwner(ctx, msg, identity)
	if err != nil {
		return err
	}

	// Losing this write only disables edit-sync for the message.
	s.tasks.Go("record mapping", func(ctx context.Context) error {
		return s.kv.Put(ctx, key, strconv.FormatInt(copyID, 10), mappingTTL)
	})
	return nil
}

// copyToOwner relays msg with an identity-tagged button. Numeric identities
// get a direct profile link first; when the gateway rejects it, the copy is
// retried exactly once with a callback-data button instead. The two button
// shapes are mutually exclusive.
func (s *Service) copyToOwner(ctx context.Context, msg *telegram.Message, identity string) (int64, error) {
	if isNumericIdentity(identity) {
		copyID, err := s.gateway.CopyMessage(ctx, copyRequest(msg, s.owner, identityKeyboard(identity, true)))
		if err == nil {
			return copyID, nil
		}
	}
	return s.gateway.CopyMessage(ctx, copyRequest(msg, s.owner, identityKeyboard(identity, false)))
}

// RelayOwnerReply forwards the owner's reply back to the sender identified
// by the relayed copy's button. A reply whose target cannot be recovered is
// acknowledged without forwarding; that is never an error.
func (s *Service) RelayOwnerReply(ctx context.Context, msg *telegram.Message) error {
	if msg == nil || msg.ReplyToMessage == nil {
		return nil
	}
	identity := senderFromMarkup(msg.ReplyToMessage.ReplyMarkup)
	if identity == "" {
		return nil
	}
	target, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return nil
	}

	fromChat := msg.Chat.ID
	messageID := msg.MessageID
	s.tasks.Go("owner reply", func(ctx context.Context) error {
		// The owner-to-user direction carries no relay metadata.
		_, copyErr := s.gateway.CopyMessage(ctx, telegram.CopyMessageRequest{
			ChatID:     target,
			FromChatID: fromChat,
			MessageID:  messageID,
		})
		return copyErr
	})
	return nil
}

// senderFromMarkup recovers the sender identity from the first button of
// the first row: callback data when present, else the profile-link payload.
func senderFromMarkup(markup *telegram.InlineKeyboardMarkup) string {
	if markup == nil || len(markup.InlineKeyboard) == 0 || len(markup.InlineKeyboard[0]) == 0 {
		return ""
	}
	button := markup.InlineKeyboard[0][0]
	if button.CallbackData != "" {
		return button.CallbackData
	}
	if payload, ok := strings.CutPrefix(button.URL, profileLinkPrefix); ok {
		return payload
	}
	return ""
}

func identityKeyboard(identity string, profileLink bool) *telegram.InlineKeyboardMarkup {
	button := telegram.InlineKeyboardButton{Text: identity}
	if profileLink {
		button.URL = profileLinkPrefix + identity
	} else {
		button.CallbackData = identity
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{button}}}
}

func copyRequest(msg *telegram.Message, to int64, markup *telegram.InlineKeyboardMarkup) telegram.CopyMessageRequest {
	return telegram.CopyMessageRequest{
		ChatID:      to,
		FromChatID:  msg.Chat.ID,
		MessageID:   msg.MessageID,
		ReplyMarkup: markup,
	}
}

// isNumericIdentity reports whether identity is a plain decimal user id.
func isNumericIdentity(identity string) bool {
	if identity == "" {
		return false
	}
	for _, r := range identity {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

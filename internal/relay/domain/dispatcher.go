package domain

import (
	"context"
	"strconv"

	"github.com/louisbranch/anonrelay/internal/telegram"
)

// HandleUpdate classifies one gateway event and routes it. Classification
// order is fixed: button presses resolve challenges and are never relayed,
// bot senders are dropped, owner replies bypass admission, and everything
// else passes the admission check before it may be relayed.
func (s *Service) HandleUpdate(ctx context.Context, update telegram.Update) error {
	now := s.clock().UTC()

	if query := update.CallbackQuery; query != nil {
		if query.Data != verifyCallbackData {
			return nil
		}
		press := ChallengePress{
			Identity:        strconv.FormatInt(query.From.ID, 10),
			CallbackQueryID: query.ID,
		}
		if query.Message != nil {
			press.ChatID = query.Message.Chat.ID
			press.MessageID = query.Message.MessageID
		}
		return s.ResolveChallenge(ctx, press, now)
	}

	msg := update.Message
	isEdit := false
	if msg == nil && update.EditedMessage != nil {
		msg = update.EditedMessage
		isEdit = true
	}
	if msg == nil {
		return nil
	}
	if msg.From != nil && msg.From.IsBot {
		return nil
	}

	if msg.Chat.ID == s.owner {
		if msg.ReplyToMessage != nil {
			return s.RelayOwnerReply(ctx, msg)
		}
		return nil
	}

	identity := strconv.FormatInt(msg.Chat.ID, 10)
	decision, err := s.CheckAdmission(ctx, identity, now)
	if err != nil {
		return err
	}
	if decision != DecisionAdmit {
		return nil
	}

	// Bot-discovery taps produce a bare start command; ack without relay.
	if !isEdit && msg.Text == startCommand {
		return nil
	}

	return s.RelayInbound(ctx, msg, isEdit, now)
}

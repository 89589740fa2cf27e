package domain

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/louisbranch/anonrelay/internal/telegram"
)

// Decision is the admission outcome for one inbound message.
type Decision int

const (
	// DecisionBlocked means the message must not be relayed. Any user-facing
	// notice has already been arranged by the admission check.
	DecisionBlocked Decision = iota
	// DecisionAdmit means the message may be relayed to the owner.
	DecisionAdmit
)

// accessState is the per-identity state derived from which rows exist.
type accessState int

const (
	stateUnknown accessState = iota
	stateBanned
	statePending
	stateVerified
)

// identityRows is one consistent-enough snapshot of an identity's rows,
// derived once per operation. A ban row always wins.
type identityRows struct {
	state     accessState
	unbanAt   int64
	pendingAt int64
}

// readAccessRows loads the ban, pending, and verified rows concurrently and
// derives the identity's state.
func (s *Service) readAccessRows(ctx context.Context, identity string) (identityRows, error) {
	var wg sync.WaitGroup
	var banValue, pendingValue, verifiedValue string
	var banErr, pendingErr, verifiedErr error

	wg.Add(3)
	go func() {
		defer wg.Done()
		banValue, banErr = s.getOptional(ctx, banKey(identity))
	}()
	go func() {
		defer wg.Done()
		pendingValue, pendingErr = s.getOptional(ctx, pendingKey(identity))
	}()
	go func() {
		defer wg.Done()
		verifiedValue, verifiedErr = s.getOptional(ctx, verifiedKey(identity))
	}()
	wg.Wait()

	if err := errors.Join(banErr, pendingErr, verifiedErr); err != nil {
		return identityRows{}, err
	}
	return deriveRows(banValue, pendingValue, verifiedValue), nil
}

func deriveRows(banValue, pendingValue, verifiedValue string) identityRows {
	switch {
	case banValue != "":
		unbanAt, _ := strconv.ParseInt(banValue, 10, 64)
		return identityRows{state: stateBanned, unbanAt: unbanAt}
	case pendingValue != "":
		pendingAt, _ := strconv.ParseInt(pendingValue, 10, 64)
		return identityRows{state: statePending, pendingAt: pendingAt}
	case verifiedValue != "":
		return identityRows{state: stateVerified}
	default:
		return identityRows{state: stateUnknown}
	}
}

// CheckAdmission decides whether one inbound message from identity may be
// relayed. Identities in the challenge window are blocked silently so burst
// traffic does not repeat the prompt.
func (s *Service) CheckAdmission(ctx context.Context, identity string, now time.Time) (Decision, error) {
	rows, err := s.readAccessRows(ctx, identity)
	if err != nil {
		return DecisionBlocked, err
	}
	chatID, _ := strconv.ParseInt(identity, 10, 64)

	switch rows.state {
	case stateBanned:
		unbanAt := rows.unbanAt
		s.tasks.Go("ban notice", func(ctx context.Context) error {
			return s.sendNotice(ctx, chatID, banNoticeText(unbanAt))
		})
		return DecisionBlocked, nil
	case statePending:
		if now.Unix()-rows.pendingAt > challengeWindowSeconds {
			unbanAt, banErr := s.banIdentity(ctx, identity, now)
			if banErr != nil {
				return DecisionBlocked, banErr
			}
			s.tasks.Go("timeout notice", func(ctx context.Context) error {
				return s.sendNotice(ctx, chatID, timeoutNoticeText(unbanAt))
			})
		}
		return DecisionBlocked, nil
	case stateVerified:
		return DecisionAdmit, nil
	default:
		if err := s.issueChallenge(ctx, identity, chatID, now); err != nil {
			return DecisionBlocked, err
		}
		return DecisionBlocked, nil
	}
}

// ChallengePress is one activation of the challenge's inline button.
type ChallengePress struct {
	Identity        string
	CallbackQueryID string
	ChatID          int64
	MessageID       int64
}

// ResolveChallenge settles an outstanding challenge. The stored issuance
// timestamp is compared against wall clock, so a late press and a late
// message produce the same ban outcome regardless of arrival order.
func (s *Service) ResolveChallenge(ctx context.Context, press ChallengePress, now time.Time) error {
	var wg sync.WaitGroup
	var banValue, pendingValue string
	var banErr, pendingErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		banValue, banErr = s.getOptional(ctx, banKey(press.Identity))
	}()
	go func() {
		defer wg.Done()
		pendingValue, pendingErr = s.getOptional(ctx, pendingKey(press.Identity))
	}()
	wg.Wait()
	if err := errors.Join(banErr, pendingErr); err != nil {
		return err
	}

	if banValue != "" {
		unbanAt, _ := strconv.ParseInt(banValue, 10, 64)
		s.answerCallback(press.CallbackQueryID, callbackBanText(unbanAt), true)
		return nil
	}
	if pendingValue == "" {
		s.answerCallback(press.CallbackQueryID, sessionExpiredText, true)
		return nil
	}

	pendingAt, _ := strconv.ParseInt(pendingValue, 10, 64)
	if now.Unix()-pendingAt > challengeWindowSeconds {
		unbanAt, err := s.banIdentity(ctx, press.Identity, now)
		if err != nil {
			return err
		}
		s.answerCallback(press.CallbackQueryID, callbackTimeoutText(unbanAt), true)
		s.editChallengeMessage(press, timeoutNoticeText(unbanAt))
		return nil
	}

	if err := s.kv.Put(ctx, verifiedKey(press.Identity), "true", verifiedTTL); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, pendingKey(press.Identity)); err != nil {
		return err
	}
	s.answerCallback(press.CallbackQueryID, verifiedCallbackText, false)
	s.editChallengeMessage(press, verifiedEditText)
	return nil
}

// banIdentity records the 24h ban and clears the pending challenge. Both
// writes are absolute, so a second application is harmless.
func (s *Service) banIdentity(ctx context.Context, identity string, now time.Time) (int64, error) {
	unbanAt := now.Unix() + int64(banDuration/time.Second)
	if err := s.kv.Put(ctx, banKey(identity), strconv.FormatInt(unbanAt, 10), banDuration); err != nil {
		return 0, err
	}
	if err := s.kv.Delete(ctx, pendingKey(identity)); err != nil {
		return 0, err
	}
	return unbanAt, nil
}

// issueChallenge records the pending row and sends the challenge message
// with its single verify button and an absolute UTC deadline.
func (s *Service) issueChallenge(ctx context.Context, identity string, chatID int64, now time.Time) error {
	if err := s.kv.Put(ctx, pendingKey(identity), strconv.FormatInt(now.Unix(), 10), pendingTTL); err != nil {
		return err
	}
	_, err := s.gateway.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:    chatID,
		Text:      challengeText(now.Unix() + challengeWindowSeconds),
		ParseMode: parseModeHTML,
		ReplyMarkup: &telegram.InlineKeyboardMarkup{
			InlineKeyboard: [][]telegram.InlineKeyboardButton{{
				{Text: verifyButtonLabel, CallbackData: verifyCallbackData},
			}},
		},
	})
	return err
}

func (s *Service) answerCallback(callbackQueryID, text string, alert bool) {
	s.tasks.Go("answer callback", func(ctx context.Context) error {
		return s.gateway.AnswerCallbackQuery(ctx, telegram.AnswerCallbackQueryRequest{
			CallbackQueryID: callbackQueryID,
			Text:            text,
			ShowAlert:       alert,
		})
	})
}

func (s *Service) editChallengeMessage(press ChallengePress, text string) {
	if press.ChatID == 0 || press.MessageID == 0 {
		return
	}
	s.tasks.Go("edit challenge message", func(ctx context.Context) error {
		return s.gateway.EditMessageText(ctx, telegram.EditMessageTextRequest{
			ChatID:    press.ChatID,
			MessageID: press.MessageID,
			Text:      text,
			ParseMode: parseModeHTML,
		})
	})
}

func (s *Service) sendNotice(ctx context.Context, chatID int64, text string) error {
	_, err := s.gateway.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: parseModeHTML,
	})
	return err
}

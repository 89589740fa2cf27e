package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/louisbranch/anonrelay/internal/relay/storage"
	"github.com/louisbranch/anonrelay/internal/telegram"
)

var (
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("relay store is not configured")
	// ErrGatewayNotConfigured indicates the service is missing the messaging gateway.
	ErrGatewayNotConfigured = errors.New("relay gateway is not configured")
	// ErrOwnerRequired indicates the owner chat id is required.
	ErrOwnerRequired = errors.New("owner chat id is required")
)

const (
	// challengeWindowSeconds is the deadline for answering a challenge.
	// elapsed > 30 fails, elapsed == 30 passes.
	challengeWindowSeconds = 30
	// editSyncWindowSeconds bounds how old an edit may be and still be
	// mirrored onto the relayed copy instead of re-relayed.
	editSyncWindowSeconds = 60

	banDuration = 24 * time.Hour
	verifiedTTL = time.Hour
	mappingTTL  = 24 * time.Hour
	// pendingTTL is housekeeping only: an identity that goes silent after a
	// challenge is never banned, its pending row just ages out.
	pendingTTL = 24 * time.Hour

	verifyCallbackData = "captcha_verify"
	startCommand       = "/start"
	typingAction       = "typing"
)

// Gateway is the messaging provider boundary the relay drives.
type Gateway interface {
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) (telegram.Message, error)
	CopyMessage(ctx context.Context, req telegram.CopyMessageRequest) (int64, error)
	EditMessageText(ctx context.Context, req telegram.EditMessageTextRequest) error
	AnswerCallbackQuery(ctx context.Context, req telegram.AnswerCallbackQueryRequest) error
	SendChatAction(ctx context.Context, req telegram.SendChatActionRequest) error
}

// TaskRunner schedules side effects that may finish after the triggering
// event has been acknowledged to the gateway.
type TaskRunner interface {
	Go(name string, fn func(context.Context) error)
}

// Config defines the inputs for the relay service.
type Config struct {
	KV      storage.KV
	Gateway Gateway
	OwnerID int64
	Tasks   TaskRunner
	Clock   func() time.Time
}

// Service orchestrates admission and relay for one owner and an unbounded
// set of correspondents.
type Service struct {
	kv      storage.KV
	gateway Gateway
	owner   int64
	tasks   TaskRunner
	clock   func() time.Time
}

// NewService constructs the relay service. KV, Gateway, and OwnerID are
// required; Tasks defaults to inline execution and Clock to time.Now.
func NewService(cfg Config) (*Service, error) {
	if cfg.KV == nil {
		return nil, ErrStoreNotConfigured
	}
	if cfg.Gateway == nil {
		return nil, ErrGatewayNotConfigured
	}
	if cfg.OwnerID == 0 {
		return nil, ErrOwnerRequired
	}
	tasks := cfg.Tasks
	if tasks == nil {
		tasks = syncRunner{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		kv:      cfg.KV,
		gateway: cfg.Gateway,
		owner:   cfg.OwnerID,
		tasks:   tasks,
		clock:   clock,
	}, nil
}

// syncRunner executes tasks inline when no runner is injected.
type syncRunner struct{}

func (syncRunner) Go(name string, fn func(context.Context) error) {
	if err := fn(context.Background()); err != nil {
		log.Printf("%s: %v", name, err)
	}
}

// getOptional reads a key, mapping a missing row to an empty value.
func (s *Service) getOptional(ctx context.Context, key string) (string, error) {
	value, err := s.kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	return value, err
}

func banKey(identity string) string      { return "blacklist:" + identity }
func pendingKey(identity string) string  { return "pending:" + identity }
func verifiedKey(identity string) string { return "verified:" + identity }

func mapKey(identity string, messageID int64) string {
	return fmt.Sprintf("map:%s:%d", identity, messageID)
}

package domain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/anonrelay/internal/relay/storage"
	"github.com/louisbranch/anonrelay/internal/telegram"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

type fakeEntry struct {
	value     string
	expiresAt int64
}

// fakeKV is an in-memory stand-in for the relay key-value store.
type fakeKV struct {
	mu      sync.Mutex
	entries map[string]fakeEntry
	now     func() time.Time
}

func newFakeKV(now func() time.Time) *fakeKV {
	if now == nil {
		now = time.Now
	}
	return &fakeKV{entries: map[string]fakeEntry{}, now: now}
}

func (kv *fakeKV) Get(_ context.Context, key string) (string, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	entry, ok := kv.entries[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	if entry.expiresAt > 0 && entry.expiresAt <= kv.now().Unix() {
		delete(kv.entries, key)
		return "", storage.ErrNotFound
	}
	return entry.value, nil
}

func (kv *fakeKV) Put(_ context.Context, key, value string, ttl time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	entry := fakeEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = kv.now().Add(ttl).Unix()
	}
	kv.entries[key] = entry
	return nil
}

func (kv *fakeKV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.entries, key)
	return nil
}

func (kv *fakeKV) value(t *testing.T, key string) string {
	t.Helper()
	kv.mu.Lock()
	defer kv.mu.Unlock()
	entry, ok := kv.entries[key]
	if !ok {
		t.Fatalf("expected key %q to exist", key)
	}
	return entry.value
}

func (kv *fakeKV) expiry(t *testing.T, key string) int64 {
	t.Helper()
	kv.mu.Lock()
	defer kv.mu.Unlock()
	entry, ok := kv.entries[key]
	if !ok {
		t.Fatalf("expected key %q to exist", key)
	}
	return entry.expiresAt
}

func (kv *fakeKV) has(key string) bool {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	_, ok := kv.entries[key]
	return ok
}

// fakeGateway records every provider call and can fail copies on demand.
type fakeGateway struct {
	mu         sync.Mutex
	sent       []telegram.SendMessageRequest
	copies     []telegram.CopyMessageRequest
	edits      []telegram.EditMessageTextRequest
	answers    []telegram.AnswerCallbackQueryRequest
	actions    []telegram.SendChatActionRequest
	copyErrs   []error
	nextCopyID int64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{nextCopyID: 100}
}

func (g *fakeGateway) SendMessage(_ context.Context, req telegram.SendMessageRequest) (telegram.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, req)
	return telegram.Message{MessageID: int64(len(g.sent)), Chat: telegram.Chat{ID: req.ChatID}}, nil
}

func (g *fakeGateway) CopyMessage(_ context.Context, req telegram.CopyMessageRequest) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.copies = append(g.copies, req)
	if len(g.copyErrs) > 0 {
		err := g.copyErrs[0]
		g.copyErrs = g.copyErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	g.nextCopyID++
	return g.nextCopyID, nil
}

func (g *fakeGateway) EditMessageText(_ context.Context, req telegram.EditMessageTextRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edits = append(g.edits, req)
	return nil
}

func (g *fakeGateway) AnswerCallbackQuery(_ context.Context, req telegram.AnswerCallbackQueryRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.answers = append(g.answers, req)
	return nil
}

func (g *fakeGateway) SendChatAction(_ context.Context, req telegram.SendChatActionRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actions = append(g.actions, req)
	return nil
}

func (g *fakeGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

func (g *fakeGateway) copyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.copies)
}

const testOwnerID int64 = 42

func newTestService(t *testing.T, kv *fakeKV, gateway *fakeGateway, clock func() time.Time) *Service {
	t.Helper()
	svc, err := NewService(Config{
		KV:      kv,
		Gateway: gateway,
		OwnerID: testOwnerID,
		Clock:   clock,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

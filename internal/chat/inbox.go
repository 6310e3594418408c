package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lojinha/chatsync/internal/bus"
	"github.com/lojinha/chatsync/internal/cache"
)

// inboxCacheTTL is short on purpose: the list changes frequently and pushes
// keep it live between refetches.
const inboxCacheTTL = 10 * time.Second

const inboxCacheKey = "conversations"

// Inbox is the aggregate view of all threads, ordered most-recently-active
// first. It is kept current by global push insert events and by the
// read-state synchronizer; rows are never deleted during a session.
type Inbox struct {
	viewer Role
	remote Remote
	store  cache.Store
	bus    *bus.Bus
	logger *zap.Logger

	ttl time.Duration

	mu    sync.Mutex
	convs []Conversation
	stale bool
}

// NewInbox creates the conversation list cache for the given viewer role.
func NewInbox(viewer Role, remote Remote, store cache.Store, b *bus.Bus, logger *zap.Logger) *Inbox {
	return &Inbox{
		viewer: viewer,
		remote: remote,
		store:  store,
		bus:    b,
		logger: logger,
		ttl:    inboxCacheTTL,
	}
}

// Load populates the list, reading through the cache. A fetch failure leaves
// the last-known list visible and marks the inbox stale.
func (x *Inbox) Load(ctx context.Context) error {
	if raw, ok := x.store.Get(inboxCacheKey, x.ttl); ok {
		var convs []Conversation
		if err := json.Unmarshal(raw, &convs); err == nil {
			x.mu.Lock()
			x.convs = convs
			x.stale = false
			x.mu.Unlock()
			return nil
		}
		x.store.Remove(inboxCacheKey)
	}

	convs, err := x.remote.FetchConversations(ctx)
	if err != nil {
		x.mu.Lock()
		x.stale = true
		x.mu.Unlock()
		return fmt.Errorf("fetch conversations: %w", err)
	}

	x.mu.Lock()
	x.convs = convs
	x.stale = false
	x.writeCacheLocked()
	x.mu.Unlock()
	return nil
}

// Conversations returns the list ordered most-recently-active first.
func (x *Inbox) Conversations() []Conversation {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]Conversation, len(x.convs))
	copy(out, x.convs)
	return out
}

// Stale reports whether the last refresh attempt failed.
func (x *Inbox) Stale() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.stale
}

// ApplyInsert folds a global push insert into the list: the matching row's
// summary is updated, the unread counter bumped when the sender is the
// counterpart, and the row moved to the front (stable for all others). An
// insert for an unknown conversation creates its row; the next refetch fills
// in the display name.
func (x *Inbox) ApplyInsert(m Message) {
	x.mu.Lock()

	i := x.indexLocked(m.ConversationID)
	if i < 0 {
		x.convs = append(x.convs, Conversation{CounterpartyID: m.ConversationID})
		i = len(x.convs) - 1
	}

	c := x.convs[i]
	c.LastMessageSnippet = snippet(m)
	c.LastMessageSender = m.Sender
	c.LastMessageAt = m.CreatedAt
	if m.Sender != x.viewer {
		c.UnreadCount++
	}

	// Move to front, stable for the rest.
	copy(x.convs[1:i+1], x.convs[:i])
	x.convs[0] = c

	x.writeCacheLocked()
	x.mu.Unlock()

	x.publishUpdated(m.ConversationID)
}

// MarkRead zeroes the unread counter immediately, then issues the remote
// mark-read request. A remote failure is logged and otherwise invisible: a
// stale "looks read" beats re-surfacing a badge, so the local zero is never
// rolled back.
func (x *Inbox) MarkRead(ctx context.Context, conversationID int64) {
	x.mu.Lock()
	if i := x.indexLocked(conversationID); i >= 0 {
		x.convs[i].UnreadCount = 0
		x.writeCacheLocked()
	}
	x.mu.Unlock()

	x.bus.Publish(bus.Event{
		Kind:      bus.KindReadMarked,
		Timestamp: time.Now(),
		Payload:   conversationID,
	})

	if err := x.remote.MarkRead(ctx, conversationID, x.viewer); err != nil {
		x.logger.Warn("mark read failed, keeping local state",
			zap.Int64("conversation_id", conversationID), zap.Error(err))
		return
	}
	x.publishUpdated(conversationID)
}

func (x *Inbox) indexLocked(conversationID int64) int {
	for i, c := range x.convs {
		if c.CounterpartyID == conversationID {
			return i
		}
	}
	return -1
}

func (x *Inbox) writeCacheLocked() {
	raw, err := json.Marshal(x.convs)
	if err != nil {
		x.logger.Debug("marshal conversation cache", zap.Error(err))
		return
	}
	x.store.Set(inboxCacheKey, raw)
}

func (x *Inbox) publishUpdated(conversationID int64) {
	x.bus.Publish(bus.Event{
		Kind:      bus.KindConversationUpdated,
		Timestamp: time.Now(),
		Payload:   conversationID,
	})
}

// snippet renders the one-line inbox preview for a message.
func snippet(m Message) string {
	if m.Kind == KindText {
		return truncate(m.Body, 100)
	}
	label := "[" + string(m.Kind) + "]"
	if m.Attachment != nil && m.Attachment.Filename != "" {
		return label + " " + truncate(m.Attachment.Filename, 60)
	}
	return label
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

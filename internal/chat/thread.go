package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lojinha/chatsync/internal/bus"
	"github.com/lojinha/chatsync/internal/cache"
)

const (
	// messageCacheTTL bounds how long a cached message list seeds a thread
	// without a refetch.
	messageCacheTTL = 5 * time.Minute

	// matchWindow is the maximum clock skew tolerated when matching an
	// optimistic entry to its push-delivered echo.
	matchWindow = 5 * time.Second
)

// threadEntry pairs a message with its insertion sequence number. The
// sequence breaks CreatedAt ties so equal-timestamp messages keep arrival
// order.
type threadEntry struct {
	msg Message
	seq uint64
}

// Thread owns the ordered message sequence for one conversation. The initial
// fetch, locally authored optimistic entries, and push-delivered change events
// all merge into a single render-ready list that is always sorted by
// CreatedAt.
type Thread struct {
	conversationID int64
	viewer         Role
	remote         Remote
	store          cache.Store
	bus            *bus.Bus
	logger         *zap.Logger

	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries []threadEntry
	nextSeq uint64
	stale   bool
}

// NewThread creates the message store for one conversation. It does not load
// anything; call Load before rendering.
func NewThread(conversationID int64, viewer Role, remote Remote, store cache.Store, b *bus.Bus, logger *zap.Logger) *Thread {
	return &Thread{
		conversationID: conversationID,
		viewer:         viewer,
		remote:         remote,
		store:          store,
		bus:            b,
		logger:         logger,
		ttl:            messageCacheTTL,
		now:            time.Now,
	}
}

// ConversationID returns the conversation this thread belongs to.
func (t *Thread) ConversationID() int64 {
	return t.conversationID
}

func (t *Thread) cacheKey() string {
	return fmt.Sprintf("messages:%d", t.conversationID)
}

// Load seeds the thread, reading through the cache and falling back to a
// fetch. A fetch failure leaves any previously loaded sequence visible and
// marks the thread stale.
func (t *Thread) Load(ctx context.Context) error {
	if raw, ok := t.store.Get(t.cacheKey(), t.ttl); ok {
		var msgs []Message
		if err := json.Unmarshal(raw, &msgs); err == nil {
			t.mu.Lock()
			t.setConfirmedLocked(msgs)
			t.stale = false
			t.mu.Unlock()
			return nil
		}
		// Undecodable entry: treat as miss.
		t.store.Remove(t.cacheKey())
	}
	return t.refetch(ctx)
}

// RefreshIfStale refetches from the remote store when the cached sequence is
// older than threshold (or gone). Used after a push-channel reconnect to close
// the gap of events missed while disconnected.
func (t *Thread) RefreshIfStale(ctx context.Context, threshold time.Duration) error {
	if age, ok := t.store.Age(t.cacheKey()); ok && age <= threshold {
		return nil
	}
	return t.refetch(ctx)
}

func (t *Thread) refetch(ctx context.Context) error {
	msgs, err := t.remote.FetchMessages(ctx, t.conversationID)
	if err != nil {
		t.mu.Lock()
		t.stale = true
		t.mu.Unlock()
		return fmt.Errorf("fetch messages for conversation %d: %w", t.conversationID, err)
	}

	t.mu.Lock()
	t.setConfirmedLocked(msgs)
	t.stale = false
	t.writeCacheLocked()
	t.mu.Unlock()
	return nil
}

// setConfirmedLocked replaces the confirmed portion of the sequence with msgs,
// keeping optimistic entries that the fresh list does not already account for.
func (t *Thread) setConfirmedLocked(msgs []Message) {
	pending := make([]threadEntry, 0)
	for _, e := range t.entries {
		if !e.msg.Confirmed {
			pending = append(pending, e)
		}
	}

	t.entries = t.entries[:0]
	for _, m := range msgs {
		m.Confirmed = true
		if m.LocalID == "" {
			m.LocalID = serverLocalID(m.ID)
		}
		t.entries = append(t.entries, threadEntry{msg: m, seq: t.nextSeq})
		t.nextSeq++
	}

	// An optimistic entry whose echo is in the fetched list is already
	// represented; keep only the ones still awaiting confirmation.
	for _, p := range pending {
		if t.findConfirmedMatchLocked(p.msg) < 0 {
			t.entries = append(t.entries, p)
		}
	}
	t.sortLocked()
}

// Messages returns the current sequence, sorted by CreatedAt ascending with
// ties broken by insertion order.
func (t *Thread) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.msg
	}
	return out
}

// Stale reports whether the last refresh attempt failed, leaving the exposed
// sequence possibly behind the remote store.
func (t *Thread) Stale() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stale
}

// CacheAge returns the age of the cached sequence, or false when nothing is
// cached.
func (t *Thread) CacheAge() (time.Duration, bool) {
	return t.store.Age(t.cacheKey())
}

// AppendOptimistic inserts a locally authored message at the tail before any
// network round-trip. The returned message carries the LocalID the caller
// needs to resolve or discard it later.
func (t *Thread) AppendOptimistic(draft Draft) Message {
	m := Message{
		LocalID:        uuid.New().String(),
		ConversationID: t.conversationID,
		Sender:         t.viewer,
		Kind:           draft.Kind,
		Body:           draft.Body,
		Attachment:     draft.Attachment,
		ReplyTo:        draft.ReplyTo,
		CreatedAt:      t.now(),
	}

	t.mu.Lock()
	t.entries = append(t.entries, threadEntry{msg: m, seq: t.nextSeq})
	t.nextSeq++
	t.sortLocked()
	t.mu.Unlock()

	t.publishUpserted(m.LocalID)
	return m
}

// SendText appends an optimistic text message and issues the remote write.
// On failure the optimistic entry is removed and the error returned for the
// UI to surface.
func (t *Thread) SendText(ctx context.Context, body string) (Message, error) {
	return t.send(ctx, Draft{Kind: KindText, Body: body})
}

// SendMedia uploads the attachment, then sends a message referencing it.
func (t *Thread) SendMedia(ctx context.Context, kind Kind, filename string, r io.Reader) (Message, error) {
	up, err := t.remote.UploadAttachment(ctx, filename, r)
	if err != nil {
		return Message{}, fmt.Errorf("upload attachment: %w", err)
	}
	return t.send(ctx, Draft{
		Kind:       kind,
		Attachment: &Attachment{URL: up.URL, Filename: up.Filename},
	})
}

func (t *Thread) send(ctx context.Context, draft Draft) (Message, error) {
	local := t.AppendOptimistic(draft)

	server, err := t.remote.SendMessage(ctx, t.conversationID, draft)
	if err != nil {
		t.FailSend(local.LocalID)
		return Message{}, fmt.Errorf("send message: %w", err)
	}
	t.ResolveSend(local.LocalID, server)
	return server, nil
}

// ResolveSend replaces the optimistic entry matching localID with the
// authoritative server message. If the push echo already reconciled it the
// call updates in place or is a no-op, never a duplicate insert.
func (t *Thread) ResolveSend(localID string, server Message) {
	server.Confirmed = true

	t.mu.Lock()
	if i := t.indexByLocalIDLocked(localID); i >= 0 {
		server.LocalID = localID
		t.entries[i].msg = server
		t.sortLocked()
		t.writeCacheLocked()
		t.mu.Unlock()
		t.publishUpserted(localID)
		return
	}
	if i := t.indexByServerIDLocked(server.ID); i >= 0 {
		server.LocalID = t.entries[i].msg.LocalID
		t.entries[i].msg = server
		t.sortLocked()
		t.writeCacheLocked()
		t.mu.Unlock()
		t.publishUpserted(server.LocalID)
		return
	}
	t.mu.Unlock()
}

// FailSend removes the optimistic entry for a write that was rejected. The
// caller is responsible for notifying the user.
func (t *Thread) FailSend(localID string) {
	t.mu.Lock()
	removed := false
	for i, e := range t.entries {
		if e.msg.LocalID == localID && !e.msg.Confirmed {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			removed = true
			break
		}
	}
	t.mu.Unlock()

	if removed {
		t.bus.Publish(bus.Event{
			Kind:      bus.KindMessageSendFailed,
			Timestamp: time.Now(),
			Payload:   map[string]any{"conversation_id": t.conversationID, "local_id": localID},
		})
	}
}

// ApplyUpdate replaces the fields of an existing confirmed message, keeping
// its render key. Used for read-receipt flips and edits. A miss is ignored:
// the message may belong to a portion of history not loaded here.
func (t *Thread) ApplyUpdate(m Message) {
	t.mu.Lock()
	i := t.indexByServerIDLocked(m.ID)
	if i < 0 {
		t.mu.Unlock()
		return
	}
	m.Confirmed = true
	m.LocalID = t.entries[i].msg.LocalID
	t.entries[i].msg = m
	t.sortLocked()
	t.writeCacheLocked()
	localID := m.LocalID
	t.mu.Unlock()

	t.publishUpserted(localID)
}

func (t *Thread) indexByLocalIDLocked(localID string) int {
	for i, e := range t.entries {
		if e.msg.LocalID == localID {
			return i
		}
	}
	return -1
}

func (t *Thread) indexByServerIDLocked(id int64) int {
	if id == 0 {
		return -1
	}
	for i, e := range t.entries {
		if e.msg.ID == id {
			return i
		}
	}
	return -1
}

func (t *Thread) sortLocked() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		if t.entries[i].msg.CreatedAt.Equal(t.entries[j].msg.CreatedAt) {
			return t.entries[i].seq < t.entries[j].seq
		}
		return t.entries[i].msg.CreatedAt.Before(t.entries[j].msg.CreatedAt)
	})
}

// writeCacheLocked persists the confirmed portion of the sequence. Best
// effort: optimistic entries are never cached.
func (t *Thread) writeCacheLocked() {
	confirmed := make([]Message, 0, len(t.entries))
	for _, e := range t.entries {
		if e.msg.Confirmed {
			confirmed = append(confirmed, e.msg)
		}
	}
	raw, err := json.Marshal(confirmed)
	if err != nil {
		t.logger.Debug("marshal message cache", zap.Error(err))
		return
	}
	t.store.Set(t.cacheKey(), raw)
}

func (t *Thread) publishUpserted(localID string) {
	t.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpserted,
		Timestamp: time.Now(),
		Payload:   map[string]any{"conversation_id": t.conversationID, "local_id": localID},
	})
}

func serverLocalID(id int64) string {
	return fmt.Sprintf("srv-%d", id)
}

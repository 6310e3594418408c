package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lojinha/chatsync/internal/bus"
	"github.com/lojinha/chatsync/internal/cache"
	"github.com/lojinha/chatsync/internal/chat"
	"github.com/lojinha/chatsync/internal/push"
)

// Engine is the UI-facing facade over the sync machinery. It owns the inbox,
// the per-conversation threads currently open, and their push subscriptions.
type Engine struct {
	viewer  chat.Role
	remote  chat.Remote
	store   cache.Store
	bus     *bus.Bus
	manager *push.Manager
	logger  *zap.Logger

	inbox     *chat.Inbox
	globalSub *push.Subscription

	mu      sync.Mutex
	threads map[int64]*openThread
}

type openThread struct {
	thread *chat.Thread
	sub    *push.Subscription
}

// NewEngine wires the facade. Start must be called before threads are opened.
func NewEngine(viewer chat.Role, remote chat.Remote, store cache.Store, b *bus.Bus, manager *push.Manager, logger *zap.Logger) *Engine {
	return &Engine{
		viewer:  viewer,
		remote:  remote,
		store:   store,
		bus:     b,
		manager: manager,
		logger:  logger,
		inbox:   chat.NewInbox(viewer, remote, store, b, logger),
		threads: make(map[int64]*openThread),
	}
}

// Start opens the global subscription feeding the inbox and populates it.
// An inbox load failure is not fatal: pushes still flow and the next Load
// retries.
func (e *Engine) Start(ctx context.Context) {
	e.globalSub = e.manager.OpenGlobal(e.inbox)
	if err := e.inbox.Load(ctx); err != nil {
		e.logger.Warn("initial inbox load failed", zap.Error(err))
	}
}

// Stop closes every open subscription. Threads stay cached; a later OpenThread
// starts warm.
func (e *Engine) Stop() {
	if e.globalSub != nil {
		e.globalSub.Close()
	}
	e.mu.Lock()
	for id, ot := range e.threads {
		ot.sub.Close()
		delete(e.threads, id)
	}
	e.mu.Unlock()
}

// Inbox returns the aggregate conversation list.
func (e *Engine) Inbox() *chat.Inbox {
	return e.inbox
}

// OpenThread returns the message store for a conversation, creating and
// loading it on first open. A load failure is returned alongside the thread:
// the caller renders whatever stale sequence exists and surfaces the error.
func (e *Engine) OpenThread(ctx context.Context, conversationID int64) (*chat.Thread, error) {
	e.mu.Lock()
	if ot, ok := e.threads[conversationID]; ok {
		e.mu.Unlock()
		return ot.thread, nil
	}
	t := chat.NewThread(conversationID, e.viewer, e.remote, e.store, e.bus, e.logger)
	sub := e.manager.OpenConversation(conversationID, t)
	e.threads[conversationID] = &openThread{thread: t, sub: sub}
	e.mu.Unlock()

	if err := t.Load(ctx); err != nil {
		return t, fmt.Errorf("open thread %d: %w", conversationID, err)
	}
	return t, nil
}

// CloseThread unsubscribes a conversation's push listener. The cached
// sequence is kept for the next open. Closing an unopened thread is a no-op.
func (e *Engine) CloseThread(conversationID int64) {
	e.mu.Lock()
	ot, ok := e.threads[conversationID]
	if ok {
		delete(e.threads, conversationID)
	}
	e.mu.Unlock()

	if ok {
		ot.sub.Close()
	}
}

// MarkRead zeroes the conversation's unread counter immediately and pushes
// the read state to the backend.
func (e *Engine) MarkRead(ctx context.Context, conversationID int64) {
	e.inbox.MarkRead(ctx, conversationID)
}

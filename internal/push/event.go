// Package push owns the push-channel lifecycle: the websocket transport, the
// subscription manager, and validation of incoming change events.
package push

import (
	"encoding/json"
	"fmt"

	"github.com/lojinha/chatsync/internal/chat"
)

// Op discriminates the change-event union.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

// ChangeEvent is one remote-store row change delivered over the push channel.
// The transport contract is at-least-once and ordered per scope; consumers
// must tolerate duplicates.
type ChangeEvent struct {
	Op      Op           `json:"op"`
	Message chat.Message `json:"message"`
}

// ParseEvent decodes and validates a raw push frame. Payloads are validated
// here, at the transport boundary, and trusted from this point inward.
func ParseEvent(raw []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if ev.Op != OpInsert && ev.Op != OpUpdate {
		return ChangeEvent{}, fmt.Errorf("unknown change op %q", ev.Op)
	}
	m := ev.Message
	if m.ID == 0 {
		return ChangeEvent{}, fmt.Errorf("change event missing message id")
	}
	if m.ConversationID == 0 {
		return ChangeEvent{}, fmt.Errorf("change event missing conversation id")
	}
	if !m.Sender.Valid() {
		return ChangeEvent{}, fmt.Errorf("change event has unknown sender role %q", m.Sender)
	}
	if !m.Kind.Valid() {
		return ChangeEvent{}, fmt.Errorf("change event has unknown message kind %q", m.Kind)
	}
	if m.CreatedAt.IsZero() {
		return ChangeEvent{}, fmt.Errorf("change event missing created_at")
	}
	return ev, nil
}

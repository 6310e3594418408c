package bus

import "time"

// Event kinds published by the sync engine. Subscribers filter by
// namespace prefix ("chat.", "push.", "read.").
const (
	KindMessageUpserted     = "chat.message.upserted"
	KindMessageSendFailed   = "chat.message.send_failed"
	KindConversationUpdated = "chat.conversation.updated"
	KindPushConnected       = "push.connected"
	KindPushDisconnected    = "push.disconnected"
	KindPushReconnected     = "push.reconnected"
	KindPushStatusChanged   = "push.status_changed"
	KindReadMarked          = "read.marked"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

package bus

import "time"

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by namespace prefix, so "conn." matches
// every connection event and "" matches everything.
const (
	// conn.* — push-channel lifecycle.
	ConnStateChanged     = "conn.state_changed"
	ConnUp               = "conn.up"
	ConnDown             = "conn.down"
	ConnRetriesExhausted = "conn.retries_exhausted"
	ConnTransientError   = "conn.transient_error"

	// chats.* — chat-list reconciliation results.
	ChatsChanged = "chats.changed"
	ChatsResync  = "chats.resync"

	// messages.* — open-conversation buffer changes.
	MessagesChanged  = "messages.changed"
	MessagesAppended = "messages.appended"

	// selection.* — open-conversation switches.
	SelectionChanged = "selection.changed"
)

// ConnInfo is the payload for ConnUp and ConnDown.
type ConnInfo struct {
	Generation uint64
	Reason     string
}

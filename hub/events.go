package hub

import "time"

// Event types pushed to table session subscribers.
const (
	EventConnectionAck      = "connection_ack"
	EventKeepAlive          = "keep_alive"
	EventNewOrder           = "new_order"
	EventOrderUpdated       = "order_updated"
	EventOrderStatusChanged = "order_status_changed"
	EventParticipantJoined  = "participant_joined"
	EventSessionClosed      = "session_closed"
	EventPaymentUpdated     = "payment_updated"
)

// Message is the envelope written to a subscriber.
type Message struct {
	Event          string      `json:"event"`
	TableSessionID uint        `json:"table_session_id"`
	Data           interface{} `json:"data,omitempty"`
	SentAt         time.Time   `json:"sent_at"`
}

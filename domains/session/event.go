package session

type EventType string

const (
	EventQR           EventType = "qr"
	EventReady        EventType = "ready"
	EventDisconnected EventType = "disconnected"
	EventAuthFailure  EventType = "auth_failure"
	EventError        EventType = "error"
	EventStopped      EventType = "stopped"
	EventDestroyed    EventType = "destroyed"
	EventMessage      EventType = "message"
	EventSent         EventType = "sent"
)

// Event is the discriminated record published on the supervisor bus. The
// platform client's loosely typed callbacks are validated into this shape at
// the boundary; downstream code only ever sees Event.
type Event struct {
	Type      EventType `json:"type"`
	Ts        int64     `json:"ts"`
	AccountID string    `json:"accountId"`
	SessionID string    `json:"sessionId"`
	WaID      string    `json:"waId,omitempty"`

	QR      string          `json:"qr,omitempty"`
	Self    string          `json:"self,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Err     string          `json:"err,omitempty"`
	Message *MessagePayload `json:"message,omitempty"`
}

// MessagePayload carries `message` and `sent` event bodies. WaTimestamp is
// whatever unit the platform reported; downstream normalizes to ms.
type MessagePayload struct {
	ID           string `json:"id"`
	ChatID       string `json:"chatId"`
	FromMe       bool   `json:"fromMe"`
	Body         string `json:"body"`
	MessageType  string `json:"messageType"`
	HasMedia     bool   `json:"hasMedia"`
	WaTimestamp  int64  `json:"waTimestamp"`
	MediaURLPath string `json:"mediaUrlPath,omitempty"`
}

package turn

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusSending   Status = "sending"
	StatusDelivered Status = "delivered"
	StatusSkipped   Status = "skipped"
	StatusError     Status = "error"
)

type ItemType string

const (
	ItemText  ItemType = "text"
	ItemVoice ItemType = "voice"
)

// Item es un elemento ordenado dentro de la ventana. Text y los campos de
// voz son mutuamente excluyentes según Type.
type Item struct {
	Ts          int64    `firestore:"ts" json:"ts"`
	Type        ItemType `firestore:"type" json:"type"`
	Text        string   `firestore:"text,omitempty" json:"text,omitempty"`
	GcsURI      string   `firestore:"gcsUri,omitempty" json:"gcsUri,omitempty"`
	ContentType string   `firestore:"contentType,omitempty" json:"contentType,omitempty"`
	Filename    string   `firestore:"filename,omitempty" json:"filename,omitempty"`
}

type Meta struct {
	AccountID string `firestore:"accountId" json:"accountId"`
	Label     string `firestore:"label" json:"label"`
	ChatID    string `firestore:"chatId" json:"chatId"`
	WindowID  string `firestore:"windowId" json:"windowId"`
}

// Hints guides the external worker: modality of the last inbound item, an
// explicit modality request found in the text, and a language guess.
type Hints struct {
	LastInbound string `firestore:"lastInbound" json:"lastInbound"`
	Explicit    string `firestore:"explicit,omitempty" json:"explicit,omitempty"`
	Lang        string `firestore:"lang,omitempty" json:"lang,omitempty"`
}

type Audio struct {
	URL string `firestore:"url" json:"url"`
}

// Response is written by the external worker when it flips the turn to ready.
type Response struct {
	Modality string `firestore:"modality" json:"modality"`
	Text     string `firestore:"text,omitempty" json:"text,omitempty"`
	Audio    *Audio `firestore:"audio,omitempty" json:"audio,omitempty"`
}

type ErrorInfo struct {
	Stage  string `firestore:"stage" json:"stage"`
	Detail string `firestore:"detail,omitempty" json:"detail,omitempty"`
}

// Turn is the durable window document. Once WaMessageID is set the turn is
// terminal; status only advances pending→ready→sending→{delivered,skipped,error}.
type Turn struct {
	Status      Status     `firestore:"status" json:"status"`
	OpenedAt    int64      `firestore:"openedAt" json:"openedAt"`
	ClosedAt    int64      `firestore:"closedAt" json:"closedAt"`
	Meta        Meta       `firestore:"meta" json:"meta"`
	Hints       Hints      `firestore:"hints" json:"hints"`
	Items       []Item     `firestore:"items" json:"items"`
	Response    *Response  `firestore:"response" json:"response"`
	ClaimedAt   int64      `firestore:"claimedAt,omitempty" json:"claimedAt,omitempty"`
	DeliveredAt int64      `firestore:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`
	SkippedAt   int64      `firestore:"skippedAt,omitempty" json:"skippedAt,omitempty"`
	SkipReason  string     `firestore:"skipReason,omitempty" json:"skipReason,omitempty"`
	WaMessageID string     `firestore:"waMessageId,omitempty" json:"waMessageId,omitempty"`
	Error       *ErrorInfo `firestore:"error" json:"error"`
}

// WindowID construye el identificador único de la ventana.
func WindowID(accountID, label, chatID string, openedAt int64) string {
	return fmt.Sprintf("%s.%s.%s.%d", accountID, label, chatID, openedAt)
}

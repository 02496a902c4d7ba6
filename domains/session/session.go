package session

import (
	"context"
	"fmt"
)

// Key identifica una sesión dentro de una cuenta.
type Key struct {
	AccountID string
	Label     string
}

func NewKey(accountID, label string) Key {
	return Key{AccountID: accountID, Label: label}
}

// String produce la clave de disco `accountId__label`.
func (k Key) String() string {
	return fmt.Sprintf("%s__%s", k.AccountID, k.Label)
}

type Status string

const (
	StatusStarting     Status = "starting"
	StatusScanning     Status = "scanning"
	StatusReady        Status = "ready"
	StatusDisconnected Status = "disconnected"
	StatusAuthFailure  Status = "auth_failure"
	StatusError        Status = "error"
	StatusStopped      Status = "stopped"
)

// RunningSession is the in-memory snapshot returned by ListRunning.
type RunningSession struct {
	AccountID string `json:"accountId"`
	Label     string `json:"label"`
	Status    Status `json:"status"`
	WaID      string `json:"waId,omitempty"`
	HasQR     bool   `json:"hasQr"`
}

// Media describes outbound media. Exactly one of Data, URL or LocalPath
// must be set.
type Media struct {
	Data      []byte
	Mimetype  string
	URL       string
	LocalPath string
	Filename  string
	VoiceNote bool
}

// DownloadedMedia is served from the media cache for recent inbound media.
type DownloadedMedia struct {
	Mimetype string `json:"mimetype"`
	Filename string `json:"filename,omitempty"`
	DataB64  string `json:"dataB64"`
}

// ISupervisor is the lifecycle and send surface over the platform clients.
type ISupervisor interface {
	Init(ctx context.Context, accountID, label string) (Status, error)
	Stop(ctx context.Context, accountID, label string) error
	Destroy(ctx context.Context, accountID, label string) error
	Status(accountID, label string) Status
	QR(accountID, label string) string
	ListRunning(accountID string) []RunningSession
	RestoreAllFromFs(ctx context.Context) (int, error)
	SendText(ctx context.Context, accountID, label, to, text string) (string, error)
	SendMedia(ctx context.Context, accountID, label, to string, media Media, caption string) (string, error)
	DownloadMessageMedia(ctx context.Context, accountID, label, messageID string) (*DownloadedMedia, error)
	Subscribe() (<-chan Event, func())
}

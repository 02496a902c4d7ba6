package policy

import "context"

type Mode string

const (
	ModeAll       Mode = "all"
	ModeAllowlist Mode = "allowlist"
	ModeBlocklist Mode = "blocklist"
)

// View is the per-session bot configuration with defaults applied
// (enabled=true, receiveFromBots=false, mode=all).
type View struct {
	Enabled         bool
	ReceiveFromBots bool
	Mode            Mode
	Allowlist       []string
	Blocklist       []string
	SelfWaID        string
}

// ChatView overrides the session view per chat. BotEnabled nil means inherit.
type ChatView struct {
	BotEnabled        *bool
	PreferredModality string
}

// ProcessRequest is the inbound gate input.
type ProcessRequest struct {
	AccountID  string
	Label      string
	ChatID     string
	SenderWaID string
}

// ICache is the read-through policy view used by the buffer and the outbox.
type ICache interface {
	AllowProcess(ctx context.Context, req ProcessRequest) bool
	AllowSend(ctx context.Context, accountID, label, chatID string) bool
}

// Reader is the store-side of the cache. Implemented over the document
// store; faked in tests.
type Reader interface {
	SessionView(ctx context.Context, accountID, label string) (View, error)
	ChatView(ctx context.Context, accountID, label, chatID string) (ChatView, error)
	SelfIDs(ctx context.Context, accountID string) ([]string, error)
}

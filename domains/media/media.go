package media

import "context"

// VoiceSaveRequest identifica el audio entrante a persistir.
type VoiceSaveRequest struct {
	AccountID     string
	Label         string
	ChatID        string
	MessageID     string
	WaTimestampMs int64
}

// VoiceObject is the durable location of an uploaded voice note.
type VoiceObject struct {
	GcsURI      string
	ContentType string
	Filename    string
	Bytes       int64
}

// BlobStore persists inbound voice media so turns can reference it by URI.
type BlobStore interface {
	SaveInboundVoice(ctx context.Context, req VoiceSaveRequest) (*VoiceObject, error)
}

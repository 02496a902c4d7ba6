package config

import (
	"os"
	"strconv"
	"strings"

	"go.mau.fi/whatsmeow/proto/waCompanionReg"
)

var (
	AppVersion        = "v1.3.0"
	AppPort           = "3000"
	AppDebug          = false
	AppOs             = "Calmecac"
	AppPlatform       = waCompanionReg.DeviceProps_PlatformType(1)
	AppTrustedProxies []string

	PathStorages = "storages"
	PathSessions = "storages/sessions"

	WhatsappLogLevel = "ERROR"

	// Firestore / Firebase
	GcpProjectID        string
	GcpCredentialsFile  string
	GcpCredentialsJSON  string
	MediaBucket         string

	// Bot pipeline timings (ms unless noted)
	BotDebounceMs     = 30_000
	BotHardCapMs      = 0 // 0 = sin tope global
	BufferGcIdleMs    = 30 * 60 * 1000
	PolicyCacheTtlMs  = 60_000
	MediaCacheTtlMs   = 15 * 60 * 1000
	FallbackReplyText = "Mensaje listo."

	// Frases que cierran la ventana de inmediato y pistas de modalidad.
	FinalizerWords = []string{"gracias", "eso es todo", "listo", "es todo"}
	VoicePhrases   = []string{"mándame audio", "mandame audio", "por audio", "nota de voz", "con tu voz"}
	TextPhrases    = []string{"por texto", "escríbeme", "escribeme", "por escrito"}

	// Websocket live stream
	WsMaxConnections = 2000
	WsHeartbeatSec   = 30
	WsSendBufferSize = 256

	// Message worker pool
	MessageWorkerPoolSize  = 20
	MessageWorkerQueueSize = 1000
)

func init() {
	if v := strings.TrimSpace(os.Getenv("GCP_PROJECT_ID")); v != "" {
		GcpProjectID = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); v != "" {
		GcpCredentialsFile = v
	}
	if v := strings.TrimSpace(os.Getenv("GCP_CREDENTIALS_JSON")); v != "" {
		GcpCredentialsJSON = v
	}
	if v := strings.TrimSpace(os.Getenv("MEDIA_BUCKET")); v != "" {
		MediaBucket = v
	}
	if v := strings.TrimSpace(os.Getenv("BOT_DEBOUNCE_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			BotDebounceMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("BOT_HARD_CAP_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			BotHardCapMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("BOT_FINALIZER_WORDS")); v != "" {
		FinalizerWords = splitTrimmed(v)
	}
	if v := strings.TrimSpace(os.Getenv("BOT_VOICE_PHRASES")); v != "" {
		VoicePhrases = splitTrimmed(v)
	}
	if v := strings.TrimSpace(os.Getenv("BOT_TEXT_PHRASES")); v != "" {
		TextPhrases = splitTrimmed(v)
	}
	if val := os.Getenv("MESSAGE_WORKER_POOL_SIZE"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			MessageWorkerPoolSize = parsed
		}
	}
	if val := os.Getenv("MESSAGE_WORKER_QUEUE_SIZE"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			MessageWorkerQueueSize = parsed
		}
	}
}

func splitTrimmed(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

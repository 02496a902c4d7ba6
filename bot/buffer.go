package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/calmecac/wabridge/domains/media"
	"github.com/calmecac/wabridge/domains/policy"
	"github.com/calmecac/wabridge/domains/session"
	"github.com/calmecac/wabridge/domains/turn"
	"github.com/calmecac/wabridge/pkg/utils"
	"github.com/sirupsen/logrus"
)

// TurnWriter persiste una ventana recién cerrada como turno pending.
type TurnWriter interface {
	WritePending(ctx context.Context, t *turn.Turn) error
}

// BufferConfig agrupa los tiempos y frases del pipeline de entrada.
type BufferConfig struct {
	DebounceMs     int
	HardCapMs      int
	GcIdleMs       int
	FinalizerWords []string
	VoicePhrases   []string
	TextPhrases    []string
}

type chatBuffer struct {
	accountID string
	label     string
	chatID    string
	items     []turn.Item
	timer     *time.Timer
	openedAt  int64
	lastAt    int64
}

// BufferManager agrega mensajes entrantes por chat y los cierra en una sola
// ventana tras el silencio de debounce (o de inmediato con un finalizador).
// Es el único dueño del mapa de buffers; policy, media y store se consultan
// sin retener el lock.
type BufferManager struct {
	policy policy.ICache
	blobs  media.BlobStore
	writer TurnWriter
	cfg    BufferConfig

	mu      sync.Mutex
	buffers map[string]*chatBuffer

	now func() time.Time
}

func NewBufferManager(pol policy.ICache, blobs media.BlobStore, writer TurnWriter, cfg BufferConfig) *BufferManager {
	if cfg.DebounceMs <= 0 {
		cfg.DebounceMs = 30_000
	}
	if cfg.GcIdleMs <= 0 {
		cfg.GcIdleMs = 30 * 60 * 1000
	}
	return &BufferManager{
		policy:  pol,
		blobs:   blobs,
		writer:  writer,
		cfg:     cfg,
		buffers: make(map[string]*chatBuffer),
		now:     time.Now,
	}
}

func bufferKey(accountID, label, chatID string) string {
	return accountID + "|" + label + "|" + chatID
}

var voiceMessageTypes = map[string]struct{}{
	"ptt":   {},
	"audio": {},
	"voice": {},
}

// Push procesa un evento message entrante. Eventos fromMe o sin contenido
// se descartan sin crear buffer.
func (m *BufferManager) Push(ctx context.Context, evt session.Event) {
	if evt.Type != session.EventMessage || evt.Message == nil || evt.Message.FromMe {
		return
	}
	msg := evt.Message

	allowed := m.policy.AllowProcess(ctx, policy.ProcessRequest{
		AccountID:  evt.AccountID,
		Label:      evt.SessionID,
		ChatID:     msg.ChatID,
		SenderWaID: msg.ChatID,
	})
	if !allowed {
		logrus.Debugf("[BUFFER] Policy denied inbound for %s/%s %s", evt.AccountID, evt.SessionID, msg.ChatID)
		return
	}

	ts := utils.CoerceTimestampMs(msg.WaTimestamp, m.now().UnixMilli())

	var items []turn.Item

	_, isVoice := voiceMessageTypes[msg.MessageType]
	if isVoice && msg.HasMedia && m.blobs != nil {
		obj, err := m.blobs.SaveInboundVoice(ctx, media.VoiceSaveRequest{
			AccountID:     evt.AccountID,
			Label:         evt.SessionID,
			ChatID:        msg.ChatID,
			MessageID:     msg.ID,
			WaTimestampMs: ts,
		})
		if err != nil {
			// La nota de voz se pierde pero el turno sigue su curso.
			logrus.WithError(err).Warnf("[BUFFER] Voice persist failed for %s/%s msg %s", evt.AccountID, evt.SessionID, msg.ID)
		} else {
			items = append(items, turn.Item{
				Ts:          ts,
				Type:        turn.ItemVoice,
				GcsURI:      obj.GcsURI,
				ContentType: obj.ContentType,
				Filename:    obj.Filename,
			})
		}
	}

	if strings.TrimSpace(msg.Body) != "" {
		items = append(items, turn.Item{Ts: ts, Type: turn.ItemText, Text: msg.Body})
	}

	if len(items) == 0 {
		return
	}

	m.append(evt.AccountID, evt.SessionID, msg.ChatID, ts, items, msg.Body)
}

// append toma el lock una sola vez: get-or-create, append y re-armado del
// timer son atómicos respecto a flush y GC.
func (m *BufferManager) append(accountID, label, chatID string, ts int64, items []turn.Item, body string) {
	key := bufferKey(accountID, label, chatID)

	m.mu.Lock()
	defer m.mu.Unlock()

	buf := m.buffers[key]
	if buf == nil {
		buf = &chatBuffer{accountID: accountID, label: label, chatID: chatID, openedAt: ts}
		m.buffers[key] = buf
	}
	if buf.openedAt == 0 {
		buf.openedAt = ts
	}
	buf.items = append(buf.items, items...)
	buf.lastAt = ts

	if buf.timer != nil {
		buf.timer.Stop()
	}

	delay := time.Duration(m.cfg.DebounceMs) * time.Millisecond
	if m.isFinalizer(body) {
		delay = 0
	} else if m.cfg.HardCapMs > 0 {
		elapsed := m.now().UnixMilli() - buf.openedAt
		if remaining := time.Duration(int64(m.cfg.HardCapMs)-elapsed) * time.Millisecond; remaining < delay {
			delay = remaining
			if delay < 0 {
				delay = 0
			}
		}
	}

	buf.timer = time.AfterFunc(delay, func() { m.flush(key) })
}

func (m *BufferManager) isFinalizer(body string) bool {
	lowered := strings.ToLower(body)
	if strings.TrimSpace(lowered) == "" {
		return false
	}
	for _, w := range m.cfg.FinalizerWords {
		if w == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// flush retira el buffer del mapa ANTES de escribir: un push concurrente
// abre una ventana nueva con su propio openedAt.
func (m *BufferManager) flush(key string) {
	m.mu.Lock()
	buf := m.buffers[key]
	delete(m.buffers, key)
	m.mu.Unlock()

	if buf == nil || len(buf.items) == 0 {
		return
	}

	t := AssembleTurn(buf.items, buf.accountID, buf.label, buf.chatID, AssembleConfig{
		VoicePhrases: m.cfg.VoicePhrases,
		TextPhrases:  m.cfg.TextPhrases,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := m.writer.WritePending(ctx, &t); err != nil {
		// Pérdida aceptada: los items de la ventana se descartan en lugar
		// de retener estado que bloquearía ventanas nuevas.
		logrus.WithError(err).Errorf("[BUFFER] Turn write failed for %s; window dropped", t.Meta.WindowID)
		return
	}
	logrus.Infof("[BUFFER] Turn %s pending with %d item(s)", t.Meta.WindowID, len(t.Items))
}

// DropSession descarta los buffers de una sesión y cancela sus flushes.
func (m *BufferManager) DropSession(accountID, label string) {
	prefix := accountID + "|" + label + "|"

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, buf := range m.buffers {
		if strings.HasPrefix(key, prefix) {
			if buf.timer != nil {
				buf.timer.Stop()
			}
			delete(m.buffers, key)
		}
	}
}

// StartGC barre cada interval los buffers ociosos (lastAt más viejo que
// gcIdleMs).
func (m *BufferManager) StartGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.gcSweep()
			}
		}
	}()
}

func (m *BufferManager) gcSweep() {
	cutoff := m.now().UnixMilli() - int64(m.cfg.GcIdleMs)

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, buf := range m.buffers {
		if buf.lastAt < cutoff {
			if buf.timer != nil {
				buf.timer.Stop()
			}
			delete(m.buffers, key)
			logrus.Debugf("[BUFFER] GC dropped idle buffer %s", key)
		}
	}
}

func (m *BufferManager) lenBuffers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers)
}

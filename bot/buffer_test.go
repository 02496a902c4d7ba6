package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/calmecac/wabridge/domains/media"
	"github.com/calmecac/wabridge/domains/policy"
	"github.com/calmecac/wabridge/domains/session"
	"github.com/calmecac/wabridge/domains/turn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAllPolicy struct{ deny bool }

func (a allowAllPolicy) AllowProcess(ctx context.Context, req policy.ProcessRequest) bool {
	return !a.deny
}

func (a allowAllPolicy) AllowSend(ctx context.Context, accountID, label, chatID string) bool {
	return !a.deny
}

type fakeBlobStore struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeBlobStore) SaveInboundVoice(ctx context.Context, req media.VoiceSaveRequest) (*media.VoiceObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &media.VoiceObject{
		GcsURI:      "gs://bucket/wa/" + req.AccountID + "/" + req.MessageID + ".ogg",
		ContentType: "audio/ogg",
		Filename:    req.MessageID + ".ogg",
	}, nil
}

type fakeTurnWriter struct {
	mu     sync.Mutex
	turns  []turn.Turn
	err    error
	signal chan struct{}
}

func newFakeTurnWriter() *fakeTurnWriter {
	return &fakeTurnWriter{signal: make(chan struct{}, 16)}
}

func (f *fakeTurnWriter) WritePending(ctx context.Context, t *turn.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.turns = append(f.turns, *t)
	f.signal <- struct{}{}
	return nil
}

func (f *fakeTurnWriter) written() []turn.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]turn.Turn, len(f.turns))
	copy(out, f.turns)
	return out
}

func waitSignal(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal("timeout esperando la escritura del turno")
	}
}

func textEvent(chatID, body string, ts int64) session.Event {
	return session.Event{
		Type:      session.EventMessage,
		AccountID: "acct",
		SessionID: "ventas",
		Message: &session.MessagePayload{
			ID:          "msg-" + body,
			ChatID:      chatID,
			Body:        body,
			MessageType: "chat",
			WaTimestamp: ts,
		},
	}
}

func testBufferCfg(debounceMs int) BufferConfig {
	return BufferConfig{
		DebounceMs:     debounceMs,
		GcIdleMs:       30 * 60 * 1000,
		FinalizerWords: []string{"gracias", "eso es todo"},
	}
}

// Dos mensajes dentro del debounce terminan en una sola ventana.
func TestBuffer_DebounceCoalescesMessages(t *testing.T) {
	writer := newFakeTurnWriter()
	m := NewBufferManager(allowAllPolicy{}, nil, writer, testBufferCfg(60))

	m.Push(context.Background(), textEvent("123@c.us", "hola", 1_700_000_000_000))
	m.Push(context.Background(), textEvent("123@c.us", "quiero una pizza grande", 1_700_000_001_000))

	waitSignal(t, writer.signal, time.Second)

	turns := writer.written()
	require.Len(t, turns, 1)
	assert.Equal(t, int64(1_700_000_000_000), turns[0].OpenedAt)
	assert.Equal(t, int64(1_700_000_001_000), turns[0].ClosedAt)
	assert.Equal(t, 0, m.lenBuffers(), "El buffer debe retirarse tras el flush")
}

// Un finalizador dispara el flush sin esperar el debounce.
func TestBuffer_FinalizerFlushesImmediately(t *testing.T) {
	writer := newFakeTurnWriter()
	m := NewBufferManager(allowAllPolicy{}, nil, writer, testBufferCfg(10_000))

	m.Push(context.Background(), textEvent("123@c.us", "quiero dos tacos", 1_700_000_000_000))
	m.Push(context.Background(), textEvent("123@c.us", "gracias", 1_700_000_001_000))

	waitSignal(t, writer.signal, time.Second)
	require.Len(t, writer.written(), 1)
}

// Chats distintos abren ventanas independientes.
func TestBuffer_IndependentWindowsPerChat(t *testing.T) {
	writer := newFakeTurnWriter()
	m := NewBufferManager(allowAllPolicy{}, nil, writer, testBufferCfg(40))

	m.Push(context.Background(), textEvent("111@c.us", "hola", 1000))
	m.Push(context.Background(), textEvent("222@c.us", "buenas", 2000))

	waitSignal(t, writer.signal, time.Second)
	waitSignal(t, writer.signal, time.Second)

	turns := writer.written()
	require.Len(t, turns, 2)
	chats := map[string]bool{}
	for _, tr := range turns {
		chats[tr.Meta.ChatID] = true
	}
	assert.True(t, chats["111@c.us"])
	assert.True(t, chats["222@c.us"])
}

// Política denegada: no se crea buffer ni se escribe nada.
func TestBuffer_PolicyDeniedDropsMessage(t *testing.T) {
	writer := newFakeTurnWriter()
	m := NewBufferManager(allowAllPolicy{deny: true}, nil, writer, testBufferCfg(20))

	m.Push(context.Background(), textEvent("123@c.us", "hola", 1000))

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, writer.written())
	assert.Equal(t, 0, m.lenBuffers())
}

// Eventos fromMe y cuerpos vacíos se ignoran.
func TestBuffer_IgnoresFromMeAndEmptyBody(t *testing.T) {
	writer := newFakeTurnWriter()
	m := NewBufferManager(allowAllPolicy{}, nil, writer, testBufferCfg(20))

	own := textEvent("123@c.us", "nota propia", 1000)
	own.Message.FromMe = true
	m.Push(context.Background(), own)

	m.Push(context.Background(), textEvent("123@c.us", "   ", 2000))

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, writer.written())
	assert.Equal(t, 0, m.lenBuffers())
}

// Nota de voz: se persiste el blob y el item trae la URI.
func TestBuffer_VoiceNotePersisted(t *testing.T) {
	writer := newFakeTurnWriter()
	blobs := &fakeBlobStore{}
	m := NewBufferManager(allowAllPolicy{}, blobs, writer, testBufferCfg(30))

	evt := session.Event{
		Type:      session.EventMessage,
		AccountID: "acct",
		SessionID: "ventas",
		Message: &session.MessagePayload{
			ID:          "voice-1",
			ChatID:      "123@c.us",
			MessageType: "ptt",
			HasMedia:    true,
			WaTimestamp: 1_700_000_000,
		},
	}
	m.Push(context.Background(), evt)

	waitSignal(t, writer.signal, time.Second)

	turns := writer.written()
	require.Len(t, turns, 1)
	require.Len(t, turns[0].Items, 1)
	assert.Equal(t, turn.ItemVoice, turns[0].Items[0].Type)
	assert.Contains(t, turns[0].Items[0].GcsURI, "voice-1")
	assert.Equal(t, "voice", turns[0].Hints.LastInbound)
}

// Si el blob falla, la nota de voz se pierde pero un texto que la acompaña
// sigue su curso.
func TestBuffer_VoicePersistFailureKeepsText(t *testing.T) {
	writer := newFakeTurnWriter()
	blobs := &fakeBlobStore{err: errors.New("bucket unavailable")}
	m := NewBufferManager(allowAllPolicy{}, blobs, writer, testBufferCfg(30))

	evt := session.Event{
		Type:      session.EventMessage,
		AccountID: "acct",
		SessionID: "ventas",
		Message: &session.MessagePayload{
			ID:          "voice-2",
			ChatID:      "123@c.us",
			Body:        "te mando un audio",
			MessageType: "ptt",
			HasMedia:    true,
			WaTimestamp: 1_700_000_000,
		},
	}
	m.Push(context.Background(), evt)

	waitSignal(t, writer.signal, time.Second)

	turns := writer.written()
	require.Len(t, turns, 1)
	require.Len(t, turns[0].Items, 1)
	assert.Equal(t, turn.ItemText, turns[0].Items[0].Type)
}

// Timestamps en segundos se convierten a milisegundos antes de abrir la
// ventana.
func TestBuffer_CoercesSecondTimestamps(t *testing.T) {
	writer := newFakeTurnWriter()
	m := NewBufferManager(allowAllPolicy{}, nil, writer, testBufferCfg(30))

	m.Push(context.Background(), textEvent("123@c.us", "hola desde segundos", 1_700_000_000))

	waitSignal(t, writer.signal, time.Second)

	turns := writer.written()
	require.Len(t, turns, 1)
	assert.Equal(t, int64(1_700_000_000_000), turns[0].OpenedAt)
}

// DropSession cancela los timers y descarta lo acumulado.
func TestBuffer_DropSessionDiscardsBuffers(t *testing.T) {
	writer := newFakeTurnWriter()
	m := NewBufferManager(allowAllPolicy{}, nil, writer, testBufferCfg(50))

	m.Push(context.Background(), textEvent("111@c.us", "hola", 1000))
	m.Push(context.Background(), textEvent("222@c.us", "buenas", 2000))
	require.Equal(t, 2, m.lenBuffers())

	m.DropSession("acct", "ventas")
	assert.Equal(t, 0, m.lenBuffers())

	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, writer.written(), "Buffers descartados no deben producir turnos")
}

// El tope duro cierra la ventana aunque sigan llegando mensajes.
func TestBuffer_HardCapOverridesDebounce(t *testing.T) {
	writer := newFakeTurnWriter()
	cfg := testBufferCfg(10_000)
	cfg.HardCapMs = 50
	m := NewBufferManager(allowAllPolicy{}, nil, writer, cfg)

	base := time.Now().UnixMilli()
	m.Push(context.Background(), textEvent("123@c.us", "uno dos tres cuatro", base))

	waitSignal(t, writer.signal, time.Second)
	require.Len(t, writer.written(), 1)
}

// El GC barre buffers cuyo último mensaje quedó atrás del umbral.
func TestBuffer_GcSweepsIdleBuffers(t *testing.T) {
	writer := newFakeTurnWriter()
	cfg := testBufferCfg(60_000)
	cfg.GcIdleMs = 1000
	m := NewBufferManager(allowAllPolicy{}, nil, writer, cfg)

	old := time.Now().UnixMilli() - 10_000
	m.Push(context.Background(), textEvent("123@c.us", "mensaje viejo", old))
	require.Equal(t, 1, m.lenBuffers())

	m.gcSweep()
	assert.Equal(t, 0, m.lenBuffers())
}

package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/calmecac/wabridge/domains/session"
	"github.com/calmecac/wabridge/domains/turn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTurnStore struct {
	mu        sync.Mutex
	ch        chan ReadyTurn
	watchErr  error
	turns     map[string]*turn.Turn
	claims    map[string]int
	delivered map[string]string
	skipped   map[string]string
	errored   map[string]string
	marked    chan struct{}
}

func newFakeTurnStore() *fakeTurnStore {
	return &fakeTurnStore{
		ch:        make(chan ReadyTurn, 16),
		turns:     make(map[string]*turn.Turn),
		claims:    make(map[string]int),
		delivered: make(map[string]string),
		skipped:   make(map[string]string),
		errored:   make(map[string]string),
		marked:    make(chan struct{}, 16),
	}
}

func (f *fakeTurnStore) WatchReady(ctx context.Context, accountID, label string) (<-chan ReadyTurn, func(), error) {
	if f.watchErr != nil {
		return nil, nil, f.watchErr
	}
	return f.ch, func() {}, nil
}

func (f *fakeTurnStore) Claim(ctx context.Context, path string) (*turn.Turn, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims[path]++
	t, ok := f.turns[path]
	if !ok || t.Status != turn.StatusReady {
		return nil, false, nil
	}
	t.Status = turn.StatusSending
	copied := *t
	return &copied, true, nil
}

func (f *fakeTurnStore) MarkDelivered(ctx context.Context, path, waMessageID string) error {
	f.mu.Lock()
	f.delivered[path] = waMessageID
	f.mu.Unlock()
	f.marked <- struct{}{}
	return nil
}

func (f *fakeTurnStore) MarkSkipped(ctx context.Context, path, reason string) error {
	f.mu.Lock()
	f.skipped[path] = reason
	f.mu.Unlock()
	f.marked <- struct{}{}
	return nil
}

func (f *fakeTurnStore) MarkError(ctx context.Context, path, stage, detail string) error {
	f.mu.Lock()
	f.errored[path] = stage
	f.mu.Unlock()
	f.marked <- struct{}{}
	return nil
}

func (f *fakeTurnStore) seed(path string, t turn.Turn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns[path] = &t
}

type fakeSender struct {
	mu        sync.Mutex
	textErr   error
	mediaErr  error
	texts     []string
	medias    []session.Media
	captions  []string
	nextWaID  string
	textCalls int
}

func (f *fakeSender) SendText(ctx context.Context, accountID, label, to, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textCalls++
	if f.textErr != nil {
		return "", f.textErr
	}
	f.texts = append(f.texts, text)
	return f.nextWaID, nil
}

func (f *fakeSender) SendMedia(ctx context.Context, accountID, label, to string, m session.Media, caption string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mediaErr != nil {
		return "", f.mediaErr
	}
	f.medias = append(f.medias, m)
	f.captions = append(f.captions, caption)
	return f.nextWaID, nil
}

func readyTurnFixture(path string) turn.Turn {
	return turn.Turn{
		Status:   turn.StatusReady,
		OpenedAt: 1000,
		ClosedAt: 2000,
		Meta: turn.Meta{
			AccountID: "acct",
			Label:     "ventas",
			ChatID:    "123@c.us",
			WindowID:  "acct.ventas.123@c.us.1000",
		},
		Response: &turn.Response{Modality: "text", Text: "Tu pedido va en camino."},
	}
}

func waitMarked(t *testing.T, store *fakeTurnStore) {
	t.Helper()
	select {
	case <-store.marked:
	case <-time.After(time.Second):
		t.Fatal("timeout esperando la marca del turno")
	}
}

func TestOutbox_DeliversTextResponse(t *testing.T) {
	store := newFakeTurnStore()
	sender := &fakeSender{nextWaID: "wa-msg-1"}
	ob := NewOutboxWatcher(store, sender, allowAllPolicy{}, OutboxConfig{FallbackText: "Mensaje listo."})

	path := "accounts/acct/sessions/ventas/threads/123@c.us/turns/w1"
	store.seed(path, readyTurnFixture(path))

	ob.StartFor(context.Background(), "acct", "ventas")
	defer ob.StopAll()

	store.ch <- ReadyTurn{Path: path, Turn: *store.turns[path]}
	waitMarked(t, store)

	assert.Equal(t, "wa-msg-1", store.delivered[path])
	require.Len(t, sender.texts, 1)
	assert.Equal(t, "Tu pedido va en camino.", sender.texts[0])
}

// El claim es de una sola vez: la segunda notificación del mismo turno no
// vuelve a enviar.
func TestOutbox_ClaimIsAtMostOnce(t *testing.T) {
	store := newFakeTurnStore()
	sender := &fakeSender{nextWaID: "wa-msg-1"}
	ob := NewOutboxWatcher(store, sender, allowAllPolicy{}, OutboxConfig{FallbackText: "Mensaje listo."})

	path := "accounts/acct/sessions/ventas/threads/123@c.us/turns/w1"
	fixture := readyTurnFixture(path)
	store.seed(path, fixture)

	ob.StartFor(context.Background(), "acct", "ventas")
	defer ob.StopAll()

	store.ch <- ReadyTurn{Path: path, Turn: fixture}
	waitMarked(t, store)
	store.ch <- ReadyTurn{Path: path, Turn: fixture}

	time.Sleep(100 * time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, 1, sender.textCalls, "Un turno reclamado no debe reenviarse")
}

// Respuesta de voz: se envía el audio como nota de voz con el texto de
// caption.
func TestOutbox_DeliversVoiceResponse(t *testing.T) {
	store := newFakeTurnStore()
	sender := &fakeSender{nextWaID: "wa-voice-1"}
	ob := NewOutboxWatcher(store, sender, allowAllPolicy{}, OutboxConfig{FallbackText: "Mensaje listo."})

	path := "accounts/acct/sessions/ventas/threads/123@c.us/turns/w2"
	fixture := readyTurnFixture(path)
	fixture.Response = &turn.Response{
		Modality: "voice",
		Text:     "Tu pedido va en camino.",
		Audio:    &turn.Audio{URL: "https://storage.example/wa/out.ogg"},
	}
	store.seed(path, fixture)

	ob.StartFor(context.Background(), "acct", "ventas")
	defer ob.StopAll()

	store.ch <- ReadyTurn{Path: path, Turn: fixture}
	waitMarked(t, store)

	assert.Equal(t, "wa-voice-1", store.delivered[path])
	require.Len(t, sender.medias, 1)
	assert.True(t, sender.medias[0].VoiceNote)
	assert.Equal(t, "https://storage.example/wa/out.ogg", sender.medias[0].URL)
	require.Len(t, sender.captions, 1)
	assert.Equal(t, "Tu pedido va en camino.", sender.captions[0])
}

// Si el envío de voz falla el turno queda en error terminal; nunca se
// reintenta como texto aunque el worker haya dejado texto.
func TestOutbox_VoiceFailureMarksErrorWithoutTextRetry(t *testing.T) {
	store := newFakeTurnStore()
	sender := &fakeSender{nextWaID: "wa-msg-2", mediaErr: errors.New("media upload rejected")}
	ob := NewOutboxWatcher(store, sender, allowAllPolicy{}, OutboxConfig{FallbackText: "Mensaje listo."})

	path := "accounts/acct/sessions/ventas/threads/123@c.us/turns/w3"
	fixture := readyTurnFixture(path)
	fixture.Response = &turn.Response{
		Modality: "voice",
		Text:     "Aquí está tu resumen.",
		Audio:    &turn.Audio{URL: "https://storage.example/wa/out.ogg"},
	}
	store.seed(path, fixture)

	ob.StartFor(context.Background(), "acct", "ventas")
	defer ob.StopAll()

	store.ch <- ReadyTurn{Path: path, Turn: fixture}
	waitMarked(t, store)

	assert.Equal(t, "send", store.errored[path])
	assert.Empty(t, store.delivered)
	assert.Empty(t, sender.texts, "La falla de voz no debe degradar a texto")
}

// Sin texto del worker se envía el texto de respaldo.
func TestOutbox_FallbackTextWhenResponseEmpty(t *testing.T) {
	store := newFakeTurnStore()
	sender := &fakeSender{nextWaID: "wa-msg-3"}
	ob := NewOutboxWatcher(store, sender, allowAllPolicy{}, OutboxConfig{FallbackText: "Mensaje listo."})

	path := "accounts/acct/sessions/ventas/threads/123@c.us/turns/w4"
	fixture := readyTurnFixture(path)
	fixture.Response = nil
	store.seed(path, fixture)

	ob.StartFor(context.Background(), "acct", "ventas")
	defer ob.StopAll()

	store.ch <- ReadyTurn{Path: path, Turn: fixture}
	waitMarked(t, store)

	require.Len(t, sender.texts, 1)
	assert.Equal(t, "Mensaje listo.", sender.texts[0])
}

// Política de envío denegada: el turno queda skipped, nunca se envía.
func TestOutbox_PolicyDeniedSkips(t *testing.T) {
	store := newFakeTurnStore()
	sender := &fakeSender{nextWaID: "wa-msg-4"}
	ob := NewOutboxWatcher(store, sender, allowAllPolicy{deny: true}, OutboxConfig{FallbackText: "Mensaje listo."})

	path := "accounts/acct/sessions/ventas/threads/123@c.us/turns/w5"
	store.seed(path, readyTurnFixture(path))

	ob.StartFor(context.Background(), "acct", "ventas")
	defer ob.StopAll()

	store.ch <- ReadyTurn{Path: path, Turn: *store.turns[path]}
	waitMarked(t, store)

	assert.Equal(t, "policy", store.skipped[path])
	assert.Empty(t, sender.texts)
}

// Error de envío después del claim: error terminal, sin reintento.
func TestOutbox_SendFailureMarksError(t *testing.T) {
	store := newFakeTurnStore()
	sender := &fakeSender{textErr: errors.New("session not ready")}
	ob := NewOutboxWatcher(store, sender, allowAllPolicy{}, OutboxConfig{FallbackText: "Mensaje listo."})

	path := "accounts/acct/sessions/ventas/threads/123@c.us/turns/w6"
	store.seed(path, readyTurnFixture(path))

	ob.StartFor(context.Background(), "acct", "ventas")
	defer ob.StopAll()

	store.ch <- ReadyTurn{Path: path, Turn: *store.turns[path]}
	waitMarked(t, store)

	assert.Equal(t, "send", store.errored[path])
	assert.Empty(t, store.delivered)
}

// Meta que no corresponde a la sesión vigilada se marca error en validate.
func TestOutbox_MetaMismatchMarksError(t *testing.T) {
	store := newFakeTurnStore()
	sender := &fakeSender{nextWaID: "wa-msg-5"}
	ob := NewOutboxWatcher(store, sender, allowAllPolicy{}, OutboxConfig{FallbackText: "Mensaje listo."})

	path := "accounts/acct/sessions/ventas/threads/123@c.us/turns/w7"
	fixture := readyTurnFixture(path)
	fixture.Meta.Label = "soporte"
	store.seed(path, fixture)

	ob.StartFor(context.Background(), "acct", "ventas")
	defer ob.StopAll()

	store.ch <- ReadyTurn{Path: path, Turn: fixture}
	waitMarked(t, store)

	assert.Equal(t, "validate", store.errored[path])
	assert.Empty(t, sender.texts)
}

// Los eventos de sesión abren y cierran el watch.
func TestOutbox_LifecycleFollowsSessionEvents(t *testing.T) {
	store := newFakeTurnStore()
	sender := &fakeSender{nextWaID: "wa-msg-6"}
	ob := NewOutboxWatcher(store, sender, allowAllPolicy{}, OutboxConfig{FallbackText: "Mensaje listo."})

	ob.HandleEvent(context.Background(), session.Event{
		Type: session.EventReady, AccountID: "acct", SessionID: "ventas",
	})

	ob.mu.Lock()
	assert.Len(t, ob.watches, 1)
	ob.mu.Unlock()

	ob.HandleEvent(context.Background(), session.Event{
		Type: session.EventStopped, AccountID: "acct", SessionID: "ventas",
	})

	ob.mu.Lock()
	assert.Empty(t, ob.watches)
	ob.mu.Unlock()
}

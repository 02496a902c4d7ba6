package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/calmecac/wabridge/domains/policy"
	"github.com/calmecac/wabridge/domains/session"
	"github.com/calmecac/wabridge/domains/turn"
	"github.com/sirupsen/logrus"
)

// ReadyTurn es lo que emite el watch del store: la ruta del documento y el
// snapshot que disparó la notificación.
type ReadyTurn struct {
	Path string
	Turn turn.Turn
}

// TurnStore es la cara del documento de turnos que usa el outbox. Claim es
// transaccional: devuelve claimed=false cuando otro proceso ganó la carrera.
type TurnStore interface {
	WatchReady(ctx context.Context, accountID, label string) (<-chan ReadyTurn, func(), error)
	Claim(ctx context.Context, path string) (*turn.Turn, bool, error)
	MarkDelivered(ctx context.Context, path, waMessageID string) error
	MarkSkipped(ctx context.Context, path, reason string) error
	MarkError(ctx context.Context, path, stage, detail string) error
}

// Sender es el subconjunto de envío del supervisor de sesiones.
type Sender interface {
	SendText(ctx context.Context, accountID, label, to, text string) (string, error)
	SendMedia(ctx context.Context, accountID, label, to string, media session.Media, caption string) (string, error)
}

// OutboxConfig fija el texto de respaldo cuando el worker no dejó texto.
type OutboxConfig struct {
	FallbackText string
	SendTimeout  time.Duration
}

type sessionWatch struct {
	cancel context.CancelFunc
}

// OutboxWatcher mantiene un watch por sesión ready y despacha los turnos que
// el worker externo marcó ready. Un turno se reclama una sola vez; si el
// envío falla después del claim, queda en error y no se reintenta.
type OutboxWatcher struct {
	store  TurnStore
	sender Sender
	policy policy.ICache
	cfg    OutboxConfig

	mu      sync.Mutex
	watches map[string]*sessionWatch

	now func() time.Time
}

func NewOutboxWatcher(store TurnStore, sender Sender, pol policy.ICache, cfg OutboxConfig) *OutboxWatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &OutboxWatcher{
		store:   store,
		sender:  sender,
		policy:  pol,
		cfg:     cfg,
		watches: make(map[string]*sessionWatch),
		now:     time.Now,
	}
}

// HandleEvent acopla el ciclo de vida de los watches al de las sesiones:
// ready abre (o reabre) el watch, los eventos terminales lo cierran.
func (o *OutboxWatcher) HandleEvent(ctx context.Context, evt session.Event) {
	switch evt.Type {
	case session.EventReady:
		o.StartFor(ctx, evt.AccountID, evt.SessionID)
	case session.EventStopped, session.EventDestroyed, session.EventAuthFailure, session.EventDisconnected:
		o.StopFor(evt.AccountID, evt.SessionID)
	}
}

// StartFor abre el watch de una sesión si no existe ya.
func (o *OutboxWatcher) StartFor(ctx context.Context, accountID, label string) {
	key := accountID + "|" + label

	o.mu.Lock()
	if _, ok := o.watches[key]; ok {
		o.mu.Unlock()
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	o.watches[key] = &sessionWatch{cancel: cancel}
	o.mu.Unlock()

	ch, stop, err := o.store.WatchReady(watchCtx, accountID, label)
	if err != nil {
		cancel()
		o.mu.Lock()
		delete(o.watches, key)
		o.mu.Unlock()
		// El próximo evento ready de la sesión reintenta el watch.
		logrus.WithError(err).Errorf("[OUTBOX] Watch start failed for %s/%s", accountID, label)
		return
	}

	logrus.Infof("[OUTBOX] Watching ready turns for %s/%s", accountID, label)

	go func() {
		defer stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case rt, ok := <-ch:
				if !ok {
					o.mu.Lock()
					delete(o.watches, key)
					o.mu.Unlock()
					logrus.Warnf("[OUTBOX] Watch stream closed for %s/%s", accountID, label)
					return
				}
				o.process(watchCtx, accountID, label, rt)
			}
		}
	}()
}

// StopFor cierra el watch de una sesión. Idempotente.
func (o *OutboxWatcher) StopFor(accountID, label string) {
	key := accountID + "|" + label

	o.mu.Lock()
	w := o.watches[key]
	delete(o.watches, key)
	o.mu.Unlock()

	if w != nil {
		w.cancel()
		logrus.Infof("[OUTBOX] Watch stopped for %s/%s", accountID, label)
	}
}

// StopAll cierra todos los watches. Para shutdown.
func (o *OutboxWatcher) StopAll() {
	o.mu.Lock()
	watches := o.watches
	o.watches = make(map[string]*sessionWatch)
	o.mu.Unlock()

	for _, w := range watches {
		w.cancel()
	}
}

// process corre el pipeline claim → validar → policy → enviar → marcar.
func (o *OutboxWatcher) process(ctx context.Context, accountID, label string, rt ReadyTurn) {
	claimed, ok, err := o.store.Claim(ctx, rt.Path)
	if err != nil {
		logrus.WithError(err).Errorf("[OUTBOX] Claim failed for %s", rt.Path)
		return
	}
	if !ok {
		// Otro proceso lo tomó o ya no está ready; nada que hacer.
		logrus.Debugf("[OUTBOX] Turn %s already claimed", rt.Path)
		return
	}

	meta := claimed.Meta
	if meta.AccountID != accountID || meta.Label != label || meta.ChatID == "" {
		o.mark(ctx, rt.Path, func(c context.Context) error {
			return o.store.MarkError(c, rt.Path, "validate", "turn meta does not match the watched session")
		})
		return
	}

	if !o.policy.AllowSend(ctx, meta.AccountID, meta.Label, meta.ChatID) {
		o.mark(ctx, rt.Path, func(c context.Context) error {
			return o.store.MarkSkipped(c, rt.Path, "policy")
		})
		logrus.Infof("[OUTBOX] Turn %s skipped by policy", meta.WindowID)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, o.cfg.SendTimeout)
	defer cancel()

	waMessageID, err := o.dispatch(sendCtx, claimed)
	if err != nil {
		o.mark(ctx, rt.Path, func(c context.Context) error {
			return o.store.MarkError(c, rt.Path, "send", err.Error())
		})
		logrus.WithError(err).Errorf("[OUTBOX] Send failed for turn %s", meta.WindowID)
		return
	}

	o.mark(ctx, rt.Path, func(c context.Context) error {
		return o.store.MarkDelivered(c, rt.Path, waMessageID)
	})
	logrus.Infof("[OUTBOX] Turn %s delivered as %s", meta.WindowID, waMessageID)
}

// dispatch resuelve la modalidad de la respuesta. Respuesta de voz sin URL
// degrada a texto; texto vacío usa el respaldo configurado.
func (o *OutboxWatcher) dispatch(ctx context.Context, t *turn.Turn) (string, error) {
	meta := t.Meta

	var resp turn.Response
	if t.Response != nil {
		resp = *t.Response
	}

	if resp.Modality == "voice" && resp.Audio != nil && resp.Audio.URL != "" {
		// La nota de voz lleva el texto como caption. Si el envío falla el
		// turno queda en error terminal, nunca se reintenta como texto.
		return o.sender.SendMedia(ctx, meta.AccountID, meta.Label, meta.ChatID, session.Media{
			URL:       resp.Audio.URL,
			Mimetype:  "audio/ogg; codecs=opus",
			VoiceNote: true,
		}, strings.TrimSpace(resp.Text))
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		text = o.cfg.FallbackText
	}
	return o.sender.SendText(ctx, meta.AccountID, meta.Label, meta.ChatID, text)
}

func (o *OutboxWatcher) mark(ctx context.Context, path string, fn func(context.Context) error) {
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := fn(markCtx); err != nil {
		logrus.WithError(err).Errorf("[OUTBOX] Status update failed for %s", path)
	}
}

package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/calmecac/wabridge/config"
	"github.com/calmecac/wabridge/domains/session"
	"github.com/calmecac/wabridge/pkg/apperror"
	"github.com/calmecac/wabridge/pkg/mediacache"
)

// managedSession es un cliente whatsmeow vivo con su contenedor sqlite
// propio. El mutex cubre status/qr/waID; el cliente tiene su propio locking.
type managedSession struct {
	key       session.Key
	dir       string
	container *sqlstore.Container
	client    *whatsmeow.Client

	mu       sync.Mutex
	status   session.Status
	qr       string
	waID     string
	qrCancel context.CancelFunc
}

func (m *managedSession) setStatus(st session.Status) {
	m.mu.Lock()
	m.status = st
	m.mu.Unlock()
}

func (m *managedSession) getStatus() session.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Supervisor administra un cliente por (accountId, label) y publica los
// eventos normalizados en un bus interno. Implementa session.ISupervisor.
type Supervisor struct {
	mu       sync.Mutex
	sessions map[string]*managedSession

	subsMu sync.Mutex
	subs   map[int]chan session.Event
	nextID int

	mediaCache *mediacache.Cache
	pathBase   string
}

var _ session.ISupervisor = (*Supervisor)(nil)

func NewSupervisor(mediaCache *mediacache.Cache) *Supervisor {
	return &Supervisor{
		sessions:   make(map[string]*managedSession),
		subs:       make(map[int]chan session.Event),
		mediaCache: mediaCache,
		pathBase:   config.PathSessions,
	}
}

// MediaCache expone la cache para el blob store.
func (s *Supervisor) MediaCache() *mediacache.Cache {
	return s.mediaCache
}

// Subscribe entrega un canal propio del bus. El canal es acotado: un
// suscriptor lento pierde eventos, nunca frena al supervisor.
func (s *Supervisor) Subscribe() (<-chan session.Event, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan session.Event, 256)
	s.subs[id] = ch

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Supervisor) publish(evt session.Event) {
	if evt.Ts == 0 {
		evt.Ts = time.Now().UnixMilli()
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			logrus.Warnf("[SUPERVISOR] Subscriber %d is full; dropping %s event", id, evt.Type)
		}
	}
}

func validateKey(accountID, label string) error {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(label) == "" {
		return apperror.ValidationError("accountId and label: cannot be blank.")
	}
	if strings.Contains(accountID, "__") || strings.Contains(label, "__") {
		return apperror.ValidationError("accountId and label: cannot contain '__'.")
	}
	for _, field := range []string{accountID, label} {
		if strings.ContainsAny(field, "/\\ \t") {
			return apperror.ValidationError("accountId and label: cannot contain separators or spaces.")
		}
	}
	return nil
}

func (s *Supervisor) sessionDir(key session.Key) string {
	return filepath.Join(s.pathBase, "session-"+key.String())
}

// Init arranca (o reusa) la sesión. Idempotente: una sesión ya corriendo
// devuelve su estado actual sin crear un segundo cliente.
func (s *Supervisor) Init(ctx context.Context, accountID, label string) (session.Status, error) {
	if err := validateKey(accountID, label); err != nil {
		return "", err
	}
	key := session.NewKey(accountID, label)

	s.mu.Lock()
	if existing, ok := s.sessions[key.String()]; ok {
		s.mu.Unlock()
		if existing.client != nil && !existing.client.IsConnected() {
			if err := existing.client.Connect(); err != nil {
				return existing.getStatus(), apperror.InternalServerError(fmt.Sprintf("reconnect failed: %v", err))
			}
		}
		return existing.getStatus(), nil
	}
	// Reservar el slot antes de soltar el lock: dos Init concurrentes de la
	// misma sesión no deben abrir dos contenedores.
	placeholder := &managedSession{key: key, status: session.StatusStarting}
	s.sessions[key.String()] = placeholder
	s.mu.Unlock()

	managed, err := s.startSession(ctx, key)
	if err != nil {
		s.mu.Lock()
		delete(s.sessions, key.String())
		s.mu.Unlock()
		return "", err
	}

	s.mu.Lock()
	s.sessions[key.String()] = managed
	s.mu.Unlock()
	return managed.getStatus(), nil
}

func (s *Supervisor) startSession(ctx context.Context, key session.Key) (*managedSession, error) {
	dir := s.sessionDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperror.InternalServerError(fmt.Sprintf("creating session dir: %v", err))
	}

	dbURI := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(dir, "whatsapp.db"))
	dbLog := waLog.Stdout("DB-"+key.Label, config.WhatsappLogLevel, true)

	container, err := sqlstore.New(ctx, "sqlite3", dbURI, dbLog)
	if err != nil {
		return nil, apperror.InternalServerError(fmt.Sprintf("opening session store: %v", err))
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, apperror.InternalServerError(fmt.Sprintf("loading device: %v", err))
	}
	if device == nil {
		device = container.NewDevice()
	}

	osName := config.AppOs
	store.DeviceProps.PlatformType = &config.AppPlatform
	store.DeviceProps.Os = &osName

	client := whatsmeow.NewClient(device, waLog.Stdout("Client-"+key.Label, config.WhatsappLogLevel, true))
	client.EnableAutoReconnect = true
	client.AutoTrustIdentity = true

	managed := &managedSession{
		key:       key,
		dir:       dir,
		container: container,
		client:    client,
		status:    session.StatusStarting,
	}
	client.AddEventHandler(func(rawEvt interface{}) { s.handleEvent(managed, rawEvt) })

	needsLogin := client.Store.ID == nil
	if needsLogin {
		qrCtx, cancel := context.WithCancel(context.Background())
		managed.qrCancel = cancel
		qrChan, err := client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			_ = container.Close()
			return nil, apperror.InternalServerError(fmt.Sprintf("opening qr channel: %v", err))
		}
		go s.consumeQR(managed, qrChan)
	}

	if err := client.Connect(); err != nil {
		if managed.qrCancel != nil {
			managed.qrCancel()
		}
		_ = container.Close()
		return nil, apperror.InternalServerError(fmt.Sprintf("connecting: %v", err))
	}

	logrus.Infof("[SUPERVISOR] Session %s started (needs login: %v)", key, needsLogin)
	return managed, nil
}

func (s *Supervisor) consumeQR(m *managedSession, qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			m.mu.Lock()
			m.qr = item.Code
			m.status = session.StatusScanning
			m.mu.Unlock()
			s.publish(session.Event{
				Type:      session.EventQR,
				AccountID: m.key.AccountID,
				SessionID: m.key.Label,
				QR:        item.Code,
			})
		case "success":
			m.mu.Lock()
			m.qr = ""
			m.mu.Unlock()
		case "timeout":
			m.setStatus(session.StatusAuthFailure)
			s.publish(session.Event{
				Type:      session.EventAuthFailure,
				AccountID: m.key.AccountID,
				SessionID: m.key.Label,
				Reason:    "qr_timeout",
			})
			m.client.Disconnect()
			return
		default:
			logrus.Warnf("[SUPERVISOR] QR stream for %s reported %s", m.key, item.Event)
		}
	}
}

// Stop desconecta sin borrar credenciales: un Init posterior reconecta sin
// escanear de nuevo.
func (s *Supervisor) Stop(ctx context.Context, accountID, label string) error {
	key := session.NewKey(accountID, label)

	s.mu.Lock()
	managed, ok := s.sessions[key.String()]
	delete(s.sessions, key.String())
	s.mu.Unlock()

	if !ok {
		return apperror.NotFoundError(fmt.Sprintf("session %s is not running", key))
	}

	s.teardown(managed)
	managed.setStatus(session.StatusStopped)
	s.mediaCache.DropSession(accountID, label)
	s.publish(session.Event{
		Type:      session.EventStopped,
		AccountID: accountID,
		SessionID: label,
	})
	logrus.Infof("[SUPERVISOR] Session %s stopped", key)
	return nil
}

// Destroy cierra sesión en la plataforma y borra el directorio de
// credenciales. Irreversible.
func (s *Supervisor) Destroy(ctx context.Context, accountID, label string) error {
	key := session.NewKey(accountID, label)

	s.mu.Lock()
	managed, ok := s.sessions[key.String()]
	delete(s.sessions, key.String())
	s.mu.Unlock()

	dir := s.sessionDir(key)
	if ok {
		if managed.client != nil {
			if err := managed.client.Logout(ctx); err != nil {
				logrus.Warnf("[SUPERVISOR] Platform logout for %s failed: %v", key, err)
			}
		}
		s.teardown(managed)
	}

	if err := os.RemoveAll(dir); err != nil {
		return apperror.InternalServerError(fmt.Sprintf("removing session dir: %v", err))
	}

	s.mediaCache.DropSession(accountID, label)
	s.publish(session.Event{
		Type:      session.EventDestroyed,
		AccountID: accountID,
		SessionID: label,
	})
	logrus.Infof("[SUPERVISOR] Session %s destroyed", key)
	return nil
}

func (s *Supervisor) teardown(m *managedSession) {
	if m.qrCancel != nil {
		m.qrCancel()
	}
	if m.client != nil {
		m.client.Disconnect()
	}
	if m.container != nil {
		_ = m.container.Close()
	}
}

// StopAll desconecta todas las sesiones. Para shutdown del proceso; no
// publica eventos stopped porque el pipeline ya está bajándose.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*managedSession)
	s.mu.Unlock()

	for _, m := range sessions {
		s.teardown(m)
	}
	logrus.Infof("[SUPERVISOR] %d session(s) disconnected", len(sessions))
}

func (s *Supervisor) get(accountID, label string) *managedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[session.NewKey(accountID, label).String()]
}

func (s *Supervisor) Status(accountID, label string) session.Status {
	if m := s.get(accountID, label); m != nil {
		return m.getStatus()
	}
	return session.StatusStopped
}

// QR devuelve el código vigente, vacío si la sesión no está en scanning.
func (s *Supervisor) QR(accountID, label string) string {
	if m := s.get(accountID, label); m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.qr
	}
	return ""
}

// ListRunning enumera las sesiones vivas de una cuenta; accountID vacío
// lista todas.
func (s *Supervisor) ListRunning(accountID string) []session.RunningSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]session.RunningSession, 0, len(s.sessions))
	for _, m := range s.sessions {
		if accountID != "" && m.key.AccountID != accountID {
			continue
		}
		m.mu.Lock()
		out = append(out, session.RunningSession{
			AccountID: m.key.AccountID,
			Label:     m.key.Label,
			Status:    m.status,
			WaID:      m.waID,
			HasQR:     m.qr != "",
		})
		m.mu.Unlock()
	}
	return out
}

// RestoreAllFromFs levanta las sesiones cuyo directorio de credenciales
// sigue en disco. Corre al boot.
func (s *Supervisor) RestoreAllFromFs(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.pathBase)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("supervisor: reading sessions dir: %w", err)
	}

	restored := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		accountID, label, ok := parseSessionDir(entry.Name())
		if !ok {
			continue
		}
		if _, err := s.Init(ctx, accountID, label); err != nil {
			logrus.WithError(err).Warnf("[SUPERVISOR] Could not restore session %s__%s", accountID, label)
			continue
		}
		restored++
	}
	logrus.Infof("[SUPERVISOR] Restored %d session(s) from disk", restored)
	return restored, nil
}

// parseSessionDir descompone `session-{accountId}__{label}`.
func parseSessionDir(name string) (string, string, bool) {
	rest, ok := strings.CutPrefix(name, "session-")
	if !ok {
		return "", "", false
	}
	accountID, label, ok := strings.Cut(rest, "__")
	if !ok || accountID == "" || label == "" {
		return "", "", false
	}
	return accountID, label, true
}

package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/calmecac/wabridge/domains/access"
	"github.com/calmecac/wabridge/domains/session"
	"github.com/calmecac/wabridge/infrastructure/identity"
)

const (
	// Cierres propios de la aplicación, fuera del rango reservado RFC 6455.
	closeUnauthorized = 4401
	closeForbidden    = 4403
	closeOverloaded   = 4429
)

// HubConfig acota el hub: conexiones totales, buffer de salida por conexión
// y cadencia del heartbeat.
type HubConfig struct {
	MaxConnections int
	SendBufferSize int
	Heartbeat      time.Duration
}

type wsClient struct {
	id        string
	conn      *websocket.Conn
	accountID string
	uid       string

	mu      sync.Mutex
	view    access.View
	filters Filters

	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// enqueue nunca bloquea: un cliente que no drena pierde eventos pero
// conserva la conexión.
func (c *wsClient) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	default:
		logrus.Debugf("[WS] Dropping event for slow client %s/%s", c.accountID, c.uid)
	}
}

func (c *wsClient) snapshot() (access.View, Filters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view, c.filters
}

// Hub reparte los eventos del supervisor a las consolas conectadas,
// recortados por cuenta, ACL vivo y filtros del cliente.
type Hub struct {
	verifier identity.Verifier
	resolver access.Resolver
	cfg      HubConfig

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func NewHub(verifier identity.Verifier, resolver access.Resolver, cfg HubConfig) *Hub {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 2000
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	return &Hub{
		verifier: verifier,
		resolver: resolver,
		cfg:      cfg,
		clients:  make(map[*wsClient]struct{}),
	}
}

// Run consume el bus del supervisor y reparte. Corre en su propia goroutine.
func (h *Hub) Run(ctx context.Context, events <-chan session.Event, unsubscribe func()) {
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case evt, ok := <-events:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(evt)
		}
	}
}

// broadcast reparte el evento del supervisor tal cual, serializado como
// JSON; el campo type del propio evento lo discrimina en el cliente.
func (h *Hub) broadcast(evt session.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		logrus.WithError(err).Error("[WS] Event marshal failed")
		return
	}

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if c.accountID != evt.AccountID {
			continue
		}
		view, filters := c.snapshot()
		if !view.AllowsLabel(evt.SessionID) {
			continue
		}
		if !filters.Match(evt) {
			continue
		}
		c.enqueue(payload)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
	}
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= h.cfg.MaxConnections {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// RegisterRoutes monta el endpoint de stream en /ws.
func (h *Hub) RegisterRoutes(app fiber.Router) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws", websocket.New(h.handle))
}

type controlMessage struct {
	Type    string  `json:"type"`
	Filters Filters `json:"filters"`
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

func (h *Hub) handle(conn *websocket.Conn) {
	accountID := conn.Query("accountId")
	token := conn.Query("token")
	if accountID == "" || token == "" {
		writeClose(conn, closeUnauthorized, "accountId and token are required")
		return
	}

	authCtx, cancelAuth := context.WithTimeout(context.Background(), 10*time.Second)
	uid, err := h.verifier.Verify(authCtx, token)
	if err != nil {
		cancelAuth()
		writeClose(conn, closeUnauthorized, "invalid token")
		return
	}

	view, err := h.resolver.Resolve(authCtx, accountID, uid)
	cancelAuth()
	if err != nil {
		writeClose(conn, closeForbidden, "access lookup failed")
		return
	}
	if view.Empty() {
		writeClose(conn, closeForbidden, "no session access")
		return
	}

	client := &wsClient{
		id:        uuid.NewString(),
		conn:      conn,
		accountID: accountID,
		uid:       uid,
		view:      view,
		send:      make(chan []byte, h.cfg.SendBufferSize),
		done:      make(chan struct{}),
	}
	if !h.register(client) {
		writeClose(conn, closeOverloaded, "too many connections")
		return
	}
	defer func() {
		h.unregister(client)
		client.close()
		_ = conn.Close()
	}()

	logrus.Infof("[WS] Client %s connected to account %s as %s (%s)", client.id, accountID, uid, view.Role)

	hello, _ := json.Marshal(fiber.Map{
		"type":         "hello",
		"connectionId": client.id,
		"accountId":    accountID,
		"role":         view.Role,
		"sessions":     view.Labels,
	})
	client.enqueue(hello)

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	go h.followACL(watchCtx, client)
	go h.writer(client)

	h.reader(client)
}

// followACL mantiene la vista de permisos al día. Quedarse sin acceso
// cierra la conexión con 4403.
func (h *Hub) followACL(ctx context.Context, c *wsClient) {
	updates, stop, err := h.resolver.Watch(ctx, c.accountID, c.uid)
	if err != nil {
		logrus.WithError(err).Warnf("[WS] ACL watch failed for %s; keeping initial view", c.uid)
		return
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case view, ok := <-updates:
			if !ok {
				return
			}
			c.mu.Lock()
			c.view = view
			c.mu.Unlock()

			if view.Empty() {
				logrus.Infof("[WS] Access revoked for %s in %s; closing", c.uid, c.accountID)
				writeClose(c.conn, closeForbidden, "access revoked")
				c.close()
				return
			}
			update, _ := json.Marshal(fiber.Map{"type": "acl_update", "role": view.Role, "sessions": view.Labels})
			c.enqueue(update)
		}
	}
}

// writer es el único que escribe al socket: eventos encolados y pings.
func (h *Hub) writer(c *wsClient) {
	ticker := time.NewTicker(h.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// reader procesa los mensajes de control del cliente hasta que el socket
// muere. El pong refresca el deadline de lectura.
func (h *Hub) reader(c *wsClient) {
	deadline := h.cfg.Heartbeat * 2
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.close()
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))

		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type != "subscribe" {
			continue
		}

		filters := msg.Filters.normalized()
		c.mu.Lock()
		c.filters = filters
		c.mu.Unlock()

		ack, _ := json.Marshal(fiber.Map{"type": "subscribed", "sessions": filters.Sessions, "filters": filters})
		c.enqueue(ack)
	}
}

package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/calmecac/wabridge/domains/session"
	"github.com/calmecac/wabridge/pkg/mediacache"
)

func TestParseSessionDir(t *testing.T) {
	cases := []struct {
		name      string
		accountID string
		label     string
		ok        bool
	}{
		{"session-acct__ventas", "acct", "ventas", true},
		{"session-acme-mx__soporte-2", "acme-mx", "soporte-2", true},
		{"session-sinlabel", "", "", false},
		{"otracosa-acct__ventas", "", "", false},
		{"session-__ventas", "", "", false},
	}

	for _, c := range cases {
		accountID, label, ok := parseSessionDir(c.name)
		assert.Equal(t, c.ok, ok, c.name)
		if c.ok {
			assert.Equal(t, c.accountID, accountID)
			assert.Equal(t, c.label, label)
		}
	}
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, validateKey("acct", "ventas"))
	assert.Error(t, validateKey("", "ventas"))
	assert.Error(t, validateKey("acct", " "))
	// '__' es el separador de disco, no puede aparecer en los ids
	assert.Error(t, validateKey("ac__ct", "ventas"))
	assert.Error(t, validateKey("acct", "ven tas"))
	assert.Error(t, validateKey("acct", "ven/tas"))
}

func TestToJID(t *testing.T) {
	jid, err := toJID("5215512345678@c.us")
	require.NoError(t, err)
	assert.Equal(t, "5215512345678", jid.User)
	assert.Equal(t, types.DefaultUserServer, jid.Server)

	// Sin sufijo también resuelve: NormalizeChatID agrega @c.us
	bare, err := toJID("521 55 1234 5678")
	require.NoError(t, err)
	assert.Equal(t, "5215512345678", bare.User)

	group, err := toJID("1203630@g.us")
	require.NoError(t, err)
	assert.Equal(t, types.GroupServer, group.Server)

	_, err = toJID("")
	assert.Error(t, err)
}

func TestFromJID(t *testing.T) {
	user := types.NewJID("5215512345678", types.DefaultUserServer)
	assert.Equal(t, "5215512345678@c.us", fromJID(user))

	group := types.NewJID("1203630", types.GroupServer)
	assert.Equal(t, "1203630@g.us", fromJID(group))
}

// El bus entrega a todos los suscriptores y un cancel deja de entregar.
func TestSupervisor_SubscribePublish(t *testing.T) {
	s := NewSupervisor(mediacache.New(time.Minute))

	ch1, cancel1 := s.Subscribe()
	ch2, cancel2 := s.Subscribe()
	defer cancel2()

	s.publish(session.Event{Type: session.EventReady, AccountID: "acct", SessionID: "ventas"})

	evt1 := <-ch1
	evt2 := <-ch2
	assert.Equal(t, session.EventReady, evt1.Type)
	assert.Equal(t, session.EventReady, evt2.Type)
	assert.NotZero(t, evt1.Ts, "publish debe estampar ts si falta")

	cancel1()
	s.publish(session.Event{Type: session.EventStopped, AccountID: "acct", SessionID: "ventas"})

	evt2 = <-ch2
	assert.Equal(t, session.EventStopped, evt2.Type)

	_, open := <-ch1
	assert.False(t, open, "El canal cancelado debe cerrarse")
}

// Un suscriptor saturado pierde eventos en vez de frenar al publicador.
func TestSupervisor_PublishDropsWhenSubscriberFull(t *testing.T) {
	s := NewSupervisor(mediacache.New(time.Minute))

	ch, cancel := s.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			s.publish(session.Event{Type: session.EventMessage, AccountID: "acct", SessionID: "ventas"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish se bloqueó con un suscriptor lento")
	}

	// Lo encolado está acotado por el buffer del canal.
	assert.LessOrEqual(t, len(ch), 256)
}

// Los mensajes salientes también viajan como message; fromMe los distingue.
func TestSupervisor_OutboundMessagePublishesAsMessage(t *testing.T) {
	s := NewSupervisor(mediacache.New(time.Minute))
	m := &managedSession{key: session.NewKey("acct", "ventas")}

	ch, cancel := s.Subscribe()
	defer cancel()

	s.handleMessage(m, &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:     types.NewJID("5215512345678", types.DefaultUserServer),
				IsFromMe: true,
			},
			ID:        "MSG-OUT-1",
			Timestamp: time.Now(),
		},
		Message: &waE2E.Message{Conversation: proto.String("confirmado, va en camino")},
	})

	evt := <-ch
	assert.Equal(t, session.EventMessage, evt.Type)
	require.NotNil(t, evt.Message)
	assert.True(t, evt.Message.FromMe)
	assert.Equal(t, "chat", evt.Message.MessageType)
	assert.Equal(t, "confirmado, va en camino", evt.Message.Body)
	assert.Empty(t, evt.Message.MediaURLPath, "texto plano no lleva ruta de media")
}

// Con media y un id de mensaje, el evento incluye la ruta de descarga.
func TestSupervisor_MediaMessageCarriesURLPath(t *testing.T) {
	s := NewSupervisor(mediacache.New(time.Minute))
	m := &managedSession{key: session.NewKey("acct", "ventas")}

	ch, cancel := s.Subscribe()
	defer cancel()

	s.handleMessage(m, &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat: types.NewJID("5215512345678", types.DefaultUserServer),
			},
			ID:        "MSG-IMG-1",
			Timestamp: time.Now(),
		},
		Message: &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{Caption: proto.String("mira esto")},
		},
	})

	evt := <-ch
	require.NotNil(t, evt.Message)
	assert.True(t, evt.Message.HasMedia)
	assert.Equal(t,
		"/api/accounts/acct/sessions/ventas/messages/MSG-IMG-1/media",
		evt.Message.MediaURLPath)
}

func TestSupervisor_StatusUnknownSession(t *testing.T) {
	s := NewSupervisor(mediacache.New(time.Minute))
	assert.Equal(t, session.StatusStopped, s.Status("acct", "nope"))
	assert.Empty(t, s.QR("acct", "nope"))
}

func TestSupervisor_ListRunningFiltersByAccount(t *testing.T) {
	s := NewSupervisor(mediacache.New(time.Minute))

	s.sessions["a1__ventas"] = &managedSession{
		key:    session.NewKey("a1", "ventas"),
		status: session.StatusReady,
		waID:   "5215511111111@c.us",
	}
	s.sessions["a1__soporte"] = &managedSession{
		key:    session.NewKey("a1", "soporte"),
		status: session.StatusScanning,
		qr:     "qr-code",
	}
	s.sessions["a2__ventas"] = &managedSession{
		key:    session.NewKey("a2", "ventas"),
		status: session.StatusReady,
	}

	all := s.ListRunning("")
	assert.Len(t, all, 3)

	a1 := s.ListRunning("a1")
	require.Len(t, a1, 2)
	for _, rs := range a1 {
		assert.Equal(t, "a1", rs.AccountID)
	}

	var scanning *session.RunningSession
	for i := range a1 {
		if a1[i].Label == "soporte" {
			scanning = &a1[i]
		}
	}
	require.NotNil(t, scanning)
	assert.True(t, scanning.HasQR)
	assert.Equal(t, session.StatusScanning, scanning.Status)
}

package whatsapp

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/calmecac/wabridge/domains/session"
)

// handleEvent normaliza los callbacks de whatsmeow al Event del dominio.
// Corre en la goroutine de eventos del cliente; publicar nunca bloquea.
func (s *Supervisor) handleEvent(m *managedSession, rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		waID := ""
		if m.client.Store.ID != nil {
			waID = m.client.Store.ID.User + "@c.us"
		}
		m.mu.Lock()
		m.status = session.StatusReady
		m.waID = waID
		m.qr = ""
		m.mu.Unlock()
		s.publish(session.Event{
			Type:      session.EventReady,
			AccountID: m.key.AccountID,
			SessionID: m.key.Label,
			WaID:      waID,
			Self:      waID,
		})

	case *events.Disconnected:
		m.setStatus(session.StatusDisconnected)
		s.publish(session.Event{
			Type:      session.EventDisconnected,
			AccountID: m.key.AccountID,
			SessionID: m.key.Label,
		})

	case *events.LoggedOut:
		m.setStatus(session.StatusAuthFailure)
		s.publish(session.Event{
			Type:      session.EventAuthFailure,
			AccountID: m.key.AccountID,
			SessionID: m.key.Label,
			Reason:    evt.Reason.String(),
		})

	case *events.StreamError:
		m.setStatus(session.StatusError)
		s.publish(session.Event{
			Type:      session.EventError,
			AccountID: m.key.AccountID,
			SessionID: m.key.Label,
			Err:       evt.Code,
		})

	case *events.Message:
		s.handleMessage(m, evt)
	}
}

func (s *Supervisor) handleMessage(m *managedSession, evt *events.Message) {
	// Estados e historias no son conversaciones.
	if evt.Info.Chat.String() == "status@broadcast" || evt.Info.IsIncomingBroadcast() {
		return
	}

	payload := buildMessagePayload(evt)
	if payload == nil {
		return
	}

	if payload.HasMedia {
		s.mediaCache.Put(m.key.AccountID, m.key.Label, payload.ID, evt.Message)
		if payload.ID != "" {
			payload.MediaURLPath = fmt.Sprintf("/api/accounts/%s/sessions/%s/messages/%s/media",
				m.key.AccountID, m.key.Label, payload.ID)
		}
	}

	// Entrantes y salientes viajan como message; fromMe distingue el espejo
	// de lo que la sesión misma envió.
	s.publish(session.Event{
		Type:      session.EventMessage,
		AccountID: m.key.AccountID,
		SessionID: m.key.Label,
		Message:   payload,
	})
}

// buildMessagePayload extrae cuerpo y tipo. Mensajes sin contenido
// procesable (reacciones, protocolo) devuelven nil.
func buildMessagePayload(evt *events.Message) *session.MessagePayload {
	msg := evt.Message
	if msg == nil {
		return nil
	}

	payload := &session.MessagePayload{
		ID:          evt.Info.ID,
		ChatID:      fromJID(evt.Info.Chat),
		FromMe:      evt.Info.IsFromMe,
		WaTimestamp: evt.Info.Timestamp.UnixMilli(),
	}

	switch {
	case msg.GetConversation() != "":
		payload.MessageType = "chat"
		payload.Body = msg.GetConversation()
	case msg.GetExtendedTextMessage().GetText() != "":
		payload.MessageType = "chat"
		payload.Body = msg.GetExtendedTextMessage().GetText()
	case msg.GetAudioMessage() != nil:
		payload.MessageType = audioType(msg.GetAudioMessage())
		payload.HasMedia = true
	case msg.GetImageMessage() != nil:
		payload.MessageType = "image"
		payload.Body = msg.GetImageMessage().GetCaption()
		payload.HasMedia = true
	case msg.GetVideoMessage() != nil:
		payload.MessageType = "video"
		payload.Body = msg.GetVideoMessage().GetCaption()
		payload.HasMedia = true
	case msg.GetDocumentMessage() != nil:
		payload.MessageType = "document"
		payload.Body = msg.GetDocumentMessage().GetCaption()
		payload.HasMedia = true
	case msg.GetStickerMessage() != nil:
		payload.MessageType = "sticker"
		payload.HasMedia = true
	default:
		logrus.Debugf("[SUPERVISOR] Ignoring unsupported message %s", evt.Info.ID)
		return nil
	}

	return payload
}

func audioType(audio *waE2E.AudioMessage) string {
	if audio.GetPTT() {
		return "ptt"
	}
	return "audio"
}

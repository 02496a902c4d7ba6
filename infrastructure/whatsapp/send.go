package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/calmecac/wabridge/domains/session"
	"github.com/calmecac/wabridge/pkg/apperror"
)

func (s *Supervisor) readyClient(accountID, label string) (*managedSession, error) {
	m := s.get(accountID, label)
	if m == nil || m.client == nil {
		return nil, apperror.NotFoundError(fmt.Sprintf("session %s__%s is not running", accountID, label))
	}
	if !m.client.IsLoggedIn() {
		return nil, apperror.NotReadyError(fmt.Sprintf("session %s__%s is not ready", accountID, label))
	}
	return m, nil
}

// SendText envía texto plano y devuelve el id de plataforma del mensaje.
func (s *Supervisor) SendText(ctx context.Context, accountID, label, to, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperror.ValidationError("text: cannot be blank.")
	}

	m, err := s.readyClient(accountID, label)
	if err != nil {
		return "", err
	}

	jid, err := toJID(to)
	if err != nil {
		return "", apperror.ValidationError(fmt.Sprintf("to: %v.", err))
	}

	resp, err := m.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", apperror.InternalServerError(fmt.Sprintf("sending text: %v", err))
	}

	s.publish(session.Event{
		Type:      session.EventSent,
		AccountID: accountID,
		SessionID: label,
		Message: &session.MessagePayload{
			ID:          resp.ID,
			ChatID:      fromJID(jid),
			FromMe:      true,
			Body:        text,
			MessageType: "chat",
			WaTimestamp: resp.Timestamp.UnixMilli(),
		},
	})
	return resp.ID, nil
}

// SendMedia sube el contenido y lo envía. Una nota de voz sale como PTT;
// el resto se despacha por prefijo MIME.
func (s *Supervisor) SendMedia(ctx context.Context, accountID, label, to string, media session.Media, caption string) (string, error) {
	m, err := s.readyClient(accountID, label)
	if err != nil {
		return "", err
	}

	jid, err := toJID(to)
	if err != nil {
		return "", apperror.ValidationError(fmt.Sprintf("to: %v.", err))
	}

	data, err := resolveMediaBytes(ctx, media)
	if err != nil {
		return "", err
	}

	mimetype := media.Mimetype
	if mimetype == "" {
		mimetype = http.DetectContentType(data)
	}

	msg, err := buildMediaMessage(ctx, m.client, data, mimetype, caption, media)
	if err != nil {
		return "", err
	}

	resp, err := m.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", apperror.InternalServerError(fmt.Sprintf("sending media: %v", err))
	}

	messageType := "document"
	switch {
	case media.VoiceNote:
		messageType = "ptt"
	case strings.HasPrefix(mimetype, "audio/"):
		messageType = "audio"
	case strings.HasPrefix(mimetype, "image/"):
		messageType = "image"
	}

	s.publish(session.Event{
		Type:      session.EventSent,
		AccountID: accountID,
		SessionID: label,
		Message: &session.MessagePayload{
			ID:          resp.ID,
			ChatID:      fromJID(jid),
			FromMe:      true,
			Body:        caption,
			MessageType: messageType,
			HasMedia:    true,
			WaTimestamp: resp.Timestamp.UnixMilli(),
		},
	})
	return resp.ID, nil
}

// resolveMediaBytes materializa el contenido desde la fuente declarada:
// bytes en línea, URL http(s) o ruta local.
func resolveMediaBytes(ctx context.Context, media session.Media) ([]byte, error) {
	switch {
	case len(media.Data) > 0:
		return media.Data, nil
	case media.URL != "":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, media.URL, nil)
		if err != nil {
			return nil, apperror.ValidationError(fmt.Sprintf("url: %v.", err))
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, apperror.InternalServerError(fmt.Sprintf("fetching media url: %v", err))
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, apperror.InternalServerError(fmt.Sprintf("media url answered %d", resp.StatusCode))
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, apperror.InternalServerError(fmt.Sprintf("reading media url: %v", err))
		}
		return data, nil
	case media.LocalPath != "":
		data, err := os.ReadFile(media.LocalPath)
		if err != nil {
			return nil, apperror.InternalServerError(fmt.Sprintf("reading media file: %v", err))
		}
		return data, nil
	default:
		return nil, apperror.ValidationError("media: one of data, url or localPath is required.")
	}
}

func buildMediaMessage(ctx context.Context, client *whatsmeow.Client, data []byte, mimetype, caption string, media session.Media) (*waE2E.Message, error) {
	var mType whatsmeow.MediaType
	switch {
	case media.VoiceNote, strings.HasPrefix(mimetype, "audio/"):
		mType = whatsmeow.MediaAudio
	case strings.HasPrefix(mimetype, "image/"):
		mType = whatsmeow.MediaImage
	case strings.HasPrefix(mimetype, "video/"):
		mType = whatsmeow.MediaVideo
	default:
		mType = whatsmeow.MediaDocument
	}

	uploaded, err := client.Upload(ctx, data, mType)
	if err != nil {
		return nil, apperror.InternalServerError(fmt.Sprintf("uploading media: %v", err))
	}

	msg := &waE2E.Message{}
	switch mType {
	case whatsmeow.MediaAudio:
		msg.AudioMessage = &waE2E.AudioMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimetype),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			PTT:           proto.Bool(media.VoiceNote),
		}
	case whatsmeow.MediaImage:
		msg.ImageMessage = &waE2E.ImageMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimetype),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Caption:       proto.String(caption),
		}
	case whatsmeow.MediaVideo:
		msg.VideoMessage = &waE2E.VideoMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimetype),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Caption:       proto.String(caption),
		}
	default:
		msg.DocumentMessage = &waE2E.DocumentMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimetype),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Caption:       proto.String(caption),
			FileName:      proto.String(media.Filename),
		}
	}
	return msg, nil
}

// DownloadMessageMedia resuelve los bytes de un mensaje reciente desde la
// cache de media. Mensajes fuera del TTL ya no son descargables.
func (s *Supervisor) DownloadMessageMedia(ctx context.Context, accountID, label, messageID string) (*session.DownloadedMedia, error) {
	m := s.get(accountID, label)
	if m == nil || m.client == nil {
		return nil, apperror.NotFoundError(fmt.Sprintf("session %s__%s is not running", accountID, label))
	}

	ref, ok := s.mediaCache.Get(accountID, label, messageID)
	if !ok {
		return nil, apperror.NotFoundError(fmt.Sprintf("media for message %s is no longer cached", messageID))
	}
	msg, ok := ref.(*waE2E.Message)
	if !ok {
		return nil, apperror.InternalServerError("cached media reference has unexpected type")
	}

	downloadable, mimetype, filename := downloadableOf(msg, messageID)
	if downloadable == nil {
		return nil, apperror.NotFoundError(fmt.Sprintf("message %s has no downloadable media", messageID))
	}

	data, err := m.client.Download(ctx, downloadable)
	if err != nil {
		return nil, apperror.InternalServerError(fmt.Sprintf("downloading media: %v", err))
	}

	logrus.Debugf("[SUPERVISOR] Downloaded %d bytes for message %s", len(data), messageID)
	return &session.DownloadedMedia{
		Mimetype: mimetype,
		Filename: filename,
		DataB64:  base64.StdEncoding.EncodeToString(data),
	}, nil
}

func downloadableOf(msg *waE2E.Message, messageID string) (whatsmeow.DownloadableMessage, string, string) {
	if audio := msg.GetAudioMessage(); audio != nil {
		return audio, audio.GetMimetype(), messageID + ".ogg"
	}
	if image := msg.GetImageMessage(); image != nil {
		return image, image.GetMimetype(), messageID + ".jpg"
	}
	if video := msg.GetVideoMessage(); video != nil {
		return video, video.GetMimetype(), messageID + ".mp4"
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc, doc.GetMimetype(), doc.GetFileName()
	}
	if sticker := msg.GetStickerMessage(); sticker != nil {
		return sticker, sticker.GetMimetype(), messageID + ".webp"
	}
	return nil, "", ""
}

package gcsmedia

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/calmecac/wabridge/domains/media"
	"github.com/calmecac/wabridge/domains/session"
)

// Downloader es el subconjunto del supervisor que entrega los bytes de un
// mensaje reciente desde la cache de media.
type Downloader interface {
	DownloadMessageMedia(ctx context.Context, accountID, label, messageID string) (*session.DownloadedMedia, error)
}

// Config son el bucket destino y las credenciales GCP.
type Config struct {
	Bucket          string
	CredentialsFile string
	CredentialsJSON string
}

// BlobStore sube notas de voz entrantes a GCS bajo
// wa/{accountId}/{label}/inbound/{chatId}/{tsMs}/{messageId}.{ext}.
type BlobStore struct {
	client     *storage.Client
	bucket     string
	downloader Downloader
}

var _ media.BlobStore = (*BlobStore)(nil)

func NewBlobStore(ctx context.Context, cfg Config, downloader Downloader) (*BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcsmedia: bucket is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	} else if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcsmedia: creating storage client: %w", err)
	}

	logrus.Infof("[GCSMEDIA] Blob store ready on bucket %s", cfg.Bucket)
	return &BlobStore{client: client, bucket: cfg.Bucket, downloader: downloader}, nil
}

func (b *BlobStore) Close() error {
	return b.client.Close()
}

// SaveInboundVoice baja los bytes de la cache de media y los sube al
// bucket. El objeto es inmutable: una nota repetida sobreescribe con el
// mismo contenido.
func (b *BlobStore) SaveInboundVoice(ctx context.Context, req media.VoiceSaveRequest) (*media.VoiceObject, error) {
	dl, err := b.downloader.DownloadMessageMedia(ctx, req.AccountID, req.Label, req.MessageID)
	if err != nil {
		return nil, fmt.Errorf("gcsmedia: downloading voice %s: %w", req.MessageID, err)
	}

	data, err := base64.StdEncoding.DecodeString(dl.DataB64)
	if err != nil {
		return nil, fmt.Errorf("gcsmedia: decoding voice %s: %w", req.MessageID, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("gcsmedia: voice %s is empty", req.MessageID)
	}

	filename := req.MessageID + "." + extensionFor(dl.Mimetype)
	objectPath := fmt.Sprintf("wa/%s/%s/inbound/%s/%d/%s",
		req.AccountID, req.Label, req.ChatID, req.WaTimestampMs, filename)

	w := b.client.Bucket(b.bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = dl.Mimetype
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("gcsmedia: uploading %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gcsmedia: finishing upload %s: %w", objectPath, err)
	}

	logrus.Debugf("[GCSMEDIA] Stored voice %s (%d bytes)", objectPath, len(data))
	return &media.VoiceObject{
		GcsURI:      fmt.Sprintf("gs://%s/%s", b.bucket, objectPath),
		ContentType: dl.Mimetype,
		Filename:    filename,
		Bytes:       int64(len(data)),
	}, nil
}

// extensionFor mapea el MIME reportado a una extensión conocida.
func extensionFor(mimetype string) string {
	base := mimetype
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = base[:idx]
	}
	switch strings.TrimSpace(strings.ToLower(base)) {
	case "audio/ogg", "application/ogg":
		return "ogg"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/wav", "audio/x-wav":
		return "wav"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "mp4"
	default:
		return "bin"
	}
}

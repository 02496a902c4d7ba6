package firestore

import (
	"context"
	"fmt"
	"strings"

	gfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// Config son las credenciales GCP. CredentialsJSON gana sobre
// CredentialsFile; sin ninguna se usan las Application Default Credentials.
type Config struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
}

func clientOptions(cfg Config) []option.ClientOption {
	if strings.TrimSpace(cfg.CredentialsJSON) != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))}
	}
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
	}
	return nil
}

// NewClient inicializa la app de Firebase y devuelve el cliente Firestore.
func NewClient(ctx context.Context, cfg Config) (*gfirestore.Client, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore: project id is required")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("firestore: initializing firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore: getting client: %w", err)
	}

	logrus.Infof("[FIRESTORE] Client ready for project %s", cfg.ProjectID)
	return client, nil
}

// relativePath recorta el nombre de recurso completo de un DocumentRef a la
// ruta relativa que aceptan client.Doc y las transacciones.
func relativePath(fullPath string) string {
	const marker = "/documents/"
	if idx := strings.Index(fullPath, marker); idx >= 0 {
		return fullPath[idx+len(marker):]
	}
	return fullPath
}

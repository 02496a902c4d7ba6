package identity

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// Verifier valida tokens de consola y devuelve el uid del usuario.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (string, error)
}

// FirebaseVerifier valida ID tokens contra Firebase Auth.
type FirebaseVerifier struct {
	auth *auth.Client
}

var _ Verifier = (*FirebaseVerifier)(nil)

// Config replica las credenciales del resto de la capa GCP.
type Config struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
}

func NewFirebaseVerifier(ctx context.Context, cfg Config) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("identity: project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	} else if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("identity: initializing firebase app: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: getting auth client: %w", err)
	}

	logrus.Info("[IDENTITY] Firebase token verifier ready")
	return &FirebaseVerifier{auth: client}, nil
}

// Verify valida el token y extrae el uid. Tokens vencidos o de otro
// proyecto fallan aquí.
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (string, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return "", fmt.Errorf("identity: empty token")
	}

	token, err := v.auth.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", fmt.Errorf("identity: invalid token: %w", err)
	}
	if token.UID == "" {
		return "", fmt.Errorf("identity: token without uid")
	}
	return token.UID, nil
}

package firestore

import (
	"context"
	"fmt"
	"time"

	gfirestore "cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"

	"github.com/calmecac/wabridge/domains/session"
)

// SessionRegistry proyecta el estado en memoria del supervisor sobre el
// documento de sesión, para que consolas y el worker externo lo consulten.
// Las escrituras son merge: nunca pisan el mapa `bot` ni el ACL.
type SessionRegistry struct {
	client *gfirestore.Client
	now    func() time.Time
}

func NewSessionRegistry(client *gfirestore.Client) *SessionRegistry {
	return &SessionRegistry{client: client, now: time.Now}
}

func (r *SessionRegistry) ref(accountID, label string) *gfirestore.DocumentRef {
	return r.client.Collection("accounts").Doc(accountID).Collection("sessions").Doc(label)
}

// RecordStatus persiste la transición de estado de una sesión.
func (r *SessionRegistry) RecordStatus(ctx context.Context, accountID, label string, st session.Status, waID string) error {
	fields := map[string]interface{}{
		"status":    string(st),
		"updatedAt": gfirestore.ServerTimestamp,
	}
	if waID != "" {
		fields["waId"] = waID
	}
	if st == session.StatusReady {
		fields["lastReadyAt"] = r.now().UnixMilli()
	}

	_, err := r.ref(accountID, label).Set(ctx, fields, gfirestore.MergeAll)
	if err != nil {
		return fmt.Errorf("registry: recording %s for %s/%s: %w", st, accountID, label, err)
	}
	return nil
}

// RecordCreated deja la marca de alta la primera vez que se inicia la
// sesión.
func (r *SessionRegistry) RecordCreated(ctx context.Context, accountID, label string) error {
	_, err := r.ref(accountID, label).Set(ctx, map[string]interface{}{
		"createdAt": gfirestore.ServerTimestamp,
	}, gfirestore.MergeAll)
	if err != nil {
		return fmt.Errorf("registry: recording creation of %s/%s: %w", accountID, label, err)
	}
	return nil
}

// Follow consume el bus del supervisor y refleja cada transición. Corre en
// su propia goroutine hasta que ctx termina.
func (r *SessionRegistry) Follow(ctx context.Context, events <-chan session.Event, unsubscribe func()) {
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			st, relevant := statusForEvent(evt.Type)
			if !relevant {
				continue
			}
			writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := r.RecordStatus(writeCtx, evt.AccountID, evt.SessionID, st, evt.WaID); err != nil {
				logrus.WithError(err).Warnf("[REGISTRY] Status write failed for %s/%s", evt.AccountID, evt.SessionID)
			}
			cancel()
		}
	}
}

func statusForEvent(t session.EventType) (session.Status, bool) {
	switch t {
	case session.EventQR:
		return session.StatusScanning, true
	case session.EventReady:
		return session.StatusReady, true
	case session.EventDisconnected:
		return session.StatusDisconnected, true
	case session.EventAuthFailure:
		return session.StatusAuthFailure, true
	case session.EventError:
		return session.StatusError, true
	case session.EventStopped, session.EventDestroyed:
		return session.StatusStopped, true
	}
	return "", false
}

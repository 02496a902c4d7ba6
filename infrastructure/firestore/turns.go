package firestore

import (
	"context"
	"fmt"
	"time"

	gfirestore "cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/calmecac/wabridge/bot"
	"github.com/calmecac/wabridge/domains/turn"
)

// TurnStore persiste los turnos bajo
// accounts/{aid}/sessions/{label}/threads/{chatId}/turns/{windowId}.
type TurnStore struct {
	client *gfirestore.Client
	now    func() time.Time
}

var _ bot.TurnStore = (*TurnStore)(nil)
var _ bot.TurnWriter = (*TurnStore)(nil)

func NewTurnStore(client *gfirestore.Client) *TurnStore {
	return &TurnStore{client: client, now: time.Now}
}

func (s *TurnStore) sessionRef(accountID, label string) *gfirestore.DocumentRef {
	return s.client.Collection("accounts").Doc(accountID).Collection("sessions").Doc(label)
}

func (s *TurnStore) turnRef(meta turn.Meta) *gfirestore.DocumentRef {
	return s.sessionRef(meta.AccountID, meta.Label).
		Collection("threads").Doc(meta.ChatID).
		Collection("turns").Doc(meta.WindowID)
}

// WritePending crea el documento del turno. Create hace la escritura
// idempotente: una ventana duplicada (mismo windowId) no pisa a la primera.
func (s *TurnStore) WritePending(ctx context.Context, t *turn.Turn) error {
	if t.Meta.AccountID == "" || t.Meta.Label == "" || t.Meta.ChatID == "" || t.Meta.WindowID == "" {
		return fmt.Errorf("turnstore: incomplete meta %+v", t.Meta)
	}

	_, err := s.turnRef(t.Meta).Create(ctx, t)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logrus.Warnf("[TURNSTORE] Turn %s already exists; keeping first write", t.Meta.WindowID)
			return nil
		}
		return fmt.Errorf("turnstore: writing pending turn %s: %w", t.Meta.WindowID, err)
	}
	return nil
}

// WatchReady abre un listener de collection group sobre los turnos ready de
// una sesión. Los snapshots llegan por el canal hasta que se cancela.
func (s *TurnStore) WatchReady(ctx context.Context, accountID, label string) (<-chan bot.ReadyTurn, func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)

	query := s.client.CollectionGroup("turns").
		Where("meta.accountId", "==", accountID).
		Where("meta.label", "==", label).
		Where("status", "==", string(turn.StatusReady))

	iter := query.Snapshots(watchCtx)
	out := make(chan bot.ReadyTurn, 64)

	go func() {
		defer iter.Stop()
		defer close(out)
		for {
			snap, err := iter.Next()
			if err != nil {
				if status.Code(err) == codes.Canceled || watchCtx.Err() != nil {
					return
				}
				logrus.WithError(err).Errorf("[TURNSTORE] Ready watch broke for %s/%s", accountID, label)
				return
			}
			for _, change := range snap.Changes {
				if change.Kind == gfirestore.DocumentRemoved {
					continue
				}
				var t turn.Turn
				if err := change.Doc.DataTo(&t); err != nil {
					logrus.WithError(err).Warnf("[TURNSTORE] Skipping malformed turn %s", change.Doc.Ref.ID)
					continue
				}
				rt := bot.ReadyTurn{Path: relativePath(change.Doc.Ref.Path), Turn: t}
				select {
				case out <- rt:
				case <-watchCtx.Done():
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

// Claim pasa el turno a sending dentro de una transacción. Si otro proceso
// ya lo reclamó (status distinto de ready o waMessageId presente) devuelve
// claimed=false sin tocar el documento.
func (s *TurnStore) Claim(ctx context.Context, path string) (*turn.Turn, bool, error) {
	ref := s.client.Doc(path)
	if ref == nil {
		return nil, false, fmt.Errorf("turnstore: invalid turn path %q", path)
	}

	var claimed turn.Turn
	var won bool

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *gfirestore.Transaction) error {
		won = false
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var t turn.Turn
		if err := doc.DataTo(&t); err != nil {
			return err
		}
		if t.Status != turn.StatusReady || t.WaMessageID != "" {
			return nil
		}
		nowMs := s.now().UnixMilli()
		if err := tx.Update(ref, []gfirestore.Update{
			{Path: "status", Value: string(turn.StatusSending)},
			{Path: "claimedAt", Value: nowMs},
		}); err != nil {
			return err
		}
		t.Status = turn.StatusSending
		t.ClaimedAt = nowMs
		claimed = t
		won = true
		return nil
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("turnstore: claiming %s: %w", path, err)
	}
	if !won {
		return nil, false, nil
	}
	return &claimed, true, nil
}

func (s *TurnStore) MarkDelivered(ctx context.Context, path, waMessageID string) error {
	_, err := s.client.Doc(path).Update(ctx, []gfirestore.Update{
		{Path: "status", Value: string(turn.StatusDelivered)},
		{Path: "deliveredAt", Value: s.now().UnixMilli()},
		{Path: "waMessageId", Value: waMessageID},
		{Path: "error", Value: nil},
	})
	if err != nil {
		return fmt.Errorf("turnstore: marking delivered %s: %w", path, err)
	}
	return nil
}

func (s *TurnStore) MarkSkipped(ctx context.Context, path, reason string) error {
	_, err := s.client.Doc(path).Update(ctx, []gfirestore.Update{
		{Path: "status", Value: string(turn.StatusSkipped)},
		{Path: "skippedAt", Value: s.now().UnixMilli()},
		{Path: "skipReason", Value: reason},
		{Path: "error", Value: nil},
	})
	if err != nil {
		return fmt.Errorf("turnstore: marking skipped %s: %w", path, err)
	}
	return nil
}

func (s *TurnStore) MarkError(ctx context.Context, path, stage, detail string) error {
	_, err := s.client.Doc(path).Update(ctx, []gfirestore.Update{
		{Path: "status", Value: string(turn.StatusError)},
		{Path: "error", Value: map[string]interface{}{"stage": stage, "detail": detail}},
	})
	if err != nil {
		return fmt.Errorf("turnstore: marking error %s: %w", path, err)
	}
	return nil
}

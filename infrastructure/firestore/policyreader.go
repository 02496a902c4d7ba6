package firestore

import (
	"context"
	"fmt"

	gfirestore "cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/calmecac/wabridge/domains/policy"
)

// botDoc es el mapa `bot` dentro del documento de sesión. Los punteros
// distinguen "ausente" de "false" para aplicar defaults.
type botDoc struct {
	Enabled         *bool    `firestore:"enabled"`
	ReceiveFromBots *bool    `firestore:"receiveFromBots"`
	Mode            string   `firestore:"mode"`
	Allowlist       []string `firestore:"allowlist"`
	Blocklist       []string `firestore:"blocklist"`
}

type sessionDoc struct {
	WaID string  `firestore:"waId"`
	Bot  *botDoc `firestore:"bot"`
}

type threadDoc struct {
	BotEnabled        *bool  `firestore:"botEnabled"`
	PreferredModality string `firestore:"preferredModality"`
}

// PolicyReader materializa la política de bot desde los documentos de
// cuenta. Documento ausente significa defaults, nunca error.
type PolicyReader struct {
	client *gfirestore.Client
}

var _ policy.Reader = (*PolicyReader)(nil)

func NewPolicyReader(client *gfirestore.Client) *PolicyReader {
	return &PolicyReader{client: client}
}

func (r *PolicyReader) sessionRef(accountID, label string) *gfirestore.DocumentRef {
	return r.client.Collection("accounts").Doc(accountID).Collection("sessions").Doc(label)
}

// SessionView aplica defaults: enabled=true, receiveFromBots=false,
// mode=all.
func (r *PolicyReader) SessionView(ctx context.Context, accountID, label string) (policy.View, error) {
	view := policy.View{Enabled: true, Mode: policy.ModeAll}

	doc, err := r.sessionRef(accountID, label).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return view, nil
		}
		return policy.View{}, fmt.Errorf("policyreader: session %s/%s: %w", accountID, label, err)
	}

	var sd sessionDoc
	if err := doc.DataTo(&sd); err != nil {
		return policy.View{}, fmt.Errorf("policyreader: parsing session %s/%s: %w", accountID, label, err)
	}

	view.SelfWaID = sd.WaID
	if sd.Bot == nil {
		return view, nil
	}
	if sd.Bot.Enabled != nil {
		view.Enabled = *sd.Bot.Enabled
	}
	if sd.Bot.ReceiveFromBots != nil {
		view.ReceiveFromBots = *sd.Bot.ReceiveFromBots
	}
	switch policy.Mode(sd.Bot.Mode) {
	case policy.ModeAllowlist:
		view.Mode = policy.ModeAllowlist
	case policy.ModeBlocklist:
		view.Mode = policy.ModeBlocklist
	}
	view.Allowlist = sd.Bot.Allowlist
	view.Blocklist = sd.Bot.Blocklist
	return view, nil
}

// ChatView lee la política del hilo: settings/__root__ es la ubicación
// preferida, el documento del hilo es el fallback. Ausentes ambos, hereda
// todo de la sesión.
func (r *PolicyReader) ChatView(ctx context.Context, accountID, label, chatID string) (policy.ChatView, error) {
	threadRef := r.sessionRef(accountID, label).Collection("threads").Doc(chatID)

	doc, err := threadRef.Collection("settings").Doc("__root__").Get(ctx)
	if err != nil {
		if status.Code(err) != codes.NotFound {
			return policy.ChatView{}, fmt.Errorf("policyreader: thread settings %s/%s %s: %w", accountID, label, chatID, err)
		}
		doc, err = threadRef.Get(ctx)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return policy.ChatView{}, nil
			}
			return policy.ChatView{}, fmt.Errorf("policyreader: thread %s/%s %s: %w", accountID, label, chatID, err)
		}
	}

	var td threadDoc
	if err := doc.DataTo(&td); err != nil {
		return policy.ChatView{}, fmt.Errorf("policyreader: parsing thread %s/%s %s: %w", accountID, label, chatID, err)
	}
	return policy.ChatView{BotEnabled: td.BotEnabled, PreferredModality: td.PreferredModality}, nil
}

// SelfIDs junta los waId de todas las sesiones de la cuenta para el corte
// de ciclos bot-a-bot.
func (r *PolicyReader) SelfIDs(ctx context.Context, accountID string) ([]string, error) {
	docs, err := r.client.Collection("accounts").Doc(accountID).Collection("sessions").Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("policyreader: listing sessions for %s: %w", accountID, err)
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		var sd sessionDoc
		if err := doc.DataTo(&sd); err != nil {
			continue
		}
		if sd.WaID != "" {
			ids = append(ids, sd.WaID)
		}
	}
	return ids, nil
}

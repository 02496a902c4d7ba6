package whatsapp

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"

	"github.com/calmecac/wabridge/pkg/utils"
)

// toJID convierte un chatId del dominio (`digits@c.us` o `id@g.us`) al JID
// de la plataforma.
func toJID(chatID string) (types.JID, error) {
	normalized := utils.NormalizeChatID(chatID)
	if normalized == "" {
		return types.EmptyJID, fmt.Errorf("empty chat id")
	}

	user, server, _ := strings.Cut(normalized, "@")
	if user == "" {
		return types.EmptyJID, fmt.Errorf("invalid chat id %q", chatID)
	}

	switch server {
	case "c.us", "s.whatsapp.net":
		return types.NewJID(user, types.DefaultUserServer), nil
	case "g.us":
		return types.NewJID(user, types.GroupServer), nil
	default:
		return types.ParseJID(normalized)
	}
}

// fromJID proyecta un JID de plataforma al chatId del dominio.
func fromJID(jid types.JID) string {
	switch jid.Server {
	case types.GroupServer:
		return jid.User + "@g.us"
	default:
		return jid.User + "@c.us"
	}
}

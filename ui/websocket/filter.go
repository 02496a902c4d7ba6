package websocket

import (
	"github.com/calmecac/wabridge/domains/session"
	"github.com/calmecac/wabridge/pkg/utils"
)

// Filters estrecha el stream de un cliente. Lista vacía significa "todo";
// los filtros nunca amplían lo que el ACL permite.
type Filters struct {
	Sessions []string `json:"sessions,omitempty"`
	Types    []string `json:"types,omitempty"`
	Chats    []string `json:"chats,omitempty"`
	FromMe   *bool    `json:"fromMe,omitempty"`
}

func (f Filters) normalized() Filters {
	out := f
	out.Chats = make([]string, 0, len(f.Chats))
	for _, c := range f.Chats {
		if n := utils.NormalizeChatID(c); n != "" {
			out.Chats = append(out.Chats, n)
		}
	}
	return out
}

// Match evalúa el evento contra los filtros. Eventos sin mensaje (qr,
// ready...) solo se filtran por sesión y tipo.
func (f Filters) Match(evt session.Event) bool {
	if len(f.Sessions) > 0 && !containsString(f.Sessions, evt.SessionID) {
		return false
	}
	if len(f.Types) > 0 && !containsString(f.Types, string(evt.Type)) {
		return false
	}

	// chats y fromMe solo aplican a eventos con mensaje; los de ciclo de
	// vida pasan si sesión y tipo ya pasaron.
	if evt.Message == nil {
		return true
	}
	if len(f.Chats) > 0 && !containsString(f.Chats, utils.NormalizeChatID(evt.Message.ChatID)) {
		return false
	}
	if f.FromMe != nil && evt.Message.FromMe != *f.FromMe {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

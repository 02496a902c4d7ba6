package bot

import (
	"sort"
	"strings"

	"github.com/calmecac/wabridge/domains/turn"
	"github.com/calmecac/wabridge/pkg/utils"
)

// shortTextMax es el umbral (en runas) bajo el cual textos consecutivos se
// fusionan en un solo item.
const shortTextMax = 14

// AssembleConfig lista las frases que piden una modalidad explícita.
type AssembleConfig struct {
	VoicePhrases []string
	TextPhrases  []string
}

// AssembleTurn es una función pura: ordena items, fusiona ráfagas de textos
// cortos, deriva pistas y asigna el windowId. No toca el store ni relojes.
func AssembleTurn(items []turn.Item, accountID, label, chatID string, cfg AssembleConfig) turn.Turn {
	sorted := make([]turn.Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ts < sorted[j].Ts })

	merged := mergeShortTexts(sorted)

	// openedAt/closedAt salen de los items originales: la fusión conserva
	// el ts del primer fragmento y ocultaría el cierre real de la ventana.
	openedAt := int64(0)
	closedAt := int64(0)
	if len(sorted) > 0 {
		openedAt = sorted[0].Ts
		closedAt = sorted[len(sorted)-1].Ts
	}

	windowID := turn.WindowID(accountID, label, chatID, openedAt)

	return turn.Turn{
		Status:   turn.StatusPending,
		OpenedAt: openedAt,
		ClosedAt: closedAt,
		Meta: turn.Meta{
			AccountID: accountID,
			Label:     label,
			ChatID:    chatID,
			WindowID:  windowID,
		},
		Hints: deriveHints(merged, cfg),
		Items: merged,
	}
}

// mergeShortTexts fusiona textos de ≤14 runas en un acumulador separado por
// espacios; textos largos e items de voz lo cierran y pasan intactos.
func mergeShortTexts(items []turn.Item) []turn.Item {
	out := make([]turn.Item, 0, len(items))
	var acc *turn.Item

	flushAcc := func() {
		if acc != nil {
			out = append(out, *acc)
			acc = nil
		}
	}

	for _, it := range items {
		if it.Type != turn.ItemText {
			flushAcc()
			out = append(out, it)
			continue
		}
		if len([]rune(it.Text)) <= shortTextMax {
			if acc == nil {
				copied := it
				acc = &copied
			} else {
				// conserva el ts del primer fragmento
				acc.Text += " " + it.Text
			}
			continue
		}
		flushAcc()
		out = append(out, it)
	}
	flushAcc()
	return out
}

func deriveHints(items []turn.Item, cfg AssembleConfig) turn.Hints {
	hints := turn.Hints{}
	var allText strings.Builder

	for _, it := range items {
		hints.LastInbound = string(it.Type)
		if it.Type == turn.ItemText {
			allText.WriteString(it.Text)
			allText.WriteString(" ")
		}
	}

	lowered := strings.ToLower(allText.String())
	if containsAny(lowered, cfg.VoicePhrases) {
		hints.Explicit = "voice"
	} else if containsAny(lowered, cfg.TextPhrases) {
		hints.Explicit = "text"
	}

	hints.Lang = utils.DetectLang(allText.String())
	return hints
}

func containsAny(lowered string, phrases []string) bool {
	for _, p := range phrases {
		if p == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

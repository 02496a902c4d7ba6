package utils

import (
	"strings"
	"unicode"
)

// NormalizeChatID deja pasar ids que ya traen servidor (`@`); de lo
// contrario conserva solo dígitos y agrega el sufijo de usuario. Es
// idempotente.
func NormalizeChatID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" {
		return ""
	}
	if strings.Contains(id, "@") {
		return id
	}
	var b strings.Builder
	for _, r := range id {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String() + "@c.us"
}

// CoerceTimestampMs normaliza un timestamp de plataforma a milisegundos.
// Valores menores a 10^10 se interpretan como segundos.
func CoerceTimestampMs(waTimestamp, nowMs int64) int64 {
	if waTimestamp <= 0 {
		return nowMs
	}
	if waTimestamp < 10_000_000_000 {
		return waTimestamp * 1000
	}
	return waTimestamp
}

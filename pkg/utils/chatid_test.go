package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeChatID(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"solo dígitos", "5215512345678", "5215512345678@c.us"},
		{"con separadores", "+52 1 55 1234-5678", "5215512345678@c.us"},
		{"ya normalizado", "5215512345678@c.us", "5215512345678@c.us"},
		{"grupo pasa intacto", "1234567890-987@g.us", "1234567890-987@g.us"},
		{"vacío", "  ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeChatID(tc.in))
		})
	}
}

// NormalizeChatID debe ser idempotente sobre su propio resultado.
func TestNormalizeChatID_Idempotent(t *testing.T) {
	once := NormalizeChatID("52 155 0000 1111")
	assert.Equal(t, once, NormalizeChatID(once))
}

func TestCoerceTimestampMs(t *testing.T) {
	now := int64(1_700_000_000_123)

	// Segundos (menor a 10^10) se multiplican por 1000.
	assert.Equal(t, int64(1_700_000_000_000), CoerceTimestampMs(1_700_000_000, now))
	// Milisegundos se conservan.
	assert.Equal(t, int64(1_700_000_000_555), CoerceTimestampMs(1_700_000_000_555, now))
	// Faltante usa now.
	assert.Equal(t, now, CoerceTimestampMs(0, now))
	assert.Equal(t, now, CoerceTimestampMs(-3, now))
}

func TestDetectLang(t *testing.T) {
	assert.Equal(t, "es-MX", DetectLang("¿me escuchas?"))
	assert.Equal(t, "es-MX", DetectLang("adiós"))
	assert.Equal(t, "", DetectLang("hello there"))
	assert.Equal(t, "", DetectLang(""))
}

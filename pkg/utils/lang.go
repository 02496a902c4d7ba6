package utils

import "strings"

const spanishMarkers = "áéíóúüñÁÉÍÓÚÜÑ¿¡"

// DetectLang returns "es-MX" when the text carries accented vowels or
// Spanish punctuation, otherwise "". Callers resolve "" to their default.
func DetectLang(text string) string {
	if strings.ContainsAny(text, spanishMarkers) {
		return "es-MX"
	}
	return ""
}

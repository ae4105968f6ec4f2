package ai

import "unicode"

// VoiceFor picks the non-English voice when the text contains any Cyrillic letter.
func VoiceFor(text, english, cyrillic string) string {
	for _, r := range text {
		if unicode.Is(unicode.Cyrillic, r) {
			return cyrillic
		}
	}
	return english
}

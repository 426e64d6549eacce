// Package language normalizes and labels BCP 47 language tags for
// transcription providers.
package language

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Language is a tag offered in the configuration menu.
type Language struct {
	Code string // BCP 47 tag (e.g., "en-US", "pt-BR")
	Name string // English name (e.g., "English (United States)")
}

// common are the tags every bundled streaming provider accepts.
var common = []string{
	"en-US", "en-GB", "en-AU", "en-IN",
	"es-ES", "es-US", "fr-FR", "de-DE", "it-IT",
	"pt-BR", "pt-PT", "nl-NL", "sv-SE", "pl-PL",
	"ru-RU", "tr-TR", "ja-JP", "ko-KR", "zh-CN", "hi-IN",
}

func parse(code string) (language.Tag, error) {
	return language.Parse(strings.ReplaceAll(strings.TrimSpace(code), "_", "-"))
}

// Valid reports whether code is a well-formed, non-undetermined tag.
func Valid(code string) bool {
	tag, err := parse(code)
	return err == nil && tag != language.Und
}

// Normalize returns the canonical tag for a provider. A bare "en" becomes
// en-US; unparseable codes pass through.
func Normalize(code string) string {
	if code == "" {
		return ""
	}
	tag, err := parse(code)
	if err != nil {
		return code
	}
	if tag == language.English {
		return "en-US"
	}
	return tag.String()
}

// Label returns a human-readable label for a language code.
// Example: "es" -> "Spanish (es)", "en-US" -> "American English (en-US)".
func Label(code string) string {
	if code == "" {
		return "Auto-detect"
	}
	tag, err := parse(code)
	if err != nil {
		return fmt.Sprintf("language '%s'", code)
	}
	name := display.English.Tags().Name(tag)
	if name == "" || strings.EqualFold(name, code) {
		return fmt.Sprintf("language '%s'", code)
	}
	return fmt.Sprintf("%s (%s)", name, code)
}

// Common returns the tags offered in the configuration menu.
func Common() []Language {
	out := make([]Language, 0, len(common))
	for _, code := range common {
		tag := language.MustParse(code)
		out = append(out, Language{Code: code, Name: display.English.Tags().Name(tag)})
	}
	return out
}

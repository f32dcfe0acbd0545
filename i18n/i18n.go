package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/text/language"
)

//go:embed locales/*.json
var locales embed.FS

var translations = make(map[string]map[string]string)
var DefaultLang = "en"

// languages and matcher share an order; the first entry is the fallback.
var (
	languages = []string{"en", "fr"}
	matcher   = language.NewMatcher([]language.Tag{language.English, language.French})
)

// LoadTranslations reads the catalogs compiled into the binary.
func LoadTranslations() error {
	for _, lang := range languages {
		data, err := locales.ReadFile(fmt.Sprintf("locales/%s.json", lang))
		if err != nil {
			return err
		}
		var t map[string]string
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("parse %s catalog: %w", lang, err)
		}
		translations[lang] = t
	}
	return nil
}

// T looks key up in lang, then in English, then returns key itself. Action
// messages are their own English text, so they need no entry in en.json.
func T(lang, key string) string {
	if t, ok := translations[lang]; ok {
		if val, ok := t[key]; ok {
			return val
		}
	}
	if lang != DefaultLang {
		return T(DefaultLang, key)
	}
	return key
}

// DetectLanguage picks the best supported catalog for the request's
// Accept-Language header, honouring quality weights.
func DetectLanguage(r *http.Request) string {
	_, idx := language.MatchStrings(matcher, r.Header.Get("Accept-Language"))
	return languages[idx]
}

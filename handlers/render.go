package handlers

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"petsoft/auth"
	"petsoft/config"
	"petsoft/i18n"
)

//go:embed templates/*.html
var templateFS embed.FS

// renderTemplate renders page inside the layout.
func (h *Handler) renderTemplate(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]any) {
	h.render(w, r, status, name, "layout", data)
}

// renderPartial renders a single named block of page, for HTMX swaps.
func (h *Handler) renderPartial(w http.ResponseWriter, r *http.Request, status int, name, block string, data map[string]any) {
	h.render(w, r, status, name, block, data)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, block string, data map[string]any) {
	lang := i18n.DetectLanguage(r)

	funcMap := template.FuncMap{
		"T": func(key string) string {
			return i18n.T(lang, key)
		},
		"petForm": func(page any, action string, pet any) map[string]any {
			return map[string]any{"Page": page, "Action": action, "Pet": pet}
		},
	}

	tmpl, err := template.New(name).Funcs(funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+name)
	if err != nil {
		h.log.Error("parse template", zap.String("template", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if data == nil {
		data = map[string]any{}
	}
	if _, exists := data["AppName"]; !exists {
		data["AppName"] = config.AppConfig.App.Name
	}
	session, _ := auth.FromContext(r.Context())
	data["Session"] = session
	data["Lang"] = lang
	data["csrfField"] = csrf.TemplateField(r)

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, block, data); err != nil {
		h.log.Error("render template", zap.String("template", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// formError reports an action message on the login and signup forms. HTMX
// requests get just the text swapped into #error-message, as the page's
// other errors are.
func (h *Handler) formError(w http.ResponseWriter, r *http.Request, page, msg string, status int) {
	if isHTMX(r) {
		lang := i18n.DetectLanguage(r)
		w.Header().Set("HX-Retarget", "#error-message")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		// HTMX does not swap 4xx responses by default.
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(i18n.T(lang, msg)))
		return
	}
	h.renderTemplate(w, r, status, page, map[string]any{"Error": msg})
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

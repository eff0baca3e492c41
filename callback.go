package broker

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/e-id/certilia-oauth/security"
)

// callbackPage is served at the end of the browser leg of the flow. The
// authorization code is exposed only through data attributes so a native
// client's embedded view can read it without script injection surface.
var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Authentication {{if .Success}}Complete{{else}}Failed{{end}}</title>
<style>
body { font-family: system-ui, sans-serif; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; background: #f5f5f5; }
.card { background: #fff; border-radius: 8px; padding: 2rem 3rem; box-shadow: 0 1px 4px rgba(0,0,0,.15); text-align: center; }
.ok { color: #1a7f37; }
.err { color: #b42318; }
</style>
</head>
<body>
{{if .Success}}
<div class="card" id="auth-result" data-status="success" data-code="{{.Code}}" data-state="{{.State}}">
<h1 class="ok">Authentication complete</h1>
<p>You can close this window and return to the application.</p>
</div>
{{else}}
<div class="card" id="auth-result" data-status="error" data-error="{{.Error}}">
<h1 class="err">Authentication failed</h1>
<p>{{if .ErrorDescription}}{{.ErrorDescription}}{{else}}The identity provider reported an error.{{end}}</p>
<p>Close this window and try again.</p>
</div>
{{end}}
</body>
</html>
`))

func (h *Handler) writeCallbackPage(w http.ResponseWriter, result *CallbackResult) {
	var buf bytes.Buffer
	if err := callbackPage.Execute(&buf, result); err != nil {
		h.logger.Error("rendering callback page", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	security.SetCallbackPageHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if !result.Success {
		w.WriteHeader(http.StatusBadRequest)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Error("writing callback page", "error", err)
	}
}

package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets security headers for the broker's JSON endpoints.
// The policy is strict: nothing on these endpoints needs to load resources
// or be framed, and token responses must never be cached.
func SetSecurityHeaders(w http.ResponseWriter, serverURL string) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(serverURL); err == nil && parsed.Scheme == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}

// SetCallbackPageHeaders sets security headers for the HTML callback page.
// The page carries inline styles and its script posts the authorization
// result across origins, so the CSP is relaxed relative to the JSON
// endpoints while still blocking external script and resource loading.
func SetCallbackPageHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Content-Security-Policy",
		"default-src 'self'; style-src 'self' 'unsafe-inline'; connect-src *")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
}

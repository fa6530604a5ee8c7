package redact

import (
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
)

// SetEnabled toggles PII redaction of transcript text.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text redacts emails and phone numbers when enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}

// Secret masks a credential for logging, keeping the last four characters.
// It is applied regardless of SetEnabled.
func Secret(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	if len(in) <= 4 {
		return "****"
	}
	return "****" + in[len(in)-4:]
}

// Header returns a copy of h with credential headers masked.
func Header(h http.Header) http.Header {
	out := h.Clone()
	for k, vs := range out {
		if !isCredentialHeader(k) {
			continue
		}
		masked := make([]string, len(vs))
		for i, v := range vs {
			masked[i] = Secret(v)
		}
		out[k] = masked
	}
	return out
}

func isCredentialHeader(name string) bool {
	switch strings.ToLower(name) {
	case "x-api-key", "x-customer-id", "authorization":
		return true
	}
	return false
}

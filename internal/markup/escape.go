// Package markup prepares decoded device text for SSML-speaking backends.
package markup

import "strings"

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

// Escape replaces the five XML-significant characters with named entities.
// It is not idempotent: escaping twice double-escapes "&".
func Escape(s string) string {
	return escaper.Replace(s)
}

// Envelope wraps already-escaped markup in a speak element.
func Envelope(body string) string {
	return "<speak>" + body + "</speak>"
}

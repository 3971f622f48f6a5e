package ccda

import "strings"

// xmlReplacer performs the five XML metacharacter substitutions in a single
// pass, so entities introduced by one substitution are never re-escaped.
var xmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// EscapeForXML escapes text for use in XML element content or attribute
// values. An empty input yields an empty string.
func EscapeForXML(text string) string {
	if text == "" {
		return ""
	}
	return xmlReplacer.Replace(text)
}

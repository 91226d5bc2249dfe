package content

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	angleBrackets   = regexp.MustCompile(`[<>]`)
	javascriptURL   = regexp.MustCompile(`(?i)javascript\s*:`)
	inlineHandler   = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
	collapsedSpaces = regexp.MustCompile(`[ \t]{2,}`)
)

// Sanitize strips markup fragments that could be interpreted as script when a message is rendered.
func Sanitize(raw string) string {
	cleaned := angleBrackets.ReplaceAllString(raw, "")
	cleaned = javascriptURL.ReplaceAllString(cleaned, "")
	cleaned = inlineHandler.ReplaceAllString(cleaned, "")
	cleaned = collapsedSpaces.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// ServerSanitizer applies Sanitize around a strict bluemonday pass.
// The result is plain text: entities are decoded so messages are stored as typed,
// and decoded markup is stripped again.
type ServerSanitizer struct {
	policy *bluemonday.Policy
}

// NewServerSanitizer builds a sanitizer that allows no HTML at all.
func NewServerSanitizer() *ServerSanitizer {
	return &ServerSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize returns the cleaned message body.
func (s *ServerSanitizer) Sanitize(raw string) string {
	cleaned := Sanitize(html.UnescapeString(raw))
	if s == nil || s.policy == nil {
		return cleaned
	}
	return Sanitize(html.UnescapeString(s.policy.Sanitize(cleaned)))
}

package content

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MinLength is the minimum number of characters in a message.
	MinLength = 2
	// MaxLength is the maximum number of characters in a message.
	MaxLength = 500
	// MaxRepeatedRun is the length at which a run of one repeated character is rejected.
	MaxRepeatedRun = 10
)

// Validation failure reasons.
const (
	ReasonTooShort  = "too_short"
	ReasonTooLong   = "too_long"
	ReasonRepeated  = "repeated_characters"
	ReasonForbidden = "forbidden_content"
)

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("content: validation failed")

var denylist = []string{
	"<script",
	"</script",
	"<iframe",
	"javascript:",
	"vbscript:",
	"data:text/html",
	"document.cookie",
	"eval(",
	"onerror=",
	"onload=",
}

// ValidationError reports why a message body was rejected.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("content: %s", e.Reason)
	}
	return fmt.Sprintf("content: %s: %s", e.Reason, e.Detail)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validate checks a message body against the guestbook posting rules.
// Lengths are counted in characters after trimming surrounding whitespace.
func Validate(raw string) error {
	text := strings.TrimSpace(raw)
	length := utf8.RuneCountInString(text)
	if length < MinLength {
		return &ValidationError{Reason: ReasonTooShort, Detail: fmt.Sprintf("at least %d characters required", MinLength)}
	}
	if length > MaxLength {
		return &ValidationError{Reason: ReasonTooLong, Detail: fmt.Sprintf("at most %d characters allowed", MaxLength)}
	}
	if hasRepeatedRun(text, MaxRepeatedRun) {
		return &ValidationError{Reason: ReasonRepeated}
	}
	lowered := strings.ToLower(text)
	for _, banned := range denylist {
		if strings.Contains(lowered, banned) {
			return &ValidationError{Reason: ReasonForbidden, Detail: banned}
		}
	}
	return nil
}

// Reason extracts the validation reason from err, or "" when err is not a validation error.
func Reason(err error) string {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Reason
	}
	return ""
}

func hasRepeatedRun(text string, limit int) bool {
	var previous rune
	run := 0
	for index, current := range text {
		if index > 0 && current == previous {
			run++
		} else {
			run = 1
		}
		if run >= limit {
			return true
		}
		previous = current
	}
	return false
}

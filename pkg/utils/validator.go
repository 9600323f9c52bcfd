package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxCommentLength bounds free-text comments stored with transitions
const MaxCommentLength = 1000

var (
	referencePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/\-]{0,63}$`)
	controlChars     = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// ValidateReference checks a dossier reference such as "BANNER-2026/014"
func ValidateReference(ref string) error {
	if !referencePattern.MatchString(ref) {
		return fmt.Errorf("invalid dossier reference: %q", ref)
	}
	return nil
}

// SanitizeString removes control characters other than newlines and tabs,
// trims surrounding space and truncates to MaxCommentLength runes
func SanitizeString(s string) string {
	sanitized := strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
	if utf8.RuneCountInString(sanitized) <= MaxCommentLength {
		return sanitized
	}
	return string([]rune(sanitized)[:MaxCommentLength])
}

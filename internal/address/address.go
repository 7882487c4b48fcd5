// Package address validates, normalizes and keys property addresses.
package address

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Address length limits, in characters.
const (
	MinLength = 5
	MaxLength = 500

	// maxKeyLength keeps document IDs short; Firestore allows up to 1500 bytes.
	maxKeyLength = 100
)

// Validation reasons. They are returned verbatim to API clients.
const (
	ReasonRequired = "Address is required"
	ReasonNotText  = "Address must be a string"
	ReasonEmpty    = "Address cannot be empty"
	ReasonTooShort = "Address is too short"
	ReasonTooLong  = "Address is too long"
)

// ErrInvalidAddress is matched by every ValidationError.
var ErrInvalidAddress = errors.New("invalid address")

// ValidationError describes why an address was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Is makes errors.Is(err, ErrInvalidAddress) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidAddress
}

// NewValidationError returns a ValidationError with the given reason.
func NewValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

var (
	nonAlphanumericPattern = regexp.MustCompile(`[^a-z0-9]`)
	hyphenRunPattern       = regexp.MustCompile(`-+`)
	whitespacePattern      = regexp.MustCompile(`\s+`)
	countrySuffixPattern   = regexp.MustCompile(`(?i),\s*(USA|United States|U\.S\.A\.)$`)
)

// Validate checks a raw address and returns it trimmed.
func Validate(raw string) (string, error) {
	if raw == "" {
		return "", NewValidationError(ReasonRequired)
	}

	trimmed := strings.TrimSpace(raw)
	length := utf8.RuneCountInString(trimmed)

	switch {
	case length == 0:
		return "", NewValidationError(ReasonEmpty)
	case length < MinLength:
		return "", NewValidationError(ReasonTooShort)
	case length > MaxLength:
		return "", NewValidationError(ReasonTooLong)
	}

	return trimmed, nil
}

// Key derives the cache document ID for an address. Addresses differing only
// in case or punctuation share a key.
func Key(addr string) string {
	normalized := strings.TrimSpace(strings.ToLower(addr))
	key := nonAlphanumericPattern.ReplaceAllString(normalized, "-")
	key = hyphenRunPattern.ReplaceAllString(key, "-")
	key = strings.Trim(key, "-")
	if len(key) > maxKeyLength {
		key = key[:maxKeyLength]
	}
	if key == "" {
		// Punctuation-only input would otherwise produce an empty document ID.
		sum := md5.Sum([]byte(normalized))
		return "h-" + hex.EncodeToString(sum[:])
	}
	return key
}

// CleanForProvider strips a trailing country suffix and collapses whitespace
// before the address is sent to the property data provider.
func CleanForProvider(addr string) string {
	cleaned := strings.TrimSpace(addr)
	cleaned = countrySuffixPattern.ReplaceAllString(cleaned, "")
	cleaned = whitespacePattern.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

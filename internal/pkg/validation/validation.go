package validation

import (
	"regexp"
	"strings"
	"unicode"

	"cryptofolio-backend/internal/domain"

	"github.com/google/uuid"
)

// isValidEmail matches /^[^\s@]+@[^\s@]+\.[^\s@]+$/
var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Fullname: letters, spaces, hyphens, apostrophes only.
var fullnameRe = regexp.MustCompile(`^[A-Za-z\s\-']+$`)

var hexAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ENS labels: letters, digits and hyphens, dot separated, ending in a TLD.
var ensNameRe = regexp.MustCompile(`^([a-z0-9-]+\.)+[a-z]{2,}$`)

func IsValidEmail(email string) bool {
	return emailRe.MatchString(email)
}

// IsValidPassword requires:
// - at least 8 characters
// - at least one letter
// - at least one number
// - at least one special character
func IsValidPassword(password string) bool {
	if len(password) < 8 {
		return false
	}
	hasLetter, hasDigit, hasSpecial := false, false, false
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}
	return hasLetter && hasDigit && hasSpecial
}

func IsValidFullname(fullname string) bool {
	return fullname != "" && fullnameRe.MatchString(fullname)
}

// IsHexAddress reports whether s is a 0x-prefixed 20-byte hex address (any case).
func IsHexAddress(s string) bool {
	return hexAddressRe.MatchString(strings.TrimSpace(s))
}

// IsENSName reports whether s looks like a dotted ENS name such as vitalik.eth.
func IsENSName(s string) bool {
	return ensNameRe.MatchString(strings.ToLower(strings.TrimSpace(s)))
}

// ParseID parses a uuid path or body field, reporting a malformed value as an
// invalid argument that names the field.
func ParseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, domain.Invalid("%s must be a valid UUID", field)
	}
	return id, nil
}

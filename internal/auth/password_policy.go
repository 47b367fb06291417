package auth

import (
	"errors"
	"unicode/utf8"
)

// minPasswordLength is the minimum accepted password length.
const minPasswordLength = 7

// PolicyError is a password policy violation with a user-facing message.
// Policy failures are deliberately specific, unlike authentication errors.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return e.Reason
}

// IsPolicyError reports whether err is a password policy violation.
func IsPolicyError(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}

// ValidatePassword checks a candidate password against the account policy:
// minimum 7 characters, at least one uppercase letter, one lowercase
// letter, one number, and one symbol (non-alphanumeric). Checks run in
// that order and the first failure is returned.
func ValidatePassword(password string) error {
	// Length counts characters, not bytes; multibyte runes are one each.
	if utf8.RuneCountInString(password) < minPasswordLength {
		return &PolicyError{Reason: "Password must be at least 7 characters long."}
	}

	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, c := range password {
		switch {
		case c >= 'A' && c <= 'Z':
			hasUpper = true
		case c >= 'a' && c <= 'z':
			hasLower = true
		case c >= '0' && c <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}

	if !hasUpper {
		return &PolicyError{Reason: "Password must contain at least one uppercase letter."}
	}
	if !hasLower {
		return &PolicyError{Reason: "Password must contain at least one lowercase letter."}
	}
	if !hasNumber {
		return &PolicyError{Reason: "Password must contain at least one number."}
	}
	if !hasSymbol {
		return &PolicyError{Reason: "Password must contain at least one symbol."}
	}

	return nil
}

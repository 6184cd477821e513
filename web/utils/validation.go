package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minCurseLength = 10
	maxCurseLength = 400
	minCurseWords  = 3

	minPasswordLength = 8
	maxPasswordLength = 72

	passwordSpecials = "!@#$%^&"
)

// ValidateCurseText checks a posted curse against the pool's posting rules.
// Length limits count characters, not bytes. Returns an empty string when
// the text is acceptable.
func ValidateCurseText(text string) string {
	if strings.TrimSpace(text) == "" {
		return "Cannot send an empty curse"
	}
	if utf8.RuneCountInString(text) <= minCurseLength {
		return "Must be longer than 10 characters"
	}
	if len(strings.Fields(text)) <= minCurseWords {
		return "Must be longer than 3 words"
	}
	if utf8.RuneCountInString(text) >= maxCurseLength {
		return "Must be less than 400 characters"
	}
	return ""
}

// ValidatePassword checks a registration password. Returns an empty string
// when the password is acceptable.
func ValidatePassword(password string) string {
	if len(password) < minPasswordLength {
		return "Password be longer than 8 characters"
	}
	if len(password) > maxPasswordLength {
		return "Password be less than 72 characters"
	}
	if strings.HasPrefix(password, " ") || strings.HasSuffix(password, " ") {
		return "Password must not start or end with empty spaces"
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordSpecials, r):
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return "Password must contain one upper case, lower case, number and special character"
	}
	return ""
}

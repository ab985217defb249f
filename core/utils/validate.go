package utils

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

var (
	passwordMaxLength = 128
	passwordMinLength = 6
	whitespaceRe      = regexp.MustCompile(`\s`)
	numEtuRe          = regexp.MustCompile(`^[A-Za-z0-9_-]{0,32}$`)
)

// NormalizeEmail trims and case-folds an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func ValidateEmail(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 254 {
		return errors.New("invalid email")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return errors.New("invalid email")
	}
	return nil
}

func ValidatePassword(s string) error {
	if len(s) < passwordMinLength {
		return errors.New("password too short (min 6 chars)")
	}
	if len(s) > passwordMaxLength {
		return errors.New("password too long (max 128 chars)")
	}
	if whitespaceRe.MatchString(s) {
		return errors.New("password must not contain spaces")
	}
	return nil
}

func ValidateNumEtu(s string) error {
	if !numEtuRe.MatchString(strings.TrimSpace(s)) {
		return errors.New("invalid numEtu")
	}
	return nil
}

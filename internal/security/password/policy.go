package password

import (
	"strings"
	"unicode/utf8"
)

// Validate applies the password policy: valid UTF-8 without NUL bytes, not
// blank, and a rune length within [MinLength, MaxLength].
func (c Config) Validate(password string) error {
	if !utf8.ValidString(password) || strings.ContainsRune(password, 0) {
		return ErrPasswordMalformed
	}
	if strings.TrimSpace(password) == "" && password != "" {
		return ErrPasswordBlank
	}
	switch n := utf8.RuneCountInString(password); {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	}
	return nil
}

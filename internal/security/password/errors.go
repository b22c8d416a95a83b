package password

import "errors"

var (
	// Policy rejections, safe to show to the user registering the password.
	ErrPasswordTooShort  = errors.New("password too short")
	ErrPasswordTooLong   = errors.New("password too long")
	ErrPasswordBlank     = errors.New("password is only whitespace")
	ErrPasswordMalformed = errors.New("password is not valid text")

	ErrInvalidHash = errors.New("invalid password hash")
	ErrConfig      = errors.New("invalid password config")
)

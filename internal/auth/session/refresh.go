package session

import (
	"crypto/rand"
	"encoding/base64"
	"io"
)

// maxRefreshValueLen bounds presented values before they are hashed.
// 64 bytes of entropy encode to 86 characters.
const maxRefreshValueLen = 512

func newRefreshValue(r io.Reader, nBytes int) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, nBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	// URL-safe, no padding.
	return base64.RawURLEncoding.EncodeToString(b), nil
}

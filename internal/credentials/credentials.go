// Package credentials generates the random access credentials granted to
// a ticket's requester. These gate access to a preview archive and are
// not long-lived secrets.
package credentials

import (
	"crypto/rand"
	"errors"
	"fmt"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const (
	DefaultUsernameLength = 8
	DefaultPasswordLength = 16
)

// ErrInvalidLength is returned when a non-positive length is requested.
var ErrInvalidLength = errors.New("credential length must be at least 1")

// GenerateUsername returns a random alphanumeric username of exactly the
// requested length.
func GenerateUsername(length int) (string, error) {
	return randomString(length)
}

// GeneratePassword returns a random alphanumeric password of exactly the
// requested length.
func GeneratePassword(length int) (string, error) {
	return randomString(length)
}

func randomString(length int) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("%w: got %d", ErrInvalidLength, length)
	}
	out := make([]byte, 0, length)
	buf := make([]byte, length)
	// Rejection sampling keeps the distribution uniform over the alphabet.
	max := byte(256 - (256 % len(alphabet)))
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= max {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

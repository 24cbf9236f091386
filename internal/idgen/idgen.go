// Package idgen hands out prefixed nanoid identifiers for events and tasks.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	EventPrefix = "ev-"
	TaskPrefix  = "tk-"

	// Length counts the random characters after the prefix.
	Length   = 12
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

func EventID() (string, error) { return New(EventPrefix) }

func TaskID() (string, error) { return New(TaskPrefix) }

// New returns prefix followed by Length random alphanumerics.
func New(prefix string) (string, error) {
	s, err := nanoid.Generate(alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %s: %w", prefix, err)
	}
	return prefix + s, nil
}

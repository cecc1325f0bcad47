// Package store persists sessions and person identities. Every backend treats
// an expired record as absent on read, using the request-scoped clock.
package store

import (
	"fmt"

	"bav/pkg/platform/sentinel"
)

const (
	kindSession = "session"
	kindPerson  = "person identity"
)

func errNotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, sentinel.ErrNotFound)
}

func errExpired(kind, id string) error {
	return fmt.Errorf("%s %s: %w: %w", kind, id, sentinel.ErrExpired, sentinel.ErrNotFound)
}

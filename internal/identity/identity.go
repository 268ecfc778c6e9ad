package identity

import (
	"errors"
	"fmt"
	"strings"
)

const maxComponentLength = 190

var (
	// ErrInvalidUsername indicates that a username is empty or exceeds storage bounds.
	ErrInvalidUsername = errors.New("identity: invalid username")
	// ErrInvalidHost indicates that a host is empty or exceeds storage bounds.
	ErrInvalidHost = errors.New("identity: invalid host")
)

// Identity names the authenticated database-server principal. Every persisted
// workspace record is scoped by it so two principals never share state.
type Identity struct {
	Username string
	Host     string
}

// New validates the raw username/host pair and returns an Identity.
func New(rawUsername, rawHost string) (Identity, error) {
	username := strings.TrimSpace(rawUsername)
	if username == "" {
		return Identity{}, fmt.Errorf("%w: empty", ErrInvalidUsername)
	}
	if len(username) > maxComponentLength {
		return Identity{}, fmt.Errorf("%w: exceeds %d characters", ErrInvalidUsername, maxComponentLength)
	}
	host := strings.TrimSpace(rawHost)
	if host == "" {
		return Identity{}, fmt.Errorf("%w: empty", ErrInvalidHost)
	}
	if len(host) > maxComponentLength {
		return Identity{}, fmt.Errorf("%w: exceeds %d characters", ErrInvalidHost, maxComponentLength)
	}
	return Identity{Username: username, Host: host}, nil
}

// Key returns the canonical "user@host" form used to scope storage keys.
func (id Identity) Key() string {
	return id.Username + "@" + id.Host
}

// IsZero reports whether the identity carries no principal.
func (id Identity) IsZero() bool {
	return id.Username == "" && id.Host == ""
}

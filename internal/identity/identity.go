package identity

import (
	"errors"
	"os"
)

// ErrUnauthenticated is returned when no user identity is available.
var ErrUnauthenticated = errors.New("no authenticated user")

// Provider supplies the stable current-user id all engine operations act as.
type Provider interface {
	CurrentUserID() (string, error)
}

// Static is a provider with a fixed user id, as resolved from the
// authentication layer at daemon start.
type Static struct {
	UID string
}

func (s Static) CurrentUserID() (string, error) {
	if s.UID == "" {
		return "", ErrUnauthenticated
	}
	return s.UID, nil
}

// Resolve returns a provider for the configured user id, falling back to a
// local development identity derived from the hostname when none is set.
func Resolve(configuredUID string) Provider {
	if configuredUID != "" {
		return Static{UID: configuredUID}
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return Static{UID: "dev-" + host}
}

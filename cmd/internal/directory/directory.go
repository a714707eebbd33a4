// Package directory defines the membership directory contract consumed by the
// chat, message and notification layers.
//
// The directory itself is an external system: Ember only depends on the
// operations below. InMemoryDirectory is the single conforming implementation
// shipped with the server and doubles as the dev/test stand-in.
package directory

import (
	"context"
	"errors"
)

var (
	// ErrUserNotFound is returned when an id or username cannot be resolved.
	// The orchestration layer also reuses it for membership failures on the
	// hide/read paths so non-members cannot probe chat existence.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidInput is returned for structurally invalid requests.
	ErrInvalidInput = errors.New("invalid input")
)

// User is a directory record. Channel is the user's registered push address
// (websocket or AMQP URI); empty means no online delivery target.
type User struct {
	ID       int64
	Username string
	Channel  string
}

// Directory is the consumed membership contract.
type Directory interface {
	// ResolveUser returns the user with the given id or ErrUserNotFound.
	ResolveUser(ctx context.Context, id int64) (User, error)

	// ResolveUserByName returns the user with the given username or ErrUserNotFound.
	ResolveUserByName(ctx context.Context, name string) (User, error)

	// PickRandomUser returns a user whose id is not in excluding.
	// ok is false when every known user is excluded; that is a valid
	// outcome, not an error.
	PickRandomUser(ctx context.Context, excluding map[int64]struct{}) (User, bool, error)

	// ChannelOf returns the push channel address for the user.
	// ok is false when the user has no registered channel (offline).
	// ErrUserNotFound is returned only when the user itself is unknown.
	ChannelOf(ctx context.Context, userID int64) (string, bool, error)
}

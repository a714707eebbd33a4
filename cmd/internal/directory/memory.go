package directory

import (
	"context"
	"strings"
	"sync"
)

// InMemoryDirectory is a Directory backed by process memory.
//
// Selection policy for PickRandomUser: the first non-excluded user in
// registration order. Deterministic on purpose — matching only needs an
// uncorrelated candidate, and determinism keeps tests and smoke runs stable.
type InMemoryDirectory struct {
	mu     sync.RWMutex
	order  []int64
	users  map[int64]User
	byName map[string]int64
}

// NewInMemoryDirectory constructs an empty directory.
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		users:  make(map[int64]User),
		byName: make(map[string]int64),
	}
}

// Register adds a user with the next id (max existing id + 1, or 1) and
// returns the stored record. Channel may be empty for offline users.
func (d *InMemoryDirectory) Register(username, channel string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, ErrInvalidInput
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byName[username]; ok {
		return User{}, ErrInvalidInput
	}

	var id int64 = 1
	if n := len(d.order); n > 0 {
		id = d.order[n-1] + 1
	}

	u := User{ID: id, Username: username, Channel: channel}
	d.users[id] = u
	d.byName[username] = id
	d.order = append(d.order, id)
	return u, nil
}

// SetChannel updates the push channel of an existing user.
// An empty channel marks the user offline.
func (d *InMemoryDirectory) SetChannel(userID int64, channel string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Channel = channel
	d.users[userID] = u
	return nil
}

// ResolveUser implements Directory.
func (d *InMemoryDirectory) ResolveUser(ctx context.Context, id int64) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// ResolveUserByName implements Directory.
func (d *InMemoryDirectory) ResolveUserByName(ctx context.Context, name string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byName[strings.TrimSpace(name)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return d.users[id], nil
}

// PickRandomUser implements Directory.
func (d *InMemoryDirectory) PickRandomUser(ctx context.Context, excluding map[int64]struct{}) (User, bool, error) {
	if err := ctx.Err(); err != nil {
		return User{}, false, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, id := range d.order {
		if _, skip := excluding[id]; skip {
			continue
		}
		return d.users[id], true, nil
	}
	return User{}, false, nil
}

// ChannelOf implements Directory.
func (d *InMemoryDirectory) ChannelOf(ctx context.Context, userID int64) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[userID]
	if !ok {
		return "", false, ErrUserNotFound
	}
	if u.Channel == "" {
		return "", false, nil
	}
	return u.Channel, true, nil
}

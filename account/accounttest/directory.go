// Package accounttest provides an in-memory account directory for tests.
package accounttest

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"propertyhub/db"
	"propertyhub/errutil"
)

// Directory answers party existence and email lookups.
type Directory struct {
	mu     sync.Mutex
	emails map[string]string
}

func NewDirectory() *Directory {
	return &Directory{emails: map[string]string{}}
}

// Add registers a user and returns its id.
func (d *Directory) Add(email string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.NewString()
	d.emails[id] = email
	return id
}

func (d *Directory) Exists(_ context.Context, _ db.Querier, userID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.emails[userID]
	return ok, nil
}

func (d *Directory) Email(_ context.Context, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	addr, ok := d.emails[userID]
	if !ok {
		return "", oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(errutil.ErrNotFound)
	}
	return addr, nil
}

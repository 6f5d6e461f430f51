package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
)

const lockRetryInterval = 50 * time.Millisecond

// Guard holds the host's exclusive file lock on the durable store. Tests
// mutate the store directly while the live service reads it, so outside of
// the service's own startup the host keeps the lock for the whole session.
type Guard struct {
	lock *flock.Flock
	log  log.Logger
}

// NewGuard prepares a guard for the store at path. The lock itself lives in
// a sidecar file so the store file stays untouched.
func NewGuard(path string, logger log.Logger) *Guard {
	return &Guard{
		lock: flock.New(path + ".lock"),
		log:  logger,
	}
}

// Acquire takes the exclusive lock, retrying until ctx expires.
func (g *Guard) Acquire(ctx context.Context) error {
	ok, err := g.lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return fmt.Errorf("acquiring storage lock %s: %w", g.lock.Path(), err)
	}
	if !ok {
		return fmt.Errorf("storage lock %s is held elsewhere", g.lock.Path())
	}
	g.log.Debug("Acquired storage lock", "path", g.lock.Path())
	return nil
}

// Release drops the lock.
func (g *Guard) Release() error {
	if err := g.lock.Unlock(); err != nil {
		return fmt.Errorf("releasing storage lock %s: %w", g.lock.Path(), err)
	}
	g.log.Debug("Released storage lock", "path", g.lock.Path())
	return nil
}

// Held reports whether this guard currently holds the lock.
func (g *Guard) Held() bool {
	return g.lock.Locked()
}

// WithReleased runs fn with the lock released and reacquires it before
// returning. Reacquisition happens on every path out of fn, including
// failure: the session must never keep running without its lock, and a
// child spawned by fn must never inherit it.
func (g *Guard) WithReleased(ctx context.Context, fn func() error) (err error) {
	if rerr := g.Release(); rerr != nil {
		return rerr
	}
	defer func() {
		if aerr := g.Acquire(ctx); aerr != nil {
			err = errors.Join(err, aerr)
		}
	}()
	return fn()
}

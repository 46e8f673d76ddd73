package security

import (
	"context"
	"fmt"
	"sync"
)

// UserLocker serialises GDPR operations per user so an export and an
// erasure for the same user never interleave. Locks for different users are
// independent.
type UserLocker struct {
	mu    sync.Mutex
	locks map[int64]*userSlot
}

type userSlot struct {
	sem     chan struct{}
	waiters int
}

// NewUserLocker creates an empty locker.
func NewUserLocker() *UserLocker {
	return &UserLocker{locks: make(map[int64]*userSlot)}
}

// Lock blocks until the user's lock is held or ctx is done. The returned
// unlock func must be called exactly once.
func (l *UserLocker) Lock(ctx context.Context, userID int64) (unlock func(), err error) {
	l.mu.Lock()
	slot, ok := l.locks[userID]
	if !ok {
		slot = &userSlot{sem: make(chan struct{}, 1)}
		l.locks[userID] = slot
	}
	slot.waiters++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.sem
				l.release(userID, slot)
			})
		}, nil
	case <-ctx.Done():
		l.release(userID, slot)
		return nil, fmt.Errorf("user lock %d: %w", userID, ctx.Err())
	}
}

func (l *UserLocker) release(userID int64, slot *userSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.waiters--
	if slot.waiters == 0 {
		delete(l.locks, userID)
	}
}

// ActiveCount returns the number of users with held or pending locks.
func (l *UserLocker) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

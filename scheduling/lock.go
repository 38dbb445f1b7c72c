package scheduling

import (
	"context"
	"sync"
	"sync/atomic"
)

type lockKey struct {
	mailboxID string
}

// lockToken marks one acquisition. It stops counting as held once the
// acquisition is released, even if the context lives on.
type lockToken struct {
	held atomic.Bool
}

// mailboxLocks serializes operations per mailbox. A context returned by
// acquire carries the lock, so nested calls with it do not lock again.
type mailboxLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newMailboxLocks() *mailboxLocks {
	return &mailboxLocks{locks: make(map[string]chan struct{})}
}

func (l *mailboxLocks) get(mailboxID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[mailboxID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[mailboxID] = ch
	}
	return ch
}

// acquire blocks until the mailbox lock is held or ctx is done.
func (l *mailboxLocks) acquire(ctx context.Context, mailboxID string) (context.Context, func(), error) {
	if tok, _ := ctx.Value(lockKey{mailboxID}).(*lockToken); tok != nil && tok.held.Load() {
		return ctx, func() {}, nil
	}
	ch := l.get(mailboxID)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	tok := &lockToken{}
	tok.held.Store(true)
	var once sync.Once
	release := func() {
		once.Do(func() {
			tok.held.Store(false)
			<-ch
		})
	}
	return context.WithValue(ctx, lockKey{mailboxID}, tok), release, nil
}

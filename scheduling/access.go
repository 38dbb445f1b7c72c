package scheduling

import (
	"context"
	"sync"

	"github.com/cyp0633/caldora-sched/directory"
)

// Right is a permission on a mailbox.
type Right uint8

const (
	RightRead Right = 1 << iota
	RightWrite
	// RightAction allows replying and otherwise acting on invitations.
	RightAction
	// RightPrivate allows seeing private items.
	RightPrivate

	RightAll = RightRead | RightWrite | RightAction | RightPrivate
)

// Actor is who performs a request: the mailbox owner, or a delegate
// working in the owner's mailbox.
type Actor struct {
	// Account owns the mailbox. Its ID is the mailbox id.
	Account directory.Identity
	// Authenticated issued the request. Empty means the owner.
	Authenticated directory.Identity
}

// MailboxID returns the id of the mailbox the request operates on.
func (a Actor) MailboxID() string {
	return a.Account.ID
}

// Requester returns the identity that issued the request.
func (a Actor) Requester() directory.Identity {
	if a.Authenticated.ID == "" {
		return a.Account
	}
	return a.Authenticated
}

// OnBehalfOf reports whether a delegate acts for the owner.
func (a Actor) OnBehalfOf() bool {
	return a.Authenticated.ID != "" && a.Authenticated.ID != a.Account.ID
}

// Access decides what an actor may do in a mailbox.
type Access interface {
	HasRights(ctx context.Context, actor Actor, rights Right) (bool, error)
	AllowPrivateAccess(ctx context.Context, actor Actor) (bool, error)
}

// StaticAccess grants everything to mailbox owners and explicit grants to
// delegates.
type StaticAccess struct {
	mu     sync.RWMutex
	grants map[string]map[string]Right // mailbox id -> grantee id -> rights
}

// NewStaticAccess creates an access table without delegate grants.
func NewStaticAccess() *StaticAccess {
	return &StaticAccess{grants: make(map[string]map[string]Right)}
}

// Grant gives grantee rights on mailbox.
func (s *StaticAccess) Grant(mailboxID, granteeID string, rights Right) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[mailboxID] == nil {
		s.grants[mailboxID] = make(map[string]Right)
	}
	s.grants[mailboxID][granteeID] |= rights
}

func (s *StaticAccess) HasRights(_ context.Context, actor Actor, rights Right) (bool, error) {
	if !actor.OnBehalfOf() {
		return true, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	granted := s.grants[actor.MailboxID()][actor.Authenticated.ID]
	return granted&rights == rights, nil
}

func (s *StaticAccess) AllowPrivateAccess(ctx context.Context, actor Actor) (bool, error) {
	return s.HasRights(ctx, actor, RightPrivate)
}

package directory

import (
	"context"
	"sync"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/samber/mo"
)

// Static is an in-memory directory.
type Static struct {
	mu         sync.RWMutex
	identities map[string]Identity // key: normalized address or alias
	lists      map[string][]string // key: normalized list address
}

// NewStatic creates an empty directory.
func NewStatic() *Static {
	return &Static{
		identities: make(map[string]Identity),
		lists:      make(map[string][]string),
	}
}

// AddIdentity registers an identity under its address and aliases.
func (s *Static) AddIdentity(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range id.Addresses() {
		s.identities[itip.NormalizeAddress(a)] = id
	}
}

// AddList registers a distribution list with its direct members.
func (s *Static) AddList(address string, members ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[itip.NormalizeAddress(address)] = append([]string(nil), members...)
}

func (s *Static) ResolveIdentity(_ context.Context, address string) (mo.Option[Identity], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[itip.NormalizeAddress(address)]
	if !ok {
		return mo.None[Identity](), nil
	}
	return mo.Some(id), nil
}

func (s *Static) ExpandDistributionList(_ context.Context, address string) (mo.Option[[]string], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.lists[itip.NormalizeAddress(address)]
	if !ok {
		return mo.None[[]string](), nil
	}
	return mo.Some(append([]string(nil), members...)), nil
}

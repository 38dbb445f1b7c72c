// Package directory resolves calendar user addresses to local identities
// and expands distribution lists.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/samber/mo"
)

// ErrUnavailable is returned when the directory backend cannot be reached.
var ErrUnavailable = errors.New("directory unavailable")

// Identity is a local account known to the directory.
type Identity struct {
	// ID doubles as the mailbox id of the account.
	ID               string
	Address          string
	DisplayName      string
	Aliases          []string
	CalendarResource bool
}

// Addresses returns the primary address followed by the aliases.
func (i Identity) Addresses() []string {
	out := make([]string, 0, len(i.Aliases)+1)
	if i.Address != "" {
		out = append(out, i.Address)
	}
	return append(out, i.Aliases...)
}

// Matches reports whether addr is the identity's address or one of its aliases.
func (i Identity) Matches(addr string) bool {
	for _, a := range i.Addresses() {
		if itip.SameAddress(a, addr) {
			return true
		}
	}
	return false
}

// Directory looks up identities and distribution lists.
type Directory interface {
	// ResolveIdentity returns the local identity owning address, if any.
	ResolveIdentity(ctx context.Context, address string) (mo.Option[Identity], error)
	// ExpandDistributionList returns the direct members of the list at
	// address, or None when address is not a distribution list.
	ExpandDistributionList(ctx context.Context, address string) (mo.Option[[]string], error)
}

// IsMember reports whether one of the addresses is a member of list. With
// transitive set, nested lists are expanded; cycles are tolerated.
func IsMember(ctx context.Context, d Directory, list string, addresses []string, transitive bool) (bool, error) {
	visited := make(map[string]bool)
	pending := []string{list}
	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]
		key := itip.NormalizeAddress(cur)
		if visited[key] {
			continue
		}
		visited[key] = true

		members, err := d.ExpandDistributionList(ctx, cur)
		if err != nil {
			return false, fmt.Errorf("failed to expand %s: %w", cur, err)
		}
		for _, m := range members.OrEmpty() {
			for _, a := range addresses {
				if itip.SameAddress(m, a) {
					return true, nil
				}
			}
			if transitive {
				pending = append(pending, m)
			}
		}
	}
	return false, nil
}

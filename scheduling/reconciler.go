package scheduling

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cyp0633/caldora-sched/directory"
	"github.com/cyp0633/caldora-sched/itip"
	"github.com/samber/mo"
)

// Reconciler diffs attendee lists. Local accounts match through their
// aliases and distribution lists can keep an attendee from being removed.
type Reconciler struct {
	dir    directory.Directory
	logger *slog.Logger
}

// NewReconciler creates a reconciler backed by dir.
func NewReconciler(dir directory.Directory, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{dir: dir, logger: logger}
}

// RemovedAttendees returns the attendees of old that are missing from updated.
// With expandLists set, a local account that is a transitive member of a
// distribution list in updated, or a remote address that is a direct member of
// one, is not removed.
func (r *Reconciler) RemovedAttendees(ctx context.Context, old, updated []itip.Attendee, expandLists bool) ([]itip.Attendee, error) {
	idents := make(map[string]mo.Option[directory.Identity])
	resolve := func(addr string) (mo.Option[directory.Identity], error) {
		key := itip.NormalizeAddress(addr)
		if id, ok := idents[key]; ok {
			return id, nil
		}
		id, err := r.dir.ResolveIdentity(ctx, addr)
		if err != nil {
			return mo.None[directory.Identity](), fmt.Errorf("failed to resolve %s: %w", addr, err)
		}
		idents[key] = id
		return id, nil
	}

	var candidates []itip.Attendee
	for _, o := range old {
		id, err := resolve(o.Address)
		if err != nil {
			return nil, err
		}
		found := false
		for _, n := range updated {
			if ident, ok := id.Get(); ok {
				found = ident.Matches(n.Address)
			} else {
				found = itip.SameAddress(o.Address, n.Address)
			}
			if found {
				break
			}
		}
		if !found {
			candidates = append(candidates, o)
		}
	}
	if !expandLists || len(candidates) == 0 {
		return candidates, nil
	}

	for _, n := range updated {
		if len(candidates) == 0 {
			break
		}
		members, err := r.dir.ExpandDistributionList(ctx, n.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to expand %s: %w", n.Address, err)
		}
		if members.IsAbsent() {
			continue
		}
		kept := candidates[:0]
		for _, c := range candidates {
			id, err := resolve(c.Address)
			if err != nil {
				return nil, err
			}
			var member bool
			if ident, ok := id.Get(); ok {
				member, err = directory.IsMember(ctx, r.dir, n.Address, ident.Addresses(), true)
			} else {
				member, err = directory.IsMember(ctx, r.dir, n.Address, []string{c.Address}, false)
			}
			if err != nil {
				return nil, err
			}
			if member {
				r.logger.DebugContext(ctx, "attendee still reachable through distribution list",
					"attendee", c.Address,
					"list", n.Address,
				)
				continue
			}
			kept = append(kept, c)
		}
		candidates = kept
	}
	return candidates, nil
}

// AddedAttendees returns the attendees of updated that old does not have.
// Distribution lists are not expanded.
func (r *Reconciler) AddedAttendees(ctx context.Context, old, updated []itip.Attendee) ([]itip.Attendee, error) {
	return r.RemovedAttendees(ctx, updated, old, false)
}

// IsFullBroadcast reports whether recipients reach anyone beyond the
// newly added attendees.
func IsFullBroadcast(recipients []string, added []itip.Attendee) bool {
	for _, rcpt := range recipients {
		isAdded := false
		for _, at := range added {
			if itip.SameAddress(rcpt, at.Address) {
				isAdded = true
				break
			}
		}
		if !isAdded {
			return true
		}
	}
	return false
}

func attendeeAddresses(ats []itip.Attendee) []string {
	out := make([]string, 0, len(ats))
	for _, at := range ats {
		out = append(out, at.Address)
	}
	return out
}

func containsAddress(addrs []string, addr string) bool {
	for _, a := range addrs {
		if itip.SameAddress(a, addr) {
			return true
		}
	}
	return false
}

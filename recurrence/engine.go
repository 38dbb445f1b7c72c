package recurrence

import (
	"fmt"
	"sort"
	"time"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/teambition/rrule-go"
)

// Engine provides recurrence expansion and exception validation.
type Engine struct {
	cache  *Cache
	config EngineConfig
}

// NewEngine creates an engine with DefaultEngineConfig.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig)
}

// Close stops the cache cleanup goroutine, if any.
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

// Occurrences returns the occurrence start times of info within
// [rangeStart, rangeEnd], sorted and without duplicates.
func (e *Engine) Occurrences(info Info, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	if e.cache != nil {
		if v, ok := e.cache.Get("occurrences", info, rangeStart, rangeEnd); ok {
			return v.([]time.Time), nil
		}
	}

	candidates := []time.Time{info.Start}
	for _, rule := range info.Rules {
		occ, err := e.expandRRule(info.Start, rule, rangeStart, rangeEnd)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, occ...)
	}
	candidates = append(candidates, info.RDates...)

	seen := make(map[int64]bool, len(candidates))
	var out []time.Time
	for _, c := range candidates {
		if c.IsZero() || c.Before(rangeStart) || c.After(rangeEnd) {
			continue
		}
		if seen[c.UnixNano()] || isExcluded(c, info.ExDates) {
			continue
		}
		seen[c.UnixNano()] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	if limit := e.config.MaxOccurrences; limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	if e.cache != nil {
		e.cache.Set("occurrences", info, rangeStart, rangeEnd, out)
	}
	return out, nil
}

// HasOccurrenceInRange reports whether any occurrence of the given duration
// overlaps [rangeStart, rangeEnd].
func (e *Engine) HasOccurrenceInRange(info Info, duration time.Duration, rangeStart, rangeEnd time.Time) (bool, error) {
	occ, err := e.Occurrences(info, rangeStart.Add(-duration), rangeEnd)
	if err != nil {
		return false, fmt.Errorf("failed to check occurrences: %w", err)
	}
	for _, o := range occ {
		if !o.After(rangeEnd) && !o.Add(duration).Before(rangeStart) {
			return true, nil
		}
	}
	return false, nil
}

// IsOccurrence reports whether t is a valid, non-excluded occurrence of
// info. All-day series match on the calendar date.
func (e *Engine) IsOccurrence(info Info, t time.Time) (bool, error) {
	window := time.Second
	if info.AllDay {
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		window = time.Hour
	}
	occ, err := e.Occurrences(info, t.Add(-window), t.Add(window))
	if err != nil {
		return false, err
	}
	for _, o := range occ {
		if info.AllDay {
			if sameDate(o, t) {
				return true, nil
			}
			continue
		}
		if o.Equal(t) {
			return true, nil
		}
	}
	return false, nil
}

// OrphanedExceptions returns the exceptions that no longer belong to the
// series after it changed from oldSeries to newSeries.
func (e *Engine) OrphanedExceptions(oldSeries, newSeries itip.Invite, exceptions []itip.Invite, policy Policy) ([]itip.Invite, error) {
	if len(exceptions) == 0 {
		return nil, nil
	}
	if newSeries.IsCancel() || !newSeries.IsRecurrence() {
		return exceptions, nil
	}

	switch policy {
	case PolicyStrict:
		if timingChanged(oldSeries, newSeries) {
			return exceptions, nil
		}
		return nil, nil
	default:
		oldInfo, newInfo := InfoFromInvite(oldSeries), InfoFromInvite(newSeries)
		var orphaned []itip.Invite
		for _, exc := range exceptions {
			rid, ok := exc.RecurID.Get()
			if !ok {
				continue
			}
			was, err := e.IsOccurrence(oldInfo, rid.Time)
			if err != nil {
				return nil, err
			}
			if !was {
				continue
			}
			still, err := e.IsOccurrence(newInfo, rid.Time)
			if err != nil {
				return nil, err
			}
			if !still {
				orphaned = append(orphaned, exc)
			}
		}
		return orphaned, nil
	}
}

// InviteIsAfterTime reports whether the later of the invite's start and
// RECURRENCE-ID is at or after t. All-day invites get a 24 hour lookback to
// tolerate time zone skew.
func InviteIsAfterTime(inv itip.Invite, t time.Time) bool {
	ref := inv.Start
	if rid, ok := inv.RecurID.Get(); ok && rid.Time.After(ref) {
		ref = rid.Time
	}
	if ref.IsZero() {
		return false
	}
	if inv.AllDay {
		t = t.Add(-24 * time.Hour)
	}
	return !ref.Before(t)
}

func timingChanged(a, b itip.Invite) bool {
	if !a.Start.Equal(b.Start) || a.AllDay != b.AllDay {
		return true
	}
	if a.EffectiveDuration().OrEmpty() != b.EffectiveDuration().OrEmpty() {
		return true
	}
	return !a.Recurrence.OrEmpty().Equal(b.Recurrence.OrEmpty())
}

// expandRRule expands one RRULE within the given range, inclusive.
func (e *Engine) expandRRule(start time.Time, rule string, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	set, err := rrule.StrSliceToRRuleSet([]string{
		"DTSTART:" + start.UTC().Format("20060102T150405Z"),
		"RRULE:" + rule,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE '%s': %w", rule, err)
	}
	return set.Between(rangeStart, rangeEnd, true), nil
}

// isExcluded checks t against EXDATE values. Date-only exclusions (midnight
// UTC) match any occurrence on that date.
func isExcluded(t time.Time, exdates []time.Time) bool {
	for _, ex := range exdates {
		if t.Equal(ex) {
			return true
		}
		if ex.Location() == time.UTC && ex.Hour() == 0 && ex.Minute() == 0 && ex.Second() == 0 && sameDate(t.UTC(), ex) {
			return true
		}
	}
	return false
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

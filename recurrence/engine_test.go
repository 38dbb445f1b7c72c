package recurrence

import (
	"testing"
	"time"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dailySeries(start time.Time, rule string) itip.Invite {
	return itip.Invite{
		UID:        "U1",
		Start:      start,
		End:        start.Add(time.Hour),
		Recurrence: mo.Some(itip.Recurrence{Rules: []string{rule}}),
	}
}

func exceptionAt(t time.Time) itip.Invite {
	return itip.Invite{UID: "U1", RecurID: mo.Some(itip.NewRecurID(t, false)), Start: t}
}

func TestEngine_HasOccurrenceInRange(t *testing.T) {
	engine := NewEngineWithConfig(DisabledCacheConfig)

	masterStart := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		info       Info
		rangeStart time.Time
		rangeEnd   time.Time
		expected   bool
	}{
		{
			name:       "Non-recurring event in range",
			info:       Info{Start: masterStart},
			rangeStart: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
			rangeEnd:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			expected:   true,
		},
		{
			name:       "Non-recurring event out of range",
			info:       Info{Start: masterStart},
			rangeStart: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			rangeEnd:   time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			expected:   false,
		},
		{
			name:       "Daily recurring event with occurrence in range",
			info:       Info{Start: masterStart, Rules: []string{"FREQ=DAILY;COUNT=7"}},
			rangeStart: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			rangeEnd:   time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
			expected:   true,
		},
		{
			name:       "Daily recurring event with no occurrence in range",
			info:       Info{Start: masterStart, Rules: []string{"FREQ=DAILY;COUNT=3"}},
			rangeStart: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			rangeEnd:   time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC),
			expected:   false,
		},
		{
			name: "Only occurrence in range is excluded",
			info: Info{
				Start:   masterStart,
				Rules:   []string{"FREQ=DAILY;COUNT=7"},
				ExDates: []time.Time{time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)},
			},
			rangeStart: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			rangeEnd:   time.Date(2024, 1, 3, 23, 0, 0, 0, time.UTC),
			expected:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.HasOccurrenceInRange(tt.info, time.Hour, tt.rangeStart, tt.rangeEnd)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEngine_OccurrencesWithRDateAndExDate(t *testing.T) {
	engine := NewEngine()
	defer engine.Close()

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	info := Info{
		Start:   start,
		Rules:   []string{"FREQ=DAILY;COUNT=3"},
		RDates:  []time.Time{time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)},
		ExDates: []time.Time{time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)},
	}

	occ, err := engine.Occurrences(info, start, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		start,
		time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
	}, occ)

	cached, err := engine.Occurrences(info, start, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, occ, cached)
}

func TestEngine_InvalidRule(t *testing.T) {
	engine := NewEngineWithConfig(DisabledCacheConfig)
	_, err := engine.Occurrences(Info{Start: time.Now(), Rules: []string{"FREQ=SOMETIMES"}}, time.Now(), time.Now().Add(time.Hour))
	assert.Error(t, err)
}

func TestEngine_IsOccurrence(t *testing.T) {
	engine := NewEngineWithConfig(DisabledCacheConfig)
	start := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	info := Info{Start: start, Rules: []string{"FREQ=WEEKLY;COUNT=4"}}

	ok, err := engine.IsOccurrence(info, start.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = engine.IsOccurrence(info, start.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.False(t, ok)

	allDay := Info{Start: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), AllDay: true, Rules: []string{"FREQ=DAILY;COUNT=2"}}
	ok, err = engine.IsOccurrence(allDay, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEngine_OrphanedExceptions(t *testing.T) {
	engine := NewEngineWithConfig(DisabledCacheConfig)
	start := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	oldSeries := dailySeries(start, "FREQ=DAILY;COUNT=10")
	exceptions := []itip.Invite{exceptionAt(start.AddDate(0, 0, 2)), exceptionAt(start.AddDate(0, 0, 8))}

	t.Run("Untouched rule keeps all exceptions", func(t *testing.T) {
		for _, policy := range []Policy{PolicyExpansion, PolicyStrict} {
			newSeries := oldSeries.Clone()
			newSeries.Summary = "renamed"
			orphaned, err := engine.OrphanedExceptions(oldSeries, newSeries, exceptions, policy)
			require.NoError(t, err)
			assert.Empty(t, orphaned, policy.String())
		}
	})

	t.Run("Series cancellation orphans all exceptions", func(t *testing.T) {
		for _, policy := range []Policy{PolicyExpansion, PolicyStrict} {
			newSeries := oldSeries.Clone()
			newSeries.Status = itip.StatusCancelled
			orphaned, err := engine.OrphanedExceptions(oldSeries, newSeries, exceptions, policy)
			require.NoError(t, err)
			assert.Len(t, orphaned, 2, policy.String())
		}
	})

	t.Run("Shortened series orphans only later exceptions", func(t *testing.T) {
		newSeries := dailySeries(start, "FREQ=DAILY;COUNT=5")
		orphaned, err := engine.OrphanedExceptions(oldSeries, newSeries, exceptions, PolicyExpansion)
		require.NoError(t, err)
		require.Len(t, orphaned, 1)
		assert.True(t, orphaned[0].RecurID.MustGet().Time.Equal(start.AddDate(0, 0, 8)))

		orphaned, err = engine.OrphanedExceptions(oldSeries, newSeries, exceptions, PolicyStrict)
		require.NoError(t, err)
		assert.Len(t, orphaned, 2)
	})
}

func TestInviteIsAfterTime(t *testing.T) {
	ref := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)

	timed := itip.Invite{Start: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	assert.False(t, InviteIsAfterTime(timed, ref), "timed exception an hour earlier is past")

	allDay := itip.Invite{Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), AllDay: true}
	assert.True(t, InviteIsAfterTime(allDay, time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)), "all-day uses 24h lookback")

	moved := itip.Invite{
		Start:   time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
		RecurID: mo.Some(itip.NewRecurID(time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), false)),
	}
	assert.True(t, InviteIsAfterTime(moved, ref), "later recurrence id counts")
}

func TestPolicy_UnmarshalText(t *testing.T) {
	var p Policy
	require.NoError(t, p.UnmarshalText([]byte("STRICT")))
	assert.Equal(t, PolicyStrict, p)
	require.NoError(t, p.UnmarshalText([]byte("")))
	assert.Equal(t, PolicyExpansion, p)
	assert.Error(t, p.UnmarshalText([]byte("loose")))
}

package scheduling

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cyp0633/caldora-sched/directory"
	"github.com/cyp0633/caldora-sched/itip"
	"github.com/cyp0633/caldora-sched/mail"
	"github.com/cyp0633/caldora-sched/storage/memory"
	"github.com/samber/mo"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

var (
	orgIdentity = directory.Identity{
		ID:          "mbox-org",
		Address:     "org@example.com",
		DisplayName: "Olga Organizer",
		Aliases:     []string{"boss@example.com"},
	}
	aIdentity    = directory.Identity{ID: "mbox-a", Address: "a@example.com", DisplayName: "Anna"}
	bIdentity    = directory.Identity{ID: "mbox-b", Address: "b@example.com", DisplayName: "Bert"}
	roomIdentity = directory.Identity{
		ID:               "mbox-room",
		Address:          "room@example.com",
		DisplayName:      "Room 101",
		CalendarResource: true,
	}
	assistant = directory.Identity{ID: "mbox-assistant", Address: "assistant@example.com", DisplayName: "Assistant"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// recordingSender records messages and optionally runs a hook before
// accepting each one.
type recordingSender struct {
	mu   sync.Mutex
	msgs []*mail.Message
	hook func(ctx context.Context, msg *mail.Message) error
}

func (s *recordingSender) Send(ctx context.Context, msg *mail.Message) error {
	if s.hook != nil {
		if err := s.hook(ctx, msg); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSender) messages() []*mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*mail.Message(nil), s.msgs...)
}

func (s *recordingSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
}

type fixture struct {
	engine *Engine
	store  *memory.Store
	dir    *directory.Static
	access *StaticAccess
	sender *recordingSender
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		dir:    directory.NewStatic(),
		access: NewStaticAccess(),
		sender: &recordingSender{},
	}
	for _, id := range []directory.Identity{orgIdentity, aIdentity, bIdentity, roomIdentity, assistant} {
		f.dir.AddIdentity(id)
	}
	base := []Option{
		WithStore(f.store),
		WithDirectory(f.dir),
		WithSender(f.sender),
		WithAccess(f.access),
		WithClock(func() time.Time { return testNow }),
		WithLogger(testLogger()),
	}
	e, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	f.engine = e
	return f
}

func (f *fixture) item(t *testing.T, mailboxID, uid string) *itip.CalendarItem {
	t.Helper()
	item, err := f.store.GetCalendarItemByUID(context.Background(), mailboxID, uid)
	require.NoError(t, err)
	return item
}

func owner(id directory.Identity) Actor {
	return Actor{Account: id}
}

func attendee(addr string) itip.Attendee {
	return itip.Attendee{Address: addr, Role: itip.RoleRequired, PartStat: itip.PartStatNeedsAction, RSVP: true}
}

// meeting is a one hour meeting organized by org, starting tomorrow.
func meeting(uid string, attendees ...string) itip.Invite {
	start := testNow.Add(24 * time.Hour)
	inv := itip.Invite{
		UID:       uid,
		Summary:   "Planning",
		Start:     start,
		End:       start.Add(time.Hour),
		Organizer: mo.Some(itip.Organizer{Address: orgIdentity.Address, CommonName: orgIdentity.DisplayName}),
	}
	for _, a := range attendees {
		inv.Attendees = append(inv.Attendees, attendee(a))
	}
	return inv
}

// dailySeries is meeting repeated daily five times.
func dailySeries(uid string, attendees ...string) itip.Invite {
	inv := meeting(uid, attendees...)
	inv.Recurrence = mo.Some(itip.Recurrence{Rules: []string{"FREQ=DAILY;COUNT=5"}})
	return inv
}

// occurrence returns the RECURRENCE-ID of the n-th occurrence of
// dailySeries, counting from zero.
func occurrence(n int) itip.RecurID {
	return itip.NewRecurID(testNow.Add(24*time.Hour).AddDate(0, 0, n), false)
}

func decode(t *testing.T, msg *mail.Message) (itip.Method, []itip.Invite) {
	t.Helper()
	require.NotEmpty(t, msg.Calendar)
	method, invites, err := itip.Decode(msg.Calendar)
	require.NoError(t, err)
	return method, invites
}

func create(t *testing.T, f *fixture, actor Actor, inv itip.Invite) Result {
	t.Helper()
	res, err := f.engine.Create(context.Background(), CreateRequest{Actor: actor, Invite: inv})
	require.NoError(t, err)
	return res
}

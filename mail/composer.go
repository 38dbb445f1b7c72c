package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/google/uuid"
)

// ErrNoRecipients is returned when a draft has nobody to send to.
var ErrNoRecipients = errors.New("no recipients")

// DefaultComposer renders a plain text body and attaches the calendar.
type DefaultComposer struct {
	Now func() time.Time
}

// NewComposer creates a DefaultComposer using the wall clock.
func NewComposer() *DefaultComposer {
	return &DefaultComposer{Now: time.Now}
}

func (c *DefaultComposer) Compose(_ context.Context, d Draft) (*Message, error) {
	if len(d.To) == 0 {
		return nil, ErrNoRecipients
	}

	msg := &Message{
		ID:        uuid.NewString(),
		Kind:      d.Kind,
		From:      d.From,
		Sender:    d.Sender,
		To:        append([]Address(nil), d.To...),
		Subject:   d.Subject,
		Text:      d.Notes,
		HTML:      d.NotesHTML,
		Method:    d.Method,
		UID:       d.Invite.UID,
		CreatedAt: c.now(),
	}

	if tmpl, ok := d.Template.Get(); ok && tmpl != nil {
		if msg.Subject == "" {
			msg.Subject = tmpl.Subject
		}
		if tmpl.Text != "" {
			msg.Text = strings.TrimSpace(tmpl.Text + "\n\n" + msg.Text)
		}
	}
	if msg.Subject == "" {
		msg.Subject = defaultSubject(d)
	}
	if msg.Text == "" {
		msg.Text = describe(d.Invite)
	}

	if d.Calendar != nil {
		data, err := itip.Encode(d.Calendar)
		if err != nil {
			return nil, fmt.Errorf("compose %s: %w", d.Kind, err)
		}
		msg.Calendar = data
	}
	return msg, nil
}

func (c *DefaultComposer) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func defaultSubject(d Draft) string {
	switch d.Kind {
	case KindCancel:
		return CancelSubject(d.Invite.Summary)
	case KindOrganizerChange:
		return "Organizer changed: " + d.Invite.Summary
	default:
		return d.Invite.Summary
	}
}

func describe(inv itip.Invite) string {
	var b strings.Builder
	if inv.Summary != "" {
		fmt.Fprintf(&b, "Subject: %s\n", inv.Summary)
	}
	if org := inv.OrganizerAddress(); org != "" {
		fmt.Fprintf(&b, "Organizer: %s\n", org)
	}
	if inv.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", inv.Location)
	}
	if !inv.Start.IsZero() {
		layout := "2006-01-02 15:04 MST"
		if inv.AllDay {
			layout = "2006-01-02"
		}
		fmt.Fprintf(&b, "Time: %s\n", inv.Start.Format(layout))
	}
	if len(inv.Attendees) > 0 {
		fmt.Fprintf(&b, "Invitees: %s\n", strings.Join(inv.AttendeeAddresses(), "; "))
	}
	return b.String()
}

// Package mail composes and sends scheduling messages.
package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// Kind tells what a message is for.
type Kind int

const (
	KindInvite Kind = iota
	KindCancel
	KindReply
	KindCounter
	KindDeclineCounter
	KindForward
	KindForwardNotify
	KindOrganizerChange
	KindResourceReply
)

func (k Kind) String() string {
	switch k {
	case KindInvite:
		return "invite"
	case KindCancel:
		return "cancel"
	case KindReply:
		return "reply"
	case KindCounter:
		return "counter"
	case KindDeclineCounter:
		return "declinecounter"
	case KindForward:
		return "forward"
	case KindForwardNotify:
		return "forward-notify"
	case KindOrganizerChange:
		return "organizer-change"
	case KindResourceReply:
		return "resource-reply"
	default:
		return "unknown"
	}
}

// Address is a mailbox address with an optional display name.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%q <%s>", a.Name, a.Email)
}

// Addresses builds addresses from plain emails.
func Addresses(emails ...string) []Address {
	out := make([]Address, 0, len(emails))
	for _, e := range emails {
		out = append(out, Address{Email: e})
	}
	return out
}

// Draft is everything a Composer needs to build a message.
type Draft struct {
	Kind Kind
	From Address
	// Sender is set when the message goes out on behalf of From.
	Sender    mo.Option[Address]
	To        []Address
	Subject   string
	Notes     string
	NotesHTML string
	Method    itip.Method
	Invite    itip.Invite
	Calendar  *ical.Calendar
	// Template is a prior message whose subject and text wrap this one.
	Template mo.Option[*Message]
}

// Message is a composed outbound message.
type Message struct {
	ID        string
	Kind      Kind
	From      Address
	Sender    mo.Option[Address]
	To        []Address
	Subject   string
	Text      string
	HTML      string
	Method    itip.Method
	UID       string
	Calendar  []byte
	CreatedAt time.Time
}

// Recipients returns the recipient emails.
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To))
	for _, a := range m.To {
		out = append(out, a.Email)
	}
	return out
}

// Composer turns drafts into messages.
type Composer interface {
	Compose(ctx context.Context, d Draft) (*Message, error)
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

const cancelPrefix = "Cancelled: "

// CancelSubject prefixes subject with "Cancelled: " unless already present.
func CancelSubject(subject string) string {
	if strings.HasPrefix(subject, cancelPrefix) {
		return subject
	}
	return cancelPrefix + subject
}

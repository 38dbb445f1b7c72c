package itip

import "strings"

// Method is the iTIP method carried by an invite.
type Method int

const (
	MethodPublish Method = iota
	MethodRequest
	MethodCancel
	MethodReply
	MethodCounter
	MethodDeclineCounter
	MethodAdd
)

// String returns the iCalendar METHOD value.
func (m Method) String() string {
	switch m {
	case MethodPublish:
		return "PUBLISH"
	case MethodRequest:
		return "REQUEST"
	case MethodCancel:
		return "CANCEL"
	case MethodReply:
		return "REPLY"
	case MethodCounter:
		return "COUNTER"
	case MethodDeclineCounter:
		return "DECLINECOUNTER"
	case MethodAdd:
		return "ADD"
	default:
		return "UNKNOWN"
	}
}

// ParseMethod parses a METHOD value. Matching is case-insensitive.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PUBLISH":
		return MethodPublish, nil
	case "REQUEST":
		return MethodRequest, nil
	case "CANCEL":
		return MethodCancel, nil
	case "REPLY":
		return MethodReply, nil
	case "COUNTER":
		return MethodCounter, nil
	case "DECLINECOUNTER":
		return MethodDeclineCounter, nil
	case "ADD":
		return MethodAdd, nil
	}
	return 0, NewInvalidRequest("unknown iTIP method " + s)
}

// IsOrganizerMethod reports whether only an organizer may send this method.
func (m Method) IsOrganizerMethod() bool {
	switch m {
	case MethodPublish, MethodRequest, MethodCancel, MethodAdd, MethodDeclineCounter:
		return true
	default:
		return false
	}
}

// Verb is an attendee's answer to an invitation.
type Verb int

const (
	VerbAccept Verb = iota
	VerbDecline
	VerbTentative
)

// ParseVerb parses ACCEPT, DECLINE or TENTATIVE in any case.
func ParseVerb(s string) (Verb, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accept":
		return VerbAccept, nil
	case "decline":
		return VerbDecline, nil
	case "tentative":
		return VerbTentative, nil
	}
	return 0, NewInvalidRequest("Unknown Reply Verb: " + s)
}

func (v Verb) String() string {
	switch v {
	case VerbAccept:
		return "ACCEPT"
	case VerbDecline:
		return "DECLINE"
	case VerbTentative:
		return "TENTATIVE"
	default:
		return "UNKNOWN"
	}
}

// PartStat maps the verb to the participation status it records.
func (v Verb) PartStat() PartStat {
	switch v {
	case VerbAccept:
		return PartStatAccepted
	case VerbDecline:
		return PartStatDeclined
	default:
		return PartStatTentative
	}
}

// SubjectPrefix is the localized prefix used in reply subjects.
func (v Verb) SubjectPrefix() string {
	switch v {
	case VerbAccept:
		return "Accept"
	case VerbDecline:
		return "Decline"
	default:
		return "Tentative"
	}
}

package recurrence

import (
	"fmt"
	"strings"
)

// Policy selects how a series change is judged to orphan its exceptions.
type Policy int

const (
	// PolicyExpansion orphans an exception whose RECURRENCE-ID was an
	// occurrence before the change and is not one after it.
	PolicyExpansion Policy = iota
	// PolicyStrict orphans every exception once DTSTART, the duration or
	// the recurrence definition changes.
	PolicyStrict
)

func (p Policy) String() string {
	if p == PolicyStrict {
		return "strict"
	}
	return "expansion"
}

// UnmarshalText lets the policy be read from environment variables.
func (p *Policy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "expansion":
		*p = PolicyExpansion
	case "strict":
		*p = PolicyStrict
	default:
		return fmt.Errorf("unknown exception policy %q", text)
	}
	return nil
}

package itip

import (
	"errors"
	"fmt"
)

// base holds the fields shared by every scheduling error type.
type base struct {
	message string
	err     error
}

func (b base) error() string {
	if b.err == nil {
		return b.message
	}
	return fmt.Sprintf("%s: %v", b.message, b.err)
}

// Unwrap exposes the underlying error to support errors.Is / errors.As.
func (b base) Unwrap() error {
	return b.err
}

// InviteOutOfDate is returned when a modify or reply refers to a version
// older than the stored one.
type InviteOutOfDate struct {
	base
}

func (e InviteOutOfDate) Error() string { return e.error() }

// NewInviteOutOfDate creates an InviteOutOfDate error.
func NewInviteOutOfDate(message string, err ...error) InviteOutOfDate {
	return InviteOutOfDate{base{message: message, err: errors.Join(err...)}}
}

// MustBeOrganizer is returned when a non-organizer tries to notify others.
type MustBeOrganizer struct {
	base
}

func (e MustBeOrganizer) Error() string { return e.error() }

// NewMustBeOrganizer creates a MustBeOrganizer error.
func NewMustBeOrganizer(message string, err ...error) MustBeOrganizer {
	return MustBeOrganizer{base{message: message, err: errors.Join(err...)}}
}

// NoSuchCalendarItem is returned when the referenced item does not exist.
type NoSuchCalendarItem struct {
	base
}

func (e NoSuchCalendarItem) Error() string { return e.error() }

// NewNoSuchCalendarItem creates a NoSuchCalendarItem error.
func NewNoSuchCalendarItem(message string, err ...error) NoSuchCalendarItem {
	return NoSuchCalendarItem{base{message: message, err: errors.Join(err...)}}
}

// PermissionDenied is returned when access or rights checks fail.
type PermissionDenied struct {
	base
}

func (e PermissionDenied) Error() string { return e.error() }

// NewPermissionDenied creates a PermissionDenied error.
func NewPermissionDenied(message string, err ...error) PermissionDenied {
	return PermissionDenied{base{message: message, err: errors.Join(err...)}}
}

// InvalidRequest is returned for malformed input.
type InvalidRequest struct {
	base
}

func (e InvalidRequest) Error() string { return e.error() }

// NewInvalidRequest creates an InvalidRequest error.
func NewInvalidRequest(message string, err ...error) InvalidRequest {
	return InvalidRequest{base{message: message, err: errors.Join(err...)}}
}

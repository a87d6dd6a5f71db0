// Package identity signs the user in with an external OAuth provider and
// hands the rest of the application a single normalized UserIdentity.
package identity

import (
	"context"
	"errors"
	"fmt"
)

// UserIdentity is the provider profile, normalized once at this boundary
type UserIdentity struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Email      string `json:"email"`
	PhotoURL   string `json:"photo_url,omitempty"`
	IDToken    string `json:"id_token,omitempty"`
}

// DisplayName prefers the given name, then the full name
func (u UserIdentity) DisplayName() string {
	if u.GivenName != "" {
		return u.GivenName
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Outcome is the result of an interactive sign-in.
// Cancelled is set, with a nil error, when the user backed out.
type Outcome struct {
	Identity  *UserIdentity
	Cancelled bool
}

// Provider is the identity boundary used by the application
type Provider interface {
	RestoreSession(ctx context.Context) (*UserIdentity, error)
	SignIn(ctx context.Context) (Outcome, error)
	SignOut(ctx context.Context) error
}

// Code classifies sign-in failures
type Code int

const (
	CodeUnknown Code = iota
	CodeCancelled
	CodeInProgress
	CodeServiceUnavailable
)

func (c Code) String() string {
	switch c {
	case CodeCancelled:
		return "cancelled"
	case CodeInProgress:
		return "in-progress"
	case CodeServiceUnavailable:
		return "service-unavailable"
	default:
		return "unknown"
	}
}

// Error is a classified identity failure
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrInProgress is returned when a sign-in is already running
var ErrInProgress = &Error{Code: CodeInProgress}

// Classify maps any error to one of the closed set of codes
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	var ierr *Error
	if errors.As(err, &ierr) {
		return ierr.Code
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}
	return CodeUnknown
}

// Message returns the text shown to the user for a sign-in failure
func Message(err error) string {
	switch Classify(err) {
	case CodeCancelled:
		return "Sign-in was cancelled"
	case CodeInProgress:
		return "Sign-in is already in progress"
	case CodeServiceUnavailable:
		return "Google sign-in service is not available"
	}
	var ierr *Error
	if errors.As(err, &ierr) && ierr.Err != nil {
		return ierr.Err.Error()
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return "Unknown error occurred"
}

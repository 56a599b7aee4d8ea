// Package apierr attaches an HTTP status and a stable code to a service
// error without hiding the cause from errors.Is.
package apierr

import (
	"errors"
	"fmt"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err != nil:
		return e.Err.Error()
	case e.Code != "":
		return e.Code
	default:
		return fmt.Sprintf("api error (%d)", e.Status)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New uses code as the message when err is nil.
func New(status int, code string, err error) *Error {
	if err == nil {
		err = errors.New(code)
	}
	return &Error{Status: status, Code: code, Err: err}
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

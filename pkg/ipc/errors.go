package ipc

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	// CodeUnavailable means a capability the action needs is not connected
	CodeUnavailable = "unavailable"
	// CodeBadParameter means the request carried an invalid field
	CodeBadParameter = "bad-parameter"
)

// ErrNotFound is returned by a Directory that has no endpoint for a name.
var ErrNotFound = errors.New("service not found")

// ErrLost is reported when the connection to a service drops.
var ErrLost = errors.New("service connection lost")

// Coder is implemented by handler errors that carry a machine readable code.
type Coder interface {
	Code() string
}

// ServiceError is returned by Client.Call when the server answers ok=false.
type ServiceError struct {
	Service string
	Action  string
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s.%s failed (%s): %s", e.Service, e.Action, e.Code, e.Message)
	}
	return fmt.Sprintf("%s.%s failed: %s", e.Service, e.Action, e.Message)
}

// WithCode attaches a wire error code to err. errors.Cause still reaches the
// original error.
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code string
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Code() string  { return e.code }
func (e *codedError) Cause() error  { return e.err }

// ErrorCode returns the first code found walking err's cause chain, or "".
func ErrorCode(err error) string {
	for err != nil {
		switch v := err.(type) {
		case *ServiceError:
			return v.Code
		case Coder:
			return v.Code()
		}
		causer, ok := err.(interface{ Cause() error })
		if !ok {
			return ""
		}
		err = causer.Cause()
	}
	return ""
}

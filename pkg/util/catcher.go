package util

import (
	"fmt"

	"github.com/pkg/errors"
)

// CatchErrs runs fn and converts a panic inside it into an error. The radio
// driver panics on some HCI failures instead of returning them.
func CatchErrs(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = errors.Wrap(v, "recovered panic")
			default:
				err = errors.New(fmt.Sprintf("recovered panic: %v", v))
			}
		}
	}()
	return fn()
}

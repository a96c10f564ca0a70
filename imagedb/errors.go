package imagedb

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrDecode        = errors.New("imagedb: image cannot be decoded")
	ErrStorage       = errors.New("imagedb: storage failure")
	ErrClosed        = errors.New("imagedb: index closed")
	ErrInvalidConfig = errors.New("imagedb: invalid config")
)

// Error wraps errors with operation context.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("imagedb.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrapError tags err with op and the sentinel kind.
func wrapError(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	if kind != nil && !errors.Is(err, kind) {
		err = fmt.Errorf("%w: %w", kind, err)
	}
	return &Error{Op: op, Err: err}
}

package document

import "fmt"

// ValidationError reports malformed or out-of-bound input. The client can
// recover by resubmitting corrected input.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// NotFoundError reports a mutation targeting a page that does not exist.
type NotFoundError struct {
	msg string
}

func (e *NotFoundError) Error() string { return e.msg }

func validationErr(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

func notFoundErr(format string, args ...any) error {
	return &NotFoundError{msg: fmt.Sprintf(format, args...)}
}

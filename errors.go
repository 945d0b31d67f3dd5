package bramble

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("the requested entity could not be found")
	ErrMissingKey          = errors.New("entity type has no resolvable key descriptor")
	ErrMissingKeyValue     = errors.New("entity key value could not be read")
	ErrMultipleMatches     = errors.New("more than one entity matched a single-result query")
	ErrConstraintViolation = errors.New("a uniqueness constraint was violated")
	ErrDB                  = errors.New("an error occured with the DB")
	ErrBadArgument         = errors.New("one or more of the arguments is invalid")
	ErrSessionClosed       = errors.New("the session has already been closed")
)

// Error is a typed error returned by bramble functions as their error value.
// It contains both a message explaining what happened as well as one or more
// error values it considers to be its causes. Error is compatible with the
// use of errors.Is() - calling errors.Is on some Error value err along with
// any value of error it holds as one of its causes will return true. This
// allows for easy examination and failure condition checking without needing
// to resort to manual typecasting.
//
// If Error has at least one cause defined, the result of calling
// Error.Error() will be its primary message with the result of calling
// Error() on its first cause appended to it.
//
// Error should not be used directly; call NewError to create one.
type Error struct {
	msg   string
	cause []error
}

// Error returns the message defined for the Error. If a message was defined
// for it when created, that message is returned, concatenated with the result
// of calling Error() on its first cause if one is defined. If no message or
// an empty message was defined for it when created, but there is at least one
// cause defined for it, the result of calling Error() on the first cause is
// returned. If no message is defined and no causes are defined, returns the
// empty string.
func (e Error) Error() string {
	if e.msg == "" && e.cause != nil {
		return e.cause[0].Error()
	}

	if e.cause != nil {
		return e.msg + ": " + e.cause[0].Error()
	}

	return e.msg
}

// Is returns whether Error either Is itself the given target error, or one of
// its causes is.
//
// This function is for interaction with the errors API.
func (e Error) Is(target error) bool {
	// is the target error itself?
	if errTarget, ok := target.(Error); ok {
		if e.msg == errTarget.msg {
			if len(e.cause) == len(errTarget.cause) {
				allCausesEqual := true
				for i := range e.cause {
					if e.cause[i] != errTarget.cause[i] {
						allCausesEqual = false
						break
					}
				}
				if allCausesEqual {
					return true
				}
			}
		}
	}

	// otherwise, check if any cause matches target
	for i := range e.cause {
		if errors.Is(e.cause[i], target) {
			return true
		}
	}
	return false
}

// NewError creates a new Error with the given message, along with any errors
// it should wrap as its causes. Providing cause errors is not required, but
// will cause it to return true when it is checked against that error via a
// call to errors.Is.
func NewError(msg string, causes ...error) Error {
	err := Error{msg: msg}
	if len(causes) > 0 {
		err.cause = make([]error, len(causes))
		copy(err.cause, causes)
	}
	return err
}

// WrapDBError creates a new Error that wraps the given error as a cause and
// automatically adds ErrDB as another cause. A user-set message may be
// provided if desired with msg, but it may be left as "".
//
// Store packages should call this on any error coming back from their engine
// before handing it to a caller, after first converting engine-specific
// errors to the appropriate bramble sentinel where one applies.
func WrapDBError(err error, msg ...any) Error {
	var errMsg string
	if len(msg) > 0 {
		errMsg = fmt.Sprint(msg...)
	}

	return Error{
		msg:   errMsg,
		cause: []error{err, ErrDB},
	}
}

// NotFoundError is returned from the Required lookup variants and from
// key-based deletion when no entity with the given key exists. It matches
// ErrNotFound under errors.Is.
//
// KeyField is only set when the failing operation resolved the entity's key
// descriptor before looking it up; Reader.FindRequired never resolves it,
// Reader.GetRequired always does. The message is not built until Error is
// called and varies on whether KeyField is known.
type NotFoundError struct {
	Entity   string
	Keys     []any
	KeyField string
}

func (e NotFoundError) Error() string {
	if e.KeyField != "" {
		return fmt.Sprintf("%s with %s %s does not exist", e.Entity, e.KeyField, formatKeys(e.Keys))
	}
	if len(e.Keys) == 0 {
		return fmt.Sprintf("%s does not exist", e.Entity)
	}
	return fmt.Sprintf("%s with key %s does not exist", e.Entity, formatKeys(e.Keys))
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func formatKeys(keys []any) string {
	if len(keys) == 1 {
		return fmt.Sprintf("%v", keys[0])
	}

	var sb strings.Builder
	sb.WriteRune('(')
	for i := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%v", keys[i])
	}
	sb.WriteRune(')')
	return sb.String()
}

// MissingKeyError is returned when an entity type is absent from the model or
// has no declared primary key. It indicates a configuration problem, not a
// data problem, and matches ErrMissingKey under errors.Is.
type MissingKeyError struct {
	Entity string
}

func (e MissingKeyError) Error() string {
	return fmt.Sprintf("entity type %s has no key descriptor in the model", e.Entity)
}

func (e MissingKeyError) Is(target error) bool {
	return target == ErrMissingKey
}

// MissingKeyValueError is returned when the primary-key value cannot be read
// off a live entity that is expected to be persisted, such as an entity with
// an unset key handed to an update or removal. It matches ErrMissingKeyValue
// under errors.Is.
type MissingKeyValueError struct {
	Entity   string
	KeyField string
}

func (e MissingKeyValueError) Error() string {
	return fmt.Sprintf("%s entity has no value set for key field %s", e.Entity, e.KeyField)
}

func (e MissingKeyValueError) Is(target error) bool {
	return target == ErrMissingKeyValue
}

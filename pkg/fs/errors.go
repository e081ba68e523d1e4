package fs

import (
	"errors"
	"fmt"
)

// StoreError represents a domain error from storage engine operations.
//
// Message is the client-facing description and is what the line protocol
// prints after "ERROR: ". Err carries the underlying cause for I/O and
// corruption errors and is exposed through Unwrap.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Name is the file name related to the error (if applicable)
	Name string

	// Err is the wrapped cause (if any)
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the wrapped cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// ErrorCode represents the category of a storage engine error.
//
// The line adapter maps every code to an "ERROR: <message>" reply; metrics
// label failed commands with ErrorCode.String().
type ErrorCode int

const (
	// ErrInvalidArgument indicates a malformed file name
	ErrInvalidArgument ErrorCode = iota

	// ErrNotFound indicates the named file does not exist
	ErrNotFound

	// ErrAlreadyExists indicates a file with the name already exists
	ErrAlreadyExists

	// ErrNoSpace indicates the inode table, the data blocks or the chain
	// slots are exhausted
	ErrNoSpace

	// ErrIOError indicates the device failed a read, write or sync
	ErrIOError

	// ErrCorrupt indicates the metadata region could not be decoded
	ErrCorrupt
)

// String returns the lowercase name of the code, used as a metrics label.
func (c ErrorCode) String() string {
	switch c {
	case ErrInvalidArgument:
		return "invalid_argument"
	case ErrNotFound:
		return "not_found"
	case ErrAlreadyExists:
		return "already_exists"
	case ErrNoSpace:
		return "no_space"
	case ErrIOError:
		return "io_error"
	case ErrCorrupt:
		return "corrupt"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

func errInvalidName(name string) *StoreError {
	return &StoreError{Code: ErrInvalidArgument, Message: "invalid filename", Name: name}
}

func errNotFound(name string) *StoreError {
	return &StoreError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("file %s does not exist", name),
		Name:    name,
	}
}

func errAlreadyExists(name string) *StoreError {
	return &StoreError{
		Code:    ErrAlreadyExists,
		Message: fmt.Sprintf("file %s already exists", name),
		Name:    name,
	}
}

func errNoInode() *StoreError {
	return &StoreError{Code: ErrNoSpace, Message: "no space for more files"}
}

func errTooLarge(name string) *StoreError {
	return &StoreError{Code: ErrNoSpace, Message: "file too large", Name: name}
}

func errIO(op string, err error) *StoreError {
	return &StoreError{Code: ErrIOError, Message: "I/O error during " + op, Err: err}
}

func errCorrupt(format string, args ...any) *StoreError {
	return &StoreError{Code: ErrCorrupt, Message: "corrupt metadata", Err: fmt.Errorf(format, args...)}
}

// CodeOf returns the ErrorCode of err if it is (or wraps) a *StoreError.
func CodeOf(err error) (ErrorCode, bool) {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Code, true
	}
	return 0, false
}

func hasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsInvalidArgument reports whether err is an ErrInvalidArgument StoreError.
func IsInvalidArgument(err error) bool { return hasCode(err, ErrInvalidArgument) }

// IsNotFound reports whether err is an ErrNotFound StoreError.
func IsNotFound(err error) bool { return hasCode(err, ErrNotFound) }

// IsAlreadyExists reports whether err is an ErrAlreadyExists StoreError.
func IsAlreadyExists(err error) bool { return hasCode(err, ErrAlreadyExists) }

// IsNoSpace reports whether err is an ErrNoSpace StoreError.
func IsNoSpace(err error) bool { return hasCode(err, ErrNoSpace) }

// IsIOError reports whether err is an ErrIOError StoreError.
func IsIOError(err error) bool { return hasCode(err, ErrIOError) }

// IsCorrupt reports whether err is an ErrCorrupt StoreError.
func IsCorrupt(err error) bool { return hasCode(err, ErrCorrupt) }

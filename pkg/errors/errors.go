package errors

import (
	stderrors "errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind groups root errors by how a caller is expected to react to them.
type Kind int

const (
	// KindInternal is assigned to every error that does not wrap a registered root error.
	KindInternal Kind = iota
	// KindValidation means bad input shape or range. Never retry.
	KindValidation
	// KindConflict means the store already holds a conflicting record.
	KindConflict
	// KindTransient means the store could not be reached. Retry with backoff.
	KindTransient
	// KindProtocol means a signature or broadcast failed. The proposal is dead.
	KindProtocol
	// KindNotFound means a lookup returned no record.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindProtocol:
		return "protocol"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

var (
	// ErrInvalidThreshold is returned when a threshold is below one or above the member count.
	ErrInvalidThreshold = Register(2, KindValidation, "invalid threshold")

	// ErrDuplicateKey is returned when two members share the same raw key bytes.
	ErrDuplicateKey = Register(3, KindValidation, "duplicate public key")

	// ErrInvalidPubKey is returned for keys that are not compressed secp256k1 points.
	ErrInvalidPubKey = Register(4, KindValidation, "invalid public key")

	// ErrMalformed is returned when a descriptor or account fails validation before reaching the store.
	ErrMalformed = Register(5, KindValidation, "malformed multisig")

	// ErrInvalidInput stands for general input problems
	ErrInvalidInput = Register(6, KindValidation, "invalid input")

	// ErrEmptyAmount is returned for zero value transfers and delegations.
	ErrEmptyAmount = Register(7, KindValidation, "empty amount")

	// ErrNegativeAmount is returned when amount, fee or gas is negative.
	ErrNegativeAmount = Register(8, KindValidation, "negative amount")

	// ErrAlreadyExists is returned when a multisig with the derived address is already registered.
	ErrAlreadyExists = Register(9, KindConflict, "multisig already exists")

	// ErrVersionConflict is returned when a proposal changed between load and update.
	ErrVersionConflict = Register(10, KindConflict, "version conflict")

	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	ErrStoreUnavailable = Register(11, KindTransient, "store unavailable")

	// ErrNotFound is used when a requested record does not exist.
	ErrNotFound = Register(12, KindNotFound, "not found")

	// ErrInvalidSignature is returned when a member signature does not verify.
	ErrInvalidSignature = Register(13, KindProtocol, "invalid signature")

	// ErrNotMember is returned when a signature comes from a key outside the descriptor.
	ErrNotMember = Register(14, KindProtocol, "signer is not a member")

	// ErrBroadcastRejected is returned when the broadcast collaborator rejects a transaction.
	ErrBroadcastRejected = Register(15, KindProtocol, "broadcast rejected")

	// ErrTerminalState is returned for any transition attempted out of BROADCAST or FAILED.
	ErrTerminalState = Register(16, KindProtocol, "proposal is in a terminal state")

	// ErrInvalidState is returned when a transition is not allowed from the current state.
	ErrInvalidState = Register(17, KindValidation, "invalid state")

	// ErrEventDropped is returned when an event could not be queued for listeners.
	ErrEventDropped = Register(18, KindTransient, "event dropped")
)

// usedCodes keeps error codes unique. Code 1 is reserved for unregistered errors.
var usedCodes = map[uint32]*Error{
	1: nil,
}

// Register returns a root error. Call it only during program initialization;
// reusing a code panics.
func Register(code uint32, kind Kind, description string) *Error {
	if e, ok := usedCodes[code]; ok {
		panic(fmt.Sprintf("error with code %d is already registered: %q", code, e.desc))
	}
	err := &Error{
		code: code,
		kind: kind,
		desc: description,
	}
	usedCodes[err.code] = err
	return err
}

// Error is a root error. Every error produced at runtime should wrap one of
// the registered root errors so callers can branch on Kind.
type Error struct {
	code uint32
	kind Kind
	desc string
}

func (e *Error) Error() string {
	return e.desc
}

// Code returns the registered code.
func (e *Error) Code() uint32 {
	return e.code
}

// Kind returns the category of the root error.
func (e *Error) Kind() Kind {
	return e.kind
}

// New wraps the root error with a description.
func (e *Error) New(description string) error {
	return Wrap(e, description)
}

// Newf is New with formatting.
func (e *Error) Newf(format string, args ...interface{}) error {
	return Wrapf(e, format, args...)
}

// Is reports whether err wraps this root error.
func (e *Error) Is(err error) bool {
	if e == nil {
		return err == nil
	}
	for err != nil {
		if root, ok := err.(*Error); ok && root == e {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Wrap annotates err with a message and a stack trace. Nil stays nil.
func Wrap(err error, description string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, description)
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrapf(err, format, args...)
}

// KindOf returns the Kind of the root error wrapped by err.
func KindOf(err error) Kind {
	var root *Error
	if stderrors.As(err, &root) {
		return root.kind
	}
	return KindInternal
}

// IsRetryable reports whether a caller may retry the failed operation.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsValidation reports whether err is an input error that never reached a store.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

package inventory

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnknownItem          Code = "UNKNOWN_ITEM"
	CodeSlotsExceeded        Code = "SLOTS_EXCEEDED"
	CodeWeightExceeded       Code = "WEIGHT_EXCEEDED"
	CodeInsufficientQuantity Code = "INSUFFICIENT_QUANTITY"
	CodeStackNotFound        Code = "STACK_NOT_FOUND"
	CodeInvalidSplit         Code = "INVALID_SPLIT"
	CodeMismatchedItem       Code = "MISMATCHED_ITEM"
	CodeNotStackable         Code = "NOT_STACKABLE"
	CodeAlreadyFull          Code = "ALREADY_FULL"
	CodeNoUsageDefined       Code = "NO_USAGE_DEFINED"
	CodeItemBroken           Code = "ITEM_BROKEN"
	CodeNoHandlersRegistered Code = "NO_HANDLERS_REGISTERED"
	CodeInvalidQuantity      Code = "INVALID_QUANTITY"
	CodeDataNotAllowed       Code = "DATA_NOT_ALLOWED"
)

// Error is a categorical failure. Branch on Code (or errors.Is against the sentinels),
// never on Message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrUnknownItem          = &Error{CodeUnknownItem, "base item does not exist"}
	ErrSlotsExceeded        = &Error{CodeSlotsExceeded, "exceeded available slot count"}
	ErrWeightExceeded       = &Error{CodeWeightExceeded, "exceeded available weight"}
	ErrInsufficientQuantity = &Error{CodeInsufficientQuantity, "not enough quantity of item"}
	ErrStackNotFound        = &Error{CodeStackNotFound, "item does not exist"}
	ErrInvalidSplit         = &Error{CodeInvalidSplit, "item cannot be split"}
	ErrMismatchedItem       = &Error{CodeMismatchedItem, "both items were not the same, and cannot be stacked"}
	ErrNotStackable         = &Error{CodeNotStackable, "item cannot be stacked"}
	ErrAlreadyFull          = &Error{CodeAlreadyFull, "item is already at max stack"}
	ErrNoUsageDefined       = &Error{CodeNoUsageDefined, "base item does not have a usage callback"}
	ErrItemBroken           = &Error{CodeItemBroken, "item is broken"}
	ErrNoHandlersRegistered = &Error{CodeNoHandlersRegistered, "no handlers registered for usage event"}
	ErrInvalidQuantity      = &Error{CodeInvalidQuantity, "quantity must be positive"}
	ErrDataNotAllowed       = &Error{CodeDataNotAllowed, "custom data cannot be added to stackable items"}
)

func fail(base *Error, format string, args ...any) *Error {
	return &Error{Code: base.Code, Message: base.Message + ": " + fmt.Sprintf(format, args...)}
}

// CodeOf extracts the category of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

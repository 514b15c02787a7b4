package protocol

import (
	"errors"

	"itemmanager.ai/internal/inventory"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrBadOp           = "E_BAD_OP"

	// Inventory rules.
	ErrUnknownItem          = "E_UNKNOWN_ITEM"
	ErrSlotsExceeded        = "E_SLOTS_EXCEEDED"
	ErrWeightExceeded       = "E_WEIGHT_EXCEEDED"
	ErrInsufficientQuantity = "E_INSUFFICIENT_QUANTITY"
	ErrStackNotFound        = "E_STACK_NOT_FOUND"
	ErrInvalidSplit         = "E_INVALID_SPLIT"
	ErrMismatchedItem       = "E_MISMATCHED_ITEM"
	ErrNotStackable         = "E_NOT_STACKABLE"
	ErrAlreadyFull          = "E_ALREADY_FULL"
	ErrNoUsageDefined       = "E_NO_USAGE_DEFINED"
	ErrItemBroken           = "E_ITEM_BROKEN"
	ErrNoHandlers           = "E_NO_HANDLERS"
	ErrInvalidQuantity      = "E_INVALID_QUANTITY"
	ErrDataNotAllowed       = "E_DATA_NOT_ALLOWED"

	ErrInternal = "E_INTERNAL"
)

var inventoryCodes = map[inventory.Code]string{
	inventory.CodeUnknownItem:          ErrUnknownItem,
	inventory.CodeSlotsExceeded:        ErrSlotsExceeded,
	inventory.CodeWeightExceeded:       ErrWeightExceeded,
	inventory.CodeInsufficientQuantity: ErrInsufficientQuantity,
	inventory.CodeStackNotFound:        ErrStackNotFound,
	inventory.CodeInvalidSplit:         ErrInvalidSplit,
	inventory.CodeMismatchedItem:       ErrMismatchedItem,
	inventory.CodeNotStackable:         ErrNotStackable,
	inventory.CodeAlreadyFull:          ErrAlreadyFull,
	inventory.CodeNoUsageDefined:       ErrNoUsageDefined,
	inventory.CodeItemBroken:           ErrItemBroken,
	inventory.CodeNoHandlersRegistered: ErrNoHandlers,
	inventory.CodeInvalidQuantity:      ErrInvalidQuantity,
	inventory.CodeDataNotAllowed:       ErrDataNotAllowed,
}

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadOp:           {},
	ErrInternal:        {},
}

func init() {
	for _, c := range inventoryCodes {
		knownCodes[c] = struct{}{}
	}
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps an operation error to its wire code. Errors without an inventory category
// are reported as E_INTERNAL.
func CodeFor(err error) string {
	if err == nil {
		return ""
	}
	var ie *inventory.Error
	if errors.As(err, &ie) {
		if c, ok := inventoryCodes[ie.Code]; ok {
			return c
		}
	}
	return ErrInternal
}

package checkout

import "errors"

var (
	ErrMissingIdempotencyKey = errors.New("missing idempotency key")
	ErrInvalidCart           = errors.New("invalid cart")
	ErrCartTooLarge          = errors.New("cart too large for one settlement")
	ErrNotFound              = errors.New("purchase request or item not found")
	ErrForbidden             = errors.New("purchase request belongs to another buyer")
	ErrOwnItem               = errors.New("cannot buy your own item")
	ErrRequestConflict       = errors.New("purchase request is not ready for checkout")
	ErrItemUnavailable       = errors.New("item is no longer available")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInProgress            = errors.New("checkout with this key is in progress")
	ErrConflict              = errors.New("concurrent update to the cart's records, retry")
)

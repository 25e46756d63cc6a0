package cart

import "errors"

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrItemNotFound    = errors.New("cart item not found")
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrExceedsStock is returned when a quantity would pass the product's maximum.
	ErrExceedsStock = errors.New("quantity exceeds available stock")
	ErrUnavailable  = errors.New("cart backend unavailable")
)

package lifecycle

import "errors"

var (
	ErrUnknownDelivery  = errors.New("unknown delivery")
	ErrDisabled         = errors.New("delivery disabled")
	ErrOutsideDateRange = errors.New("outside delivery date range")
	ErrAlreadyActive    = errors.New("delivery already active")
	ErrNoItemsAvailable = errors.New("no category or item available")
	ErrNotActive        = errors.New("delivery not active")
)

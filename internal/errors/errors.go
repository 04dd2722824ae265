// Package errors provides sentinel errors of the storefront service.
package errors

import "errors"

var ErrSlotNotFound = errors.New("storage slot not found")
var ErrQuotaExceeded = errors.New("storage quota exceeded")
var ErrStorageUnavailable = errors.New("storage unavailable")

var ErrProductNotFound = errors.New("product not found")
var ErrUserNotFound = errors.New("user not found")
var ErrUpstream = errors.New("backend request failed")

var ErrEmptyCart = errors.New("cart is empty")
var ErrCheckoutFailed = errors.New("checkout failed")
var ErrOrderAlreadyPlaced = errors.New("order already placed for this cart")

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	ErrNotFound          = errors.New("payment not found")
	ErrInvalidRequest    = errors.New("invalid payment request")
	ErrInvalidOTP        = errors.New("invalid one-time code")
)

func invalidRequest(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, reason)
}

// UnsupportedMethod wraps ErrUnsupportedMethod with the offending method.
func UnsupportedMethod(method string) error {
	return fmt.Errorf("%w '%s'", ErrUnsupportedMethod, method)
}

package mywallet

import (
	"fmt"
	"strings"

	"github.com/dmehra2102/payment-aggregator/internal/payment/domain"
)

const (
	minOTPLength = 4
	maxOTPLength = 8
)

// ValidateOTP checks the customer one-time code before any network call.
func ValidateOTP(otp *string) error {
	if otp == nil || strings.TrimSpace(*otp) == "" {
		return fmt.Errorf("%w: MyWallet payments require a one-time code", domain.ErrInvalidOTP)
	}
	code := strings.TrimSpace(*otp)
	if len(code) < minOTPLength || len(code) > maxOTPLength {
		return fmt.Errorf("%w: one-time code must be %d to %d digits", domain.ErrInvalidOTP, minOTPLength, maxOTPLength)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: one-time code must be numeric", domain.ErrInvalidOTP)
		}
	}
	return nil
}

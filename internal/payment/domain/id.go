package domain

import (
	"strings"

	"github.com/google/uuid"
)

// NewPaymentID returns a provider-namespaced id such as "ecocash_1f3a9c0b2d".
func NewPaymentID(method string) string {
	return method + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

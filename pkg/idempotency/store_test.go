package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	s := NewStore(nil, "callback", time.Hour)
	assert.Equal(t, "callback:mpesa_1a2b:success", s.Key("mpesa_1a2b", "success"))
}

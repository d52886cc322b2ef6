package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dkeye/MusicRoom/internal/domain"
)

func TestActionRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewActionRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"), "users are limited independently")

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, rl.Allow("alice"))

}

func TestActionRateLimiter_Disabled(t *testing.T) {
	rl := NewActionRateLimiter(0, time.Second)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("alice"))
	}
}

func TestActionRateLimiter_ForgetsIdleUsers(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewActionRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"))
	assert.Len(t, rl.history, 2)

	now = now.Add(2 * time.Second)
	assert.True(t, rl.Allow("bob"))
	assert.NotContains(t, rl.history, domain.UserID("alice"))
	assert.Len(t, rl.history, 1)
}

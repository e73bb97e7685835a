package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowMessage_PermitsUpToLimit(t *testing.T) {
	c := newTestConn("s1")
	for i := 0; i < maxMessagesPerMinute; i++ {
		assert.True(t, c.allowMessage(), "message %d should be within the per-minute budget", i)
	}
	assert.False(t, c.allowMessage(), "message over the per-minute budget should be rejected")
}

func TestAllowMessage_WindowResetsAfterRollover(t *testing.T) {
	c := newTestConn("s1")
	c.rateCount = maxMessagesPerMinute
	c.rateWindow = time.Now().Add(-2 * time.Minute)

	assert.True(t, c.allowMessage())
}

func TestIsMobileUserAgent_RecognizesCommonTokens(t *testing.T) {
	assert.True(t, IsMobileUserAgent("Mozilla/5.0 (Linux; Android 14)"))
	assert.True(t, IsMobileUserAgent("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)"))
	assert.True(t, IsMobileUserAgent("Mozilla/5.0 (iPad; CPU OS 17_0)"))
	assert.True(t, IsMobileUserAgent("SomeApp/1.0 (Mobile)"))
}

func TestIsMobileUserAgent_TreatsUnknownAsBrowser(t *testing.T) {
	assert.False(t, IsMobileUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120"))
}

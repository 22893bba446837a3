package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnLimiterPerClientIsolation(t *testing.T) {
	tl := newTurnLimiter(1000, 0.001, 2)

	assert.True(t, tl.allow("a"))
	assert.True(t, tl.allow("a"))
	assert.False(t, tl.allow("a"), "burst of 2 exhausted")
	assert.True(t, tl.allow("b"), "other clients keep their own budget")
}

func TestTurnLimiterGlobalCap(t *testing.T) {
	// Global burst is 4x the per-client burst; spread the calls over
	// distinct clients so only the global budget is in play.
	tl := newTurnLimiter(0.001, 1000, 1)

	for i := 0; i < 4; i++ {
		assert.True(t, tl.allow(fmt.Sprintf("client-%d", i)))
	}
	assert.False(t, tl.allow("one-too-many"))
}

func TestConverseRateLimited(t *testing.T) {
	srv := testServer(t, WithRateLimit(1000, 0.001, 1))

	first := do(t, srv, http.MethodPost, "/v1/bots/hoursbot/converse",
		`{"input": "when are you open?"}`)
	require.Equal(t, http.StatusOK, first.Code)

	second := do(t, srv, http.MethodPost, "/v1/bots/hoursbot/converse",
		`{"input": "when are you open?"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

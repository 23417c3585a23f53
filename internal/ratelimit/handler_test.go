package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(intervals ...time.Duration) *Handler {
	return NewHandler(&RetryStrategy{Intervals: intervals, MaxRetries: 2})
}

func TestCheckResponseRecordsAndClears(t *testing.T) {
	t.Parallel()

	h := newTestHandler(time.Hour)
	assert.False(t, h.CheckResponse("DSS2_Color", &http.Response{StatusCode: http.StatusOK}))
	assert.False(t, h.IsRateLimited("DSS2_Color"))

	assert.True(t, h.CheckResponse("DSS2_Color", &http.Response{StatusCode: http.StatusTooManyRequests}))
	require.True(t, h.IsRateLimited("DSS2_Color"))
	ev := h.CurrentState("DSS2_Color")
	require.NotNil(t, ev)
	assert.Equal(t, 0, ev.RetryAttempt)
	assert.Contains(t, ev.Message, "HTTP 429")

	assert.True(t, h.CheckResponse("DSS2_Color", &http.Response{StatusCode: 509}))
	assert.Equal(t, 1, h.CurrentState("DSS2_Color").RetryAttempt)
	assert.False(t, h.IsRateLimited("2MASS_J"))

	assert.False(t, h.CheckResponse("DSS2_Color", &http.Response{StatusCode: http.StatusOK}))
	assert.False(t, h.IsRateLimited("DSS2_Color"))
	assert.Nil(t, h.CurrentState("DSS2_Color"))
}

func TestWait(t *testing.T) {
	t.Parallel()

	h := newTestHandler(10*time.Millisecond, time.Hour)
	require.NoError(t, h.Wait(context.Background(), "free"))

	h.CheckResponse("s", &http.Response{StatusCode: http.StatusForbidden})
	start := time.Now()
	require.NoError(t, h.Wait(context.Background(), "s"))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)

	h.CheckResponse("s", &http.Response{StatusCode: http.StatusForbidden})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Wait(ctx, "s"), context.DeadlineExceeded)

	h.CheckResponse("s", &http.Response{StatusCode: http.StatusForbidden})
	var gaveUp *ErrGaveUp
	require.True(t, errors.As(h.Wait(context.Background(), "s"), &gaveUp))
	assert.Equal(t, 2, gaveUp.Attempts)

	h.Reset("s")
	assert.NoError(t, h.Wait(context.Background(), "s"))
}

func TestIntervalReusesLast(t *testing.T) {
	t.Parallel()

	s := &RetryStrategy{Intervals: []time.Duration{time.Second, time.Minute}}
	assert.Equal(t, time.Second, s.interval(0))
	assert.Equal(t, time.Minute, s.interval(1))
	assert.Equal(t, time.Minute, s.interval(5))
	assert.Zero(t, (&RetryStrategy{}).interval(0))
	assert.True(t, IsLimitStatus(509))
	assert.False(t, IsLimitStatus(http.StatusNotFound))
}

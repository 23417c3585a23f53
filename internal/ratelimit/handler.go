// Package ratelimit tracks HiPS servers that have started refusing requests and
// holds further fetches back until a backoff interval has passed.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// RetryStrategy defines the backoff intervals between attempts on a limited survey.
type RetryStrategy struct {
	Intervals  []time.Duration
	MaxRetries int
}

// DefaultRetryStrategy backs off from 30 seconds up to 5 minutes.
func DefaultRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		Intervals: []time.Duration{
			30 * time.Second,
			time.Minute,
			2 * time.Minute,
			5 * time.Minute,
		},
		MaxRetries: 6,
	}
}

// interval returns the wait before attempt n; later attempts reuse the last interval.
func (s *RetryStrategy) interval(n int) time.Duration {
	if len(s.Intervals) == 0 {
		return 0
	}
	if n < len(s.Intervals) {
		return s.Intervals[n]
	}
	return s.Intervals[len(s.Intervals)-1]
}

// Event records a survey being rate limited.
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	Survey       string    `json:"survey"`
	StatusCode   int       `json:"status_code"`
	RetryAttempt int       `json:"retry_attempt"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	Message      string    `json:"message"`
}

// ErrGaveUp is returned by Wait once a survey has exhausted MaxRetries.
type ErrGaveUp struct {
	Survey   string
	Attempts int
}

func (e *ErrGaveUp) Error() string {
	return fmt.Sprintf("%s still rate limited after %d attempts", e.Survey, e.Attempts)
}

// Handler watches responses per survey and gates requests while a survey is limited.
type Handler struct {
	mu          sync.RWMutex
	limited     map[string]*Event
	strategy    *RetryStrategy
	onRateLimit func(Event)
	onRecovered func(survey string)
	now         func() time.Time
}

// NewHandler returns a Handler using strategy, or the default when nil.
func NewHandler(strategy *RetryStrategy) *Handler {
	if strategy == nil {
		strategy = DefaultRetryStrategy()
	}
	return &Handler{
		limited:  make(map[string]*Event),
		strategy: strategy,
		now:      time.Now,
	}
}

// SetOnRateLimit registers a callback for new rate limit events.
func (h *Handler) SetOnRateLimit(callback func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRateLimit = callback
}

// SetOnRecovered registers a callback for when a survey answers normally again.
func (h *Handler) SetOnRecovered(callback func(survey string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecovered = callback
}

// IsRateLimited reports whether survey is currently limited.
func (h *Handler) IsRateLimited(survey string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, limited := h.limited[survey]
	return limited
}

// IsLimitStatus reports whether code is one servers use to refuse bulk clients.
func IsLimitStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusForbidden || code == 509
}

// CheckResponse records a limit for survey when resp carries a limiting status
// and clears an existing one otherwise. It returns true when limited.
func (h *Handler) CheckResponse(survey string, resp *http.Response) bool {
	if resp == nil || !IsLimitStatus(resp.StatusCode) {
		h.checkRecovery(survey)
		return false
	}
	h.recordRateLimit(survey, resp.StatusCode)
	return true
}

func (h *Handler) recordRateLimit(survey string, statusCode int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	attempt := 0
	if existing, ok := h.limited[survey]; ok {
		attempt = existing.RetryAttempt + 1
	}
	now := h.now()
	next := now.Add(h.strategy.interval(attempt))

	event := Event{
		Timestamp:    now,
		Survey:       survey,
		StatusCode:   statusCode,
		RetryAttempt: attempt,
		NextRetryAt:  next,
	}
	event.Message = buildMessage(event, next.Sub(now))
	h.limited[survey] = &event

	log.Printf("[RateLimit] %s rate limited (HTTP %d, attempt %d), next retry at %s",
		survey, statusCode, attempt, next.Format(time.RFC3339))

	if h.onRateLimit != nil {
		go h.onRateLimit(event)
	}
}

func (h *Handler) checkRecovery(survey string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.limited[survey]; ok {
		delete(h.limited, survey)
		log.Printf("[RateLimit] %s rate limit cleared", survey)
		if h.onRecovered != nil {
			go h.onRecovered(survey)
		}
	}
}

// Wait blocks until survey may be queried again. It returns immediately when
// the survey is not limited, ctx.Err() on cancellation and *ErrGaveUp once the
// retry budget is spent.
func (h *Handler) Wait(ctx context.Context, survey string) error {
	h.mu.RLock()
	event, ok := h.limited[survey]
	var ev Event
	if ok {
		ev = *event
	}
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	if ev.RetryAttempt >= h.strategy.MaxRetries {
		return &ErrGaveUp{Survey: survey, Attempts: ev.RetryAttempt}
	}

	wait := ev.NextRetryAt.Sub(h.now())
	if wait <= 0 {
		return nil
	}
	log.Printf("[RateLimit] Waiting %s before retrying %s", wait.Round(time.Second), survey)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset clears any limit recorded for survey.
func (h *Handler) Reset(survey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.limited, survey)
}

// CurrentState returns a copy of the active event for survey, or nil.
func (h *Handler) CurrentState(survey string) *Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if event, ok := h.limited[survey]; ok {
		cp := *event
		return &cp
	}
	return nil
}

func buildMessage(e Event, wait time.Duration) string {
	if e.RetryAttempt == 0 {
		return fmt.Sprintf("%s refused tiles (HTTP %d). Fetching paused for %s.",
			e.Survey, e.StatusCode, wait.Round(time.Second))
	}
	return fmt.Sprintf("%s still rate limited (attempt %d). Next retry in %s.",
		e.Survey, e.RetryAttempt+1, wait.Round(time.Second))
}

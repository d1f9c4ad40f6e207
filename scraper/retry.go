package scraper

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type attemptState int

const (
	stateAttempting attemptState = iota
	stateWaiting
	stateSucceeded
	stateFailed
)

func (s attemptState) String() string {
	switch s {
	case stateAttempting:
		return "attempting"
	case stateWaiting:
		return "waiting"
	case stateSucceeded:
		return "succeeded"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// retryMachine tracks one page through Attempting -> Waiting -> ... -> Succeeded|Failed.
// The delay between attempts comes from policy, which returns backoff.Stop
// once no attempts remain.
type retryMachine struct {
	state    attemptState
	attempts int
	delay    time.Duration
	lastErr  error
	policy   backoff.BackOff
}

// constantPolicy waits the same delay between attempts and allows maxAttempts in total.
func constantPolicy(delay time.Duration, maxAttempts int) backoff.BackOff {
	retries := 0
	if maxAttempts > 1 {
		retries = maxAttempts - 1
	}
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(retries))
}

func newRetryMachine(policy backoff.BackOff) *retryMachine {
	policy.Reset()
	return &retryMachine{state: stateAttempting, policy: policy}
}

// attempted records the result of the attempt that just finished.
func (m *retryMachine) attempted(err error) {
	if m.state != stateAttempting {
		return
	}
	m.attempts++
	if err == nil {
		m.lastErr = nil
		m.state = stateSucceeded
		return
	}

	m.lastErr = err
	next := m.policy.NextBackOff()
	if next == backoff.Stop {
		m.state = stateFailed
		return
	}
	m.delay = next
	m.state = stateWaiting
}

// waited moves a waiting machine back to Attempting, or to Failed when the
// wait was interrupted.
func (m *retryMachine) waited(err error) {
	if m.state != stateWaiting {
		return
	}
	if err != nil {
		m.lastErr = err
		m.state = stateFailed
		return
	}
	m.state = stateAttempting
}

// abort stops the machine before the next attempt.
func (m *retryMachine) abort(err error) {
	if m.done() {
		return
	}
	m.lastErr = err
	m.state = stateFailed
}

func (m *retryMachine) done() bool {
	return m.state == stateSucceeded || m.state == stateFailed
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

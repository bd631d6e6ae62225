package event

import (
	"testing"
	"time"
)

// Receive returns the next value from ch, failing the test if ch closes or
// nothing arrives within timeout.
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before a value arrived")
		}
		return value
	case <-timer.C:
		t.Fatalf("nothing received within %s", timeout)
	}
	var zero T
	return zero
}

// ExpectQuiet fails the test if ch yields a value within wait.
func ExpectQuiet[T any](t testing.TB, ch <-chan T, wait time.Duration) {
	t.Helper()
	select {
	case value, ok := <-ch:
		if ok {
			t.Fatalf("unexpected value %+v", value)
		}
	case <-time.After(wait):
	}
}

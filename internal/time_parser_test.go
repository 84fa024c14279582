package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Now()

	d, ok := RetryAfter("120", now)
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, d)

	d, ok = RetryAfter(" 5 ", now)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, d)
}

func TestRetryAfterHTTPDate(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	d, ok := RetryAfter("Fri, 01 Mar 2024 12:00:30 GMT", now)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	// A moment already in the past is not a wait.
	_, ok = RetryAfter("Fri, 01 Mar 2024 11:59:00 GMT", now)
	assert.False(t, ok)
}

func TestRetryAfterRejectsGarbage(t *testing.T) {
	now := time.Now()
	for _, v := range []string{"", "soon", "-3", "12.5"} {
		_, ok := RetryAfter(v, now)
		assert.False(t, ok, "value %q", v)
	}
}

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowConsumesBurstThenDenies(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerSecond: 1, Burst: 2})
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("sess:fs_read").Allowed)
	assert.True(t, l.Allow("sess:fs_read").Allowed)
	decision := l.Allow("sess:fs_read")
	assert.False(t, decision.Allowed)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestAllowRefillsOverTime(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerSecond: 10, Burst: 1})
	now := time.Now()
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("k").Allowed)
	require.False(t, l.Allow("k").Allowed)

	now = now.Add(200 * time.Millisecond)
	l.now = func() time.Time { return now }
	assert.True(t, l.Allow("k").Allowed)
}

func TestDisabledLimiterAlwaysAllows(t *testing.T) {
	l := New(Config{Enabled: false})
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("k").Allowed)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerSecond: 1, Burst: 1})
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("session-a:fs_write").Allowed)
	assert.True(t, l.Allow("session-b:fs_write").Allowed)
}

func TestAllowNChargesMultipleTokensPerCall(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerSecond: 1, Burst: 5})
	now := time.Now()
	l.now = func() time.Time { return now }

	// a cost-3 call should leave only 2 tokens, not 4.
	require.True(t, l.AllowN("sess:terminal_create", 3).Allowed)
	assert.True(t, l.AllowN("sess:terminal_create", 2).Allowed)
	assert.False(t, l.AllowN("sess:terminal_create", 1).Allowed)
}

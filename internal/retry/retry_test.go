package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ede1998/nextcloud-tag-sync/internal/tagerr"
)

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, tagerr.KindAuth, ClassifyStatus(http.StatusUnauthorized))
	assert.Equal(t, tagerr.KindNetworkTimeout, ClassifyStatus(http.StatusServiceUnavailable))
	assert.Equal(t, tagerr.KindNetworkStatus, ClassifyStatus(http.StatusNotFound))
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, ShouldRetry(http.StatusTooManyRequests))
	assert.True(t, ShouldRetry(http.StatusBadGateway))
	assert.False(t, ShouldRetry(http.StatusNotFound))
	assert.False(t, ShouldRetry(http.StatusUnauthorized))
}

func TestPolicyDoSucceedsWithoutRetry(t *testing.T) {
	p := NewPolicy(time.Millisecond, 10*time.Millisecond)
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicyDoRetriesTransientUntilSuccess(t *testing.T) {
	p := NewPolicy(time.Millisecond, 5*time.Millisecond)
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < MaxAttempts {
			return tagerr.New(tagerr.KindNetworkTimeout, "temporary")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, MaxAttempts, calls)
}

func TestPolicyDoStopsAfterMaxAttempts(t *testing.T) {
	p := NewPolicy(time.Millisecond, 5*time.Millisecond)
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return tagerr.New(tagerr.KindNetworkTimeout, "always fails")
	})
	require.Error(t, err)
	assert.Equal(t, MaxAttempts, calls)
}

func TestPolicyDoDoesNotRetryNonTransientError(t *testing.T) {
	p := NewPolicy(time.Millisecond, 5*time.Millisecond)
	calls := 0
	sentinel := errors.New("fatal")
	err := p.Do(context.Background(), func() error {
		calls++
		return sentinel
	})
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, calls)
}

func TestPolicyDoRespectsContextCancellation(t *testing.T) {
	p := NewPolicy(50*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := p.Do(ctx, func() error {
		calls++
		return tagerr.New(tagerr.KindNetworkTimeout, "temporary")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

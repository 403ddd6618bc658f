package retry_test

import (
	"testing"
	"time"

	"github.com/corewire/taskqueue/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeImmediate(t *testing.T) {
	d, ok, err := retry.Compute(0, retry.Config{MaxRetries: 3, Strategy: retry.Immediate})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), d)
}

func TestComputeExponentialMatchesScenarioS2(t *testing.T) {
	cfg := retry.Config{
		MaxRetries:  3,
		Strategy:    retry.Exponential,
		BackoffBase: 2 * time.Second,
	}
	d0, ok, err := retry.Compute(0, cfg)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d0)

	d1, ok, err := retry.Compute(1, cfg)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4*time.Second, d1)

	d2, ok, err := retry.Compute(2, cfg)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 8*time.Second, d2)

	_, ok, err = retry.Compute(3, cfg)
	require.NoError(t, err)
	assert.False(t, ok, "retry count reached max-retries, must go terminal")
}

func TestComputeExponentialRespectsMaxBackoff(t *testing.T) {
	cfg := retry.Config{
		MaxRetries:  10,
		Strategy:    retry.Exponential,
		BackoffBase: time.Second,
		MaxBackoff:  5 * time.Second,
	}
	d, ok, err := retry.Compute(5, cfg)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, d)
}

func TestComputeLinear(t *testing.T) {
	cfg := retry.Config{
		MaxRetries:  5,
		Strategy:    retry.Linear,
		BackoffBase: time.Second,
		Increment:   time.Second,
	}
	d, ok, err := retry.Compute(1, cfg)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)
}

func TestComputeCustomUnregisteredRejected(t *testing.T) {
	_, ok, err := retry.Compute(0, retry.Config{MaxRetries: 3, Strategy: retry.Custom, CustomName: "does-not-exist"})
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrUnregisteredStrategy)
	assert.False(t, ok)
}

func TestComputeCustomRegistered(t *testing.T) {
	retry.RegisterCustom("double-second", func(attempt uint32, cfg retry.Config) (time.Duration, bool) {
		return time.Duration(attempt) * 2 * time.Second, true
	})
	d, ok, err := retry.Compute(0, retry.Config{MaxRetries: 3, Strategy: retry.Custom, CustomName: "double-second"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)
}

func TestClassifyNonRetryable(t *testing.T) {
	assert.False(t, retry.Classify("ValidationError"))
	assert.False(t, retry.Classify("AuthenticationError"))
	assert.False(t, retry.Classify("PermissionDenied"))
	assert.False(t, retry.Classify("ResourceNotFound"))
	assert.False(t, retry.Classify("InvalidInput"))
}

func TestClassifyRetryable(t *testing.T) {
	assert.True(t, retry.Classify("ConnectionError"))
	assert.True(t, retry.Classify(""))
}

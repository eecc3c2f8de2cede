package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackoff(sleeps *[]time.Duration) BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		Sleep: func(d time.Duration) {
			*sleeps = append(*sleeps, d)
		},
	}
}

func TestBackoffRetriesWithDoubling(t *testing.T) {
	var sleeps []time.Duration
	policy := testBackoff(&sleeps)

	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps)
}

func TestBackoffStopsOnPermanentError(t *testing.T) {
	var sleeps []time.Duration
	policy := testBackoff(&sleeps)

	boom := errors.New("bad request")
	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		return Permanent(boom)
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, boom, err)
	assert.Empty(t, sleeps)
}

func TestBackoffExhaustsAttempts(t *testing.T) {
	var sleeps []time.Duration
	policy := testBackoff(&sleeps)

	boom := errors.New("still failing")
	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		return boom
	})

	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, sleeps, 2)
}

func TestBackoffHonorsContextCancellation(t *testing.T) {
	var sleeps []time.Duration
	policy := testBackoff(&sleeps)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := policy.Do(ctx, func() error {
		attempts++
		cancel()
		return errors.New("transient")
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockEmbedderDeterministic(t *testing.T) {
	embedder := NewMockEmbedder(768)
	assert.Equal(t, 768, embedder.Dim())

	a, err := embedder.Embed(context.Background(), "押金退还")
	require.NoError(t, err)
	b, err := embedder.Embed(context.Background(), "押金退还")
	require.NoError(t, err)
	c, err := embedder.Embed(context.Background(), "拖欠工资")
	require.NoError(t, err)

	require.Len(t, a, 768)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	for _, v := range a {
		assert.GreaterOrEqual(t, v, -1.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestNormalize(t *testing.T) {
	vec := []float64{3, 4}
	normalize(vec)
	assert.InDelta(t, 0.6, vec[0], 1e-9)
	assert.InDelta(t, 0.8, vec[1], 1e-9)

	zero := []float64{0, 0}
	normalize(zero)
	assert.Equal(t, []float64{0, 0}, zero)
}

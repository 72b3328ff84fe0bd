package codebook

import (
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestBuilderMeanInvariant(t *testing.T) {
	b := NewBuilder(3, Float64)
	contributions := [][]float64{
		{1, 2, 3},
		{2, 3, 4},
		{6, 7, 11},
	}
	for _, d := range contributions {
		require.NoError(t, b.Add(9, d))
	}

	cb := b.Finalize(discardLogger())
	require.Equal(t, 1, cb.Len())
	assert.Equal(t, int64(9), cb.PointID(0))
	assert.Equal(t, int64(3), cb.Counts[0])

	want := []float64{3, 4, 6}
	for i, v := range want {
		assert.InDelta(t, v, cb.Vectors[0][i], 1e-9)
	}
}

func TestBuilderFirstSeenOrder(t *testing.T) {
	build := func() *Codebook {
		b := NewBuilder(2, Float64)
		require.NoError(t, b.Add(30, []float64{1, 1}))
		require.NoError(t, b.Add(10, []float64{2, 2}))
		require.NoError(t, b.Add(30, []float64{3, 3}))
		require.NoError(t, b.Add(20, []float64{4, 4}))
		return b.Finalize(discardLogger())
	}

	cb := build()
	assert.Equal(t, []int64{30, 10, 20}, cb.IDs)

	i, ok := cb.Index(10)
	require.True(t, ok)
	assert.Equal(t, 1, i)
	_, ok = cb.Index(99)
	assert.False(t, ok)

	// Rebuilding from the same observation order reproduces the mapping.
	again := build()
	assert.Equal(t, cb.IDs, again.IDs)
	assert.Equal(t, cb.Vectors, again.Vectors)
}

func TestBuilderMergeMatchesSequential(t *testing.T) {
	type obs struct {
		pid  int64
		desc []float64
	}
	stream := []obs{
		{1, []float64{1, 0}},
		{2, []float64{0, 1}},
		{1, []float64{3, 0}},
		{3, []float64{5, 5}},
		{2, []float64{0, 3}},
		{1, []float64{2, 0}},
	}

	sequential := NewBuilder(2, Float64)
	for _, o := range stream {
		require.NoError(t, sequential.Add(o.pid, o.desc))
	}

	left := NewBuilder(2, Float64)
	for _, o := range stream[:3] {
		require.NoError(t, left.Add(o.pid, o.desc))
	}
	right := NewBuilder(2, Float64)
	for _, o := range stream[3:] {
		require.NoError(t, right.Add(o.pid, o.desc))
	}
	merged := NewBuilder(2, Float64)
	require.NoError(t, merged.Merge(left))
	require.NoError(t, merged.Merge(right))

	a := sequential.Finalize(discardLogger())
	b := merged.Finalize(discardLogger())
	assert.Equal(t, a.IDs, b.IDs)
	assert.Equal(t, a.Counts, b.Counts)
	assert.Equal(t, a.Vectors, b.Vectors)
	assert.Equal(t, int64(6), sequential.Observations())
}

func TestBuilderDimMismatch(t *testing.T) {
	b := NewBuilder(4, Float64)
	assert.Error(t, b.Add(1, []float64{1, 2}))

	other := NewBuilder(2, Float64)
	assert.Error(t, b.Merge(other))
}

func TestFinalizeKeepsNonFiniteEntries(t *testing.T) {
	b := NewBuilder(2, Float64)
	require.NoError(t, b.Add(5, []float64{math.NaN(), 1}))
	require.NoError(t, b.Add(6, []float64{1, 1}))

	cb := b.Finalize(discardLogger())
	require.Equal(t, 2, cb.Len())
	assert.Equal(t, []int64{5}, cb.NonFinite())

	// The bad entry stays in place so index assignments do not shift.
	i, ok := cb.Index(6)
	require.True(t, ok)
	assert.Equal(t, 1, i)
}

func TestPrecisionQuantize(t *testing.T) {
	third := 1.0 / 3.0
	assert.Equal(t, float64(float32(third)), Float32.Quantize(third))
	assert.Equal(t, third, Float64.Quantize(third))

	_, err := ParsePrecision("float16")
	assert.Error(t, err)
	p, err := ParsePrecision("float32")
	require.NoError(t, err)
	assert.Equal(t, Float32, p)
}

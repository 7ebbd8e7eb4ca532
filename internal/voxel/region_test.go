package voxel

import (
	"math"
	"testing"

	"github.com/annel0/pagedvolume/internal/vec"
	"github.com/stretchr/testify/assert"
)

func TestRegionBounds(t *testing.T) {
	r := RegionFromCoords(-2, 0, 5, 1, 0, 9)

	assert.True(t, r.IsValid())
	assert.Equal(t, int64(4), r.Width())
	assert.Equal(t, int64(1), r.Height())
	assert.Equal(t, int64(5), r.Depth())
	assert.Equal(t, int64(20), r.Volume())
	assert.Equal(t, "[(-2,0,5)..(1,0,9)]", r.String())

	assert.True(t, r.Contains(vec.New(-2, 0, 5)))
	assert.True(t, r.Contains(vec.New(1, 0, 9)))
	assert.False(t, r.Contains(vec.New(2, 0, 9)))
	assert.False(t, r.Contains(vec.New(0, 1, 6)))

	inverted := NewRegion(vec.New(1, 0, 0), vec.New(0, 0, 0))
	assert.False(t, inverted.IsValid())
	assert.Equal(t, int64(0), inverted.Volume())
}

func TestRegionFullInt32Span(t *testing.T) {
	r := RegionFromCoords(math.MinInt32, 0, 0, math.MaxInt32, 0, 0)
	assert.Equal(t, int64(1)<<32, r.Width())
	assert.Equal(t, int64(1)<<32, r.Volume())

	all := RegionFromCoords(math.MinInt32, math.MinInt32, math.MinInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32)
	assert.Equal(t, int64(math.MaxInt64), all.Volume())

	// В координатах чанков со стороной 16 это 2^84 чанков
	assert.Equal(t, int64(math.MaxInt64), all.Shr(4).Volume())
	assert.Equal(t, int64(1)<<28, r.Shr(4).Volume())
}

func TestRegionShrToChunkSpace(t *testing.T) {
	r := RegionFromCoords(-1, 0, 31, 32, 15, 64)
	assert.Equal(t, RegionFromCoords(-1, 0, 0, 1, 0, 2), r.Shr(5))
}

func TestChunkRegionCoversSide(t *testing.T) {
	r := chunkRegion(vec.New(-1, 0, 2), 4)
	assert.Equal(t, RegionFromCoords(-16, 0, 32, -1, 15, 47), r)
}

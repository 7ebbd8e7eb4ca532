package voxel

import (
	"testing"

	"github.com/annel0/pagedvolume/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkPageInOnConstruction(t *testing.T) {
	pager := newRecordingPager()
	coord := vec.New(1, -1, 0)

	chunk := NewChunk[Voxel](coord, 8, pager)

	assert.Equal(t, []string{"in"}, pager.eventsFor(coord))
	// Записи пейджера во время загрузки не делают чанк измененным
	assert.False(t, chunk.IsDirty())
	assert.Equal(t, patternVoxel(8, -8, 0), chunk.GetVoxel(0, 0, 0))
	assert.Equal(t, patternVoxel(15, -1, 7), chunk.GetVoxel(7, 7, 7))
}

func TestChunkRegion(t *testing.T) {
	chunk := NewChunk[Voxel](vec.New(1, -1, 0), 32, nil)

	region := chunk.Region()
	assert.Equal(t, vec.New(32, -32, 0), region.Lower)
	assert.Equal(t, vec.New(63, -1, 31), region.Upper)
	assert.Equal(t, int64(32*32*32), region.Volume())
}

func TestChunkSetAlwaysMarksDirty(t *testing.T) {
	chunk := NewChunk[Voxel](vec.Vec3{}, 4, nil)
	require.False(t, chunk.IsDirty())

	// Значение совпадает с текущим, но чанк все равно считается измененным
	chunk.SetVoxel(1, 2, 3, Voxel{})
	assert.True(t, chunk.IsDirty())
}

func TestChunkOutOfRangePanics(t *testing.T) {
	chunk := NewChunk[Voxel](vec.Vec3{}, 8, nil)

	assert.Panics(t, func() { chunk.GetVoxel(8, 0, 0) })
	assert.Panics(t, func() { chunk.SetVoxel(0, 8, 0, Voxel{}) })
	assert.Panics(t, func() { chunk.GetVoxel(0, 0, 300) })
}

func TestChunkInvalidSideLengthPanics(t *testing.T) {
	assert.Panics(t, func() { NewChunk[Voxel](vec.Vec3{}, 0, nil) })
	assert.Panics(t, func() { NewChunk[Voxel](vec.Vec3{}, 12, nil) })
	assert.Panics(t, func() { NewChunk[Voxel](vec.Vec3{}, 512, nil) })
}

func TestChunkReleasePagesOutOnlyWhenDirty(t *testing.T) {
	pager := newRecordingPager()

	clean := NewChunk[Voxel](vec.New(0, 0, 0), 4, pager)
	clean.GetVoxel(1, 1, 1)
	clean.release()

	dirty := NewChunk[Voxel](vec.New(1, 0, 0), 4, pager)
	dirty.SetVoxel(1, 1, 1, NewVoxel(MaterialRock, 3))
	dirty.release()
	// Повторная выгрузка ничего не делает
	dirty.release()

	assert.Equal(t, []string{"in"}, pager.eventsFor(vec.New(0, 0, 0)))
	assert.Equal(t, []string{"in", "out"}, pager.eventsFor(vec.New(1, 0, 0)))
	assert.True(t, dirty.IsReleased())
	assert.Nil(t, dirty.Data())
}

func TestChunkSizeInBytes(t *testing.T) {
	assert.Equal(t, uint64(32*32*32*2), ChunkSizeInBytes[Voxel](32))
	assert.Equal(t, uint64(16*16*16), ChunkSizeInBytes[uint8](16))
	assert.Equal(t, uint64(8*8*8*4), NewChunk[uint32](vec.Vec3{}, 8, nil).DataSizeInBytes())
}

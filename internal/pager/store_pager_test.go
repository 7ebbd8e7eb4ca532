package pager

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/annel0/pagedvolume/internal/storage"
	"github.com/annel0/pagedvolume/internal/vec"
	"github.com/annel0/pagedvolume/internal/voxel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSide = 16

func newVolume(t *testing.T, p voxel.Pager[voxel.Voxel]) *voxel.Volume[voxel.Voxel] {
	t.Helper()
	v, err := voxel.NewVolume[voxel.Voxel](p, voxel.MinTargetMemoryBytes, testSide, voxel.WithTableCapacity(64))
	require.NoError(t, err)
	return v
}

// failingStore возвращает заданные ошибки на каждую операцию
type failingStore struct {
	storage.ChunkStore
	loadErr  error
	storeErr error
}

func (s *failingStore) Load(ctx context.Context, key string) ([]byte, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.ChunkStore.Load(ctx, key)
}

func (s *failingStore) Store(ctx context.Context, key string, blob []byte) error {
	if s.storeErr != nil {
		return s.storeErr
	}
	return s.ChunkStore.Store(ctx, key, blob)
}

type pageFailure struct {
	op  Op
	key string
	err error
}

func TestStorePagerRoundTrip(t *testing.T) {
	for _, layout := range []storage.Layout{storage.LayoutMorton, storage.LayoutLinear} {
		t.Run(layout.String(), func(t *testing.T) {
			store := storage.NewMemoryStore()
			p := NewStorePager[voxel.Voxel](store, voxel.VoxelCodec{}, nil, WithNamespace("rt"), WithLayout(layout))

			v := newVolume(t, p)
			v.SetVoxel(1, 2, 3, voxel.NewVoxel(voxel.MaterialRock, 7))
			v.SetVoxel(-1, -1, -1, voxel.NewVoxel(voxel.MaterialWater, 9))
			v.SetVoxel(15, 15, 15, voxel.NewVoxel(voxel.MaterialLeaf, 200))
			v.FlushAll()

			assert.Equal(t, 2, store.Len())
			assert.Equal(t, int64(2), p.Stats().Stores)

			// Новый объем над тем же хранилищем видит записанное
			reloaded := newVolume(t, p)
			assert.Equal(t, voxel.NewVoxel(voxel.MaterialRock, 7), reloaded.GetVoxel(1, 2, 3))
			assert.Equal(t, voxel.NewVoxel(voxel.MaterialWater, 9), reloaded.GetVoxel(-1, -1, -1))
			assert.Equal(t, voxel.NewVoxel(voxel.MaterialLeaf, 200), reloaded.GetVoxel(15, 15, 15))
			assert.Equal(t, voxel.Voxel{}, reloaded.GetVoxel(0, 0, 0))
			assert.Equal(t, int64(2), p.Stats().Loads)
		})
	}
}

func TestStorePagerLinearBlobIsRowMajor(t *testing.T) {
	store := storage.NewMemoryStore()
	p := NewStorePager[uint8](store, voxel.ByteCodec{}, nil, WithNamespace("lin"), WithLayout(storage.LayoutLinear))

	v, err := voxel.NewVolume[uint8](p, voxel.MinTargetMemoryBytes, testSide)
	require.NoError(t, err)
	v.SetVoxel(3, 1, 2, 42)
	v.FlushAll()

	blob, err := store.Load(context.Background(), storage.ChunkKey("lin", vec.Vec3{}))
	require.NoError(t, err)

	hdr, raw, err := storage.DecodeBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, storage.LayoutLinear, hdr.Layout)
	assert.Equal(t, uint16(testSide), hdr.SideLength)
	assert.Equal(t, uint16(1), hdr.ValueSize)
	assert.Equal(t, uint8(42), raw[voxel.LinearIndex(3, 1, 2, testSide)])
}

func TestStorePagerReadsBlobsOfEitherLayout(t *testing.T) {
	store := storage.NewMemoryStore()
	writer := NewStorePager[uint8](store, voxel.ByteCodec{}, nil, WithLayout(storage.LayoutLinear))
	reader := NewStorePager[uint8](store, voxel.ByteCodec{}, nil, WithLayout(storage.LayoutMorton))

	v, err := voxel.NewVolume[uint8](writer, voxel.MinTargetMemoryBytes, testSide)
	require.NoError(t, err)
	v.SetVoxel(5, 6, 7, 11)
	v.FlushAll()

	r, err := voxel.NewVolume[uint8](reader, voxel.MinTargetMemoryBytes, testSide)
	require.NoError(t, err)
	assert.Equal(t, uint8(11), r.GetVoxel(5, 6, 7))
}

func TestStorePagerFallback(t *testing.T) {
	store := storage.NewMemoryStore()
	gen := NewNoisePager(NoiseConfig{Seed: 7, SeaLevel: 4, Amplitude: 8})
	p := NewStorePager[voxel.Voxel](store, voxel.VoxelCodec{}, gen)

	v := newVolume(t, p)
	assert.Equal(t, gen.VoxelAt(3, 2, 1), v.GetVoxel(3, 2, 1))
	assert.Equal(t, int64(1), p.Stats().Missing)

	// Чтение без записи ничего не сохраняет
	v.FlushAll()
	assert.Equal(t, 0, store.Len())
}

func TestStorePagerCorruptBlob(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	var failures []pageFailure
	p := NewStorePager[voxel.Voxel](store, voxel.VoxelCodec{}, nil,
		WithNamespace("bad"),
		WithErrorHandler(func(op Op, key string, err error) {
			failures = append(failures, pageFailure{op, key, err})
		}))

	key := storage.ChunkKey("bad", vec.Vec3{})
	require.NoError(t, store.Store(ctx, key, []byte("definitely not a chunk")))

	v := newVolume(t, p)
	assert.Equal(t, voxel.Voxel{}, v.GetVoxel(0, 0, 0))

	require.Len(t, failures, 1)
	assert.Equal(t, OpPageIn, failures[0].op)
	assert.Equal(t, key, failures[0].key)
	assert.ErrorIs(t, failures[0].err, storage.ErrCorruptBlob)
	assert.Equal(t, int64(1), p.Stats().Failures)

	// Неизмененный чанк не перезаписывает поврежденный блоб
	v.FlushAll()
	stored, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("definitely not a chunk"), stored)
}

func TestStorePagerLayoutMismatch(t *testing.T) {
	store := storage.NewMemoryStore()

	// Блоб записан для стороны 32
	big := NewStorePager[voxel.Voxel](store, voxel.VoxelCodec{}, nil)
	v, err := voxel.NewVolume[voxel.Voxel](big, voxel.MinTargetMemoryBytes*4, 32)
	require.NoError(t, err)
	v.SetVoxel(0, 0, 0, voxel.NewVoxel(voxel.MaterialRock, 1))
	v.FlushAll()

	var got error
	small := NewStorePager[voxel.Voxel](store, voxel.VoxelCodec{}, nil,
		WithErrorHandler(func(_ Op, _ string, err error) { got = err }))
	s := newVolume(t, small)
	assert.Equal(t, voxel.Voxel{}, s.GetVoxel(0, 0, 0))
	assert.ErrorIs(t, got, ErrLayoutMismatch)

	// Тот же размер, но другой тип значений
	got = nil
	bytesPager := NewStorePager[uint8](store, voxel.ByteCodec{}, nil,
		WithErrorHandler(func(_ Op, _ string, err error) { got = err }))
	b, err := voxel.NewVolume[uint8](bytesPager, voxel.MinTargetMemoryBytes, 32)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), b.GetVoxel(0, 0, 0))
	assert.ErrorIs(t, got, ErrLayoutMismatch)
}

func TestStorePagerStoreFailures(t *testing.T) {
	boom := errors.New("disk full")
	store := &failingStore{ChunkStore: storage.NewMemoryStore(), storeErr: boom}

	var failures []pageFailure
	p := NewStorePager[voxel.Voxel](store, voxel.VoxelCodec{}, nil,
		WithErrorHandler(func(op Op, key string, err error) {
			failures = append(failures, pageFailure{op, key, err})
		}))

	v := newVolume(t, p)
	v.SetVoxel(0, 0, 0, voxel.NewVoxel(voxel.MaterialDirt, 1))
	v.FlushAll()

	require.Len(t, failures, 1)
	assert.Equal(t, OpPageOut, failures[0].op)
	assert.ErrorIs(t, failures[0].err, boom)

	store.storeErr = nil
	store.loadErr = boom
	failures = nil
	assert.Equal(t, voxel.Voxel{}, v.GetVoxel(100, 0, 0))
	require.Len(t, failures, 1)
	assert.Equal(t, OpPageIn, failures[0].op)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Failures)
	assert.Zero(t, stats.Stores)
}

func TestStorePagerKey(t *testing.T) {
	p := NewStorePager[voxel.Voxel](storage.NewMemoryStore(), voxel.VoxelCodec{}, nil)
	assert.Equal(t, "volume", p.Namespace())
	assert.Equal(t, "volume:chunk:1:-2:3", p.Key(vec.New(1, -2, 3)))
}

func TestStorePagerRejectsOversizedHeaderBeforeDecompressing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	raw := voxel.EncodeValues[voxel.Voxel](voxel.VoxelCodec{}, make([]voxel.Voxel, testSide*testSide*testSide))
	blob, err := storage.EncodeBlob(storage.LayoutMorton, testSide, voxel.VoxelCodec{}.Size(), raw)
	require.NoError(t, err)

	// Заголовок непротиворечив, но обещает ~4 ГиБ данных: сторона 256, значение 255 байт
	binary.LittleEndian.PutUint16(blob[6:8], 256)
	binary.LittleEndian.PutUint16(blob[8:10], 255)
	binary.LittleEndian.PutUint32(blob[10:14], 256*256*256*255)
	hdr, err := storage.DecodeBlobHeader(blob)
	require.NoError(t, err)
	require.Equal(t, uint32(256*256*256*255), hdr.RawLength)

	var got error
	p := NewStorePager[voxel.Voxel](store, voxel.VoxelCodec{}, nil,
		WithErrorHandler(func(_ Op, _ string, err error) { got = err }))
	require.NoError(t, store.Store(ctx, p.Key(vec.Vec3{}), blob))

	v := newVolume(t, p)
	assert.Equal(t, voxel.Voxel{}, v.GetVoxel(0, 0, 0))
	assert.ErrorIs(t, got, ErrLayoutMismatch)
	assert.NotErrorIs(t, got, storage.ErrCorruptBlob)
}

func TestStorePagerStoredChunks(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := NewStorePager[voxel.Voxel](store, voxel.VoxelCodec{}, nil, WithNamespace("world"))
	require.NoError(t, store.Store(ctx, storage.ChunkKey("other", vec.New(5, 5, 5)), []byte{1}))

	v := newVolume(t, p)
	v.SetVoxel(0, 0, 0, voxel.NewVoxel(voxel.MaterialRock, 1))
	v.SetVoxel(-1, 20, 0, voxel.NewVoxel(voxel.MaterialRock, 1))
	v.GetVoxel(100, 0, 0)
	v.FlushAll()

	coords, err := p.StoredChunks(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []vec.Vec3{vec.New(0, 0, 0), vec.New(-1, 1, 0)}, coords)

	blobOnly := NewStorePager[voxel.Voxel](&failingStore{ChunkStore: store}, voxel.VoxelCodec{}, nil)
	_, err = blobOnly.StoredChunks(ctx)
	assert.ErrorIs(t, err, storage.ErrListingUnsupported)
}

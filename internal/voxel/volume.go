package voxel

import (
	"fmt"
	"math/bits"

	"github.com/annel0/pagedvolume/internal/logging"
	"github.com/annel0/pagedvolume/internal/vec"
)

// Volume страничный объем вокселей с ограниченным числом резидентных чанков.
//
// Использование:
//
//	vol, err := voxel.NewVolume[voxel.Voxel](pager, 64<<20, 32)
//	vol.SetVoxel(10, -3, 700, voxel.NewVoxel(voxel.MaterialRock, 4))
//	v := vol.GetVoxel(10, -3, 700)
//	defer vol.Close() // сохраняет измененные чанки через пейджер
type Volume[V any] struct {
	table *chunkTable[V]
	clock *Clock
	pager Pager[V]

	sideLength uint16
	sidePower  uint8
	sideMask   int32
	chunkBytes uint64
	limit      int

	// Последний использованный чанк. Сбрасывается при FlushAll.
	lastCoord vec.Vec3
	lastChunk *Chunk[V]

	metrics Metrics
}

// Option настраивает объем при создании
type Option func(*options)

type options struct {
	tableCapacity int
	metrics       Metrics
	clock         *Clock
}

// WithTableCapacity задает емкость таблицы чанков (степень двойки, не меньше 64)
func WithTableCapacity(capacity int) Option {
	return func(o *options) {
		o.tableCapacity = capacity
	}
}

// WithMetrics подключает наблюдателя за кешем
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock подставляет внешние логические часы (для детерминированных тестов)
func WithClock(clock *Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// PrefetchStats итог предзагрузки региона
type PrefetchStats struct {
	Chunks    int  `json:"chunks"`    // Сколько координат чанков затронуто
	Loaded    int  `json:"loaded"`    // Сколько из них потребовали PageIn
	Thrashing bool `json:"thrashing"` // Регион больше лимита: часть чанков будет вытеснена до использования
}

// NewVolume создает объем.
//
// Параметры:
//
//	pager - загрузка/сохранение чанков, не nil
//	targetMemoryBytes - желаемый бюджет памяти, не меньше MinTargetMemoryBytes
//	sideLength - длина стороны чанка: степень двойки от 1 до 256
//
// Лимит числа чанков = targetMemoryBytes / размер чанка, ограниченный снизу 32,
// а сверху половиной емкости таблицы.
func NewVolume[V any](pager Pager[V], targetMemoryBytes uint64, sideLength uint16, opts ...Option) (*Volume[V], error) {
	o := options{tableCapacity: DefaultTableCapacity}
	for _, opt := range opts {
		opt(&o)
	}

	if pager == nil {
		return nil, ErrNilPager
	}
	if targetMemoryBytes < MinTargetMemoryBytes {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMemoryBudgetTooSmall, targetMemoryBytes, MinTargetMemoryBytes)
	}
	if !validSideLength(sideLength) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSideLength, sideLength)
	}
	capacity := o.tableCapacity
	if capacity < 2*minPracticalChunks || capacity&(capacity-1) != 0 || capacity > 1<<24 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTableCapacity, capacity)
	}

	chunkBytes := ChunkSizeInBytes[V](sideLength)
	if chunkBytes == 0 {
		chunkBytes = 1
	}

	limit := targetMemoryBytes / chunkBytes
	if limit < minPracticalChunks {
		logging.Warn("Requested memory usage limit of %dMb is too low and cannot be adhered to", targetMemoryBytes/(1024*1024))
		limit = minPracticalChunks
	}
	if maxChunks := uint64(capacity / 2); limit > maxChunks {
		limit = maxChunks
	}

	clock := o.clock
	if clock == nil {
		clock = &Clock{}
	}

	v := &Volume[V]{
		clock:      clock,
		pager:      pager,
		sideLength: sideLength,
		sidePower:  uint8(bits.TrailingZeros16(sideLength)),
		sideMask:   int32(sideLength) - 1,
		chunkBytes: chunkBytes,
		limit:      int(limit),
		metrics:    o.metrics,
	}
	v.table = newChunkTable(capacity, v.limit, sideLength, pager, clock, o.metrics)

	logging.Debug("Memory usage limit for volume now set to %dMb (%d chunks of %dKb each)",
		(uint64(v.limit)*chunkBytes)/(1024*1024), v.limit, chunkBytes/1024)

	return v, nil
}

// GetVoxel возвращает воксель по глобальным координатам
func (v *Volume[V]) GetVoxel(x, y, z int32) V {
	chunk := v.chunkAt(x>>v.sidePower, y>>v.sidePower, z>>v.sidePower)
	return chunk.GetVoxel(uint16(x&v.sideMask), uint16(y&v.sideMask), uint16(z&v.sideMask))
}

// SetVoxel записывает воксель по глобальным координатам
func (v *Volume[V]) SetVoxel(x, y, z int32, value V) {
	chunk := v.chunkAt(x>>v.sidePower, y>>v.sidePower, z>>v.sidePower)
	chunk.SetVoxel(uint16(x&v.sideMask), uint16(y&v.sideMask), uint16(z&v.sideMask), value)
}

// GetVoxelAt то же, что GetVoxel, для вектора
func (v *Volume[V]) GetVoxelAt(pos vec.Vec3) V {
	return v.GetVoxel(pos.X, pos.Y, pos.Z)
}

// SetVoxelAt то же, что SetVoxel, для вектора
func (v *Volume[V]) SetVoxelAt(pos vec.Vec3, value V) {
	v.SetVoxel(pos.X, pos.Y, pos.Z, value)
}

// chunkAt возвращает чанк, используя последний чанк, если координаты совпадают
func (v *Volume[V]) chunkAt(cx, cy, cz int32) *Chunk[V] {
	coord := vec.Vec3{X: cx, Y: cy, Z: cz}
	if v.lastChunk != nil && v.lastCoord == coord {
		if v.metrics != nil {
			v.metrics.ObserveResolve(ResolveMemo)
		}
		return v.lastChunk
	}
	return v.resolveChunk(coord)
}

// resolveChunk полный поиск через таблицу; запоминает найденный чанк
func (v *Volume[V]) resolveChunk(coord vec.Vec3) *Chunk[V] {
	chunk, _ := v.table.resolve(coord)
	v.lastCoord = coord
	v.lastChunk = chunk
	return chunk
}

// Prefetch загружает все чанки, пересекающие регион.
// Если регион требует больше чанков, чем лимит, пишется предупреждение и
// загрузка все равно выполняется: часть чанков будет вытеснена до использования.
func (v *Volume[V]) Prefetch(region Region) PrefetchStats {
	var stats PrefetchStats
	chunks := region.Shr(v.sidePower)
	if !chunks.IsValid() {
		return stats
	}

	if chunks.Volume() > int64(v.limit) {
		logging.Warn("Attempting to prefetch more than the maximum number of chunks (%d > %d), this will cause thrashing",
			chunks.Volume(), v.limit)
		stats.Thrashing = true
	}

	// int64 в счетчиках цикла: верхняя граница может быть math.MaxInt32
	for x := int64(chunks.Lower.X); x <= int64(chunks.Upper.X); x++ {
		for y := int64(chunks.Lower.Y); y <= int64(chunks.Upper.Y); y++ {
			for z := int64(chunks.Lower.Z); z <= int64(chunks.Upper.Z); z++ {
				coord := vec.Vec3{X: int32(x), Y: int32(y), Z: int32(z)}
				chunk, created := v.table.resolve(coord)
				v.lastCoord = coord
				v.lastChunk = chunk
				stats.Chunks++
				if created {
					stats.Loaded++
				}
			}
		}
	}
	return stats
}

// FlushAll выгружает все чанки; измененные сохраняются через пейджер
func (v *Volume[V]) FlushAll() {
	// Сбрасываем до выгрузки, чтобы не осталось ссылки на выгруженный чанк
	v.lastChunk = nil
	v.lastCoord = vec.Vec3{}
	v.table.flush()
}

// Close выгружает все чанки. Объем остается пригодным к использованию.
func (v *Volume[V]) Close() error {
	v.FlushAll()
	return nil
}

// MemoryFootprint оценка памяти: сумма размеров данных резидентных чанков
func (v *Volume[V]) MemoryFootprint() uint64 {
	var total uint64
	v.table.forEach(func(c *Chunk[V]) {
		total += c.DataSizeInBytes()
	})
	return total
}

// DirtyChunks число резидентных чанков, которые будут сохранены при выгрузке
func (v *Volume[V]) DirtyChunks() int {
	dirty := 0
	v.table.forEach(func(c *Chunk[V]) {
		if c.IsDirty() {
			dirty++
		}
	})
	return dirty
}

// ChunkCountLimit максимальное число резидентных чанков
func (v *Volume[V]) ChunkCountLimit() int {
	return v.limit
}

// ResidentChunks текущее число резидентных чанков
func (v *Volume[V]) ResidentChunks() int {
	return v.table.count
}

// IsResident проверяет, загружен ли чанк, не трогая его штамп
func (v *Volume[V]) IsResident(chunkCoord vec.Vec3) bool {
	return v.table.contains(chunkCoord)
}

// ChunkCoord координаты чанка, содержащего воксель
func (v *Volume[V]) ChunkCoord(voxel vec.Vec3) vec.Vec3 {
	return voxel.Shr(v.sidePower)
}

// SideLength длина стороны чанка
func (v *Volume[V]) SideLength() uint16 {
	return v.sideLength
}

// SideLengthPower log2 длины стороны чанка
func (v *Volume[V]) SideLengthPower() uint8 {
	return v.sidePower
}

// ChunkSizeInBytes размер данных одного чанка
func (v *Volume[V]) ChunkSizeInBytes() uint64 {
	return v.chunkBytes
}

// Clock логические часы объема
func (v *Volume[V]) Clock() *Clock {
	return v.clock
}

package voxel

import (
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/annel0/pagedvolume/internal/vec"
)

// Chunk куб вокселей со стороной SideLength(), единица подкачки и вытеснения.
// Данные хранятся в Morton-порядке, чтобы соседние в пространстве ячейки
// оказывались рядом в памяти.
type Chunk[V any] struct {
	coord      vec.Vec3 // Координаты чанка (в чанках, не в вокселях)
	sideLength uint16
	sidePower  uint8
	data       []V

	dirty        bool   // Изменен после PageIn
	lastAccessed uint64 // Значение Clock при последнем обращении
	released     bool   // Чанк выгружен, данные недоступны

	pager Pager[V]
}

// NewChunk создает чанк и передает его пейджеру для заполнения.
// pager может быть nil: тогда данные остаются нулевыми. Обычно чанки создает
// таблица объема; отдельный конструктор нужен для импорта/экспорта и тестов пейджеров.
func NewChunk[V any](coord vec.Vec3, sideLength uint16, pager Pager[V]) *Chunk[V] {
	if !validSideLength(sideLength) {
		panic(fmt.Sprintf("voxel: invalid chunk side length %d", sideLength))
	}

	c := &Chunk[V]{
		coord:      coord,
		sideLength: sideLength,
		sidePower:  uint8(bits.TrailingZeros16(sideLength)),
		data:       make([]V, int(sideLength)*int(sideLength)*int(sideLength)),
		pager:      pager,
	}

	if pager != nil {
		pager.PageIn(c.Region(), c)
	}

	// Все записи пейджера во время загрузки не считаются изменениями
	c.dirty = false
	return c
}

// release выгружает чанк: PageOut только если данные изменены
func (c *Chunk[V]) release() {
	if c.released {
		return
	}
	if c.dirty && c.pager != nil {
		c.pager.PageOut(c.Region(), c)
	}
	c.released = true
	c.data = nil
}

// GetVoxel возвращает воксель по локальным координатам 0 <= x,y,z < SideLength().
// Выход за границы - ошибка программиста и приводит к панике (проверка индекса Go),
// так как координаты уже проверены на уровне Volume.
func (c *Chunk[V]) GetVoxel(x, y, z uint16) V {
	return c.data[MortonIndex(x, y, z)]
}

// SetVoxel записывает воксель и всегда помечает чанк измененным,
// даже если значение не поменялось.
func (c *Chunk[V]) SetVoxel(x, y, z uint16, v V) {
	c.data[MortonIndex(x, y, z)] = v
	c.dirty = true
}

// Data возвращает данные чанка в Morton-порядке.
// Пейджеры пишут в этот срез напрямую; запись через него не ставит флаг dirty.
func (c *Chunk[V]) Data() []V {
	return c.data
}

// MarkDirty помечает чанк измененным (после записи напрямую в Data())
func (c *Chunk[V]) MarkDirty() {
	c.dirty = true
}

// Coord координаты чанка
func (c *Chunk[V]) Coord() vec.Vec3 {
	return c.coord
}

// Region регион вокселей, покрываемый чанком
func (c *Chunk[V]) Region() Region {
	return chunkRegion(c.coord, c.sidePower)
}

// SideLength длина стороны чанка
func (c *Chunk[V]) SideLength() uint16 {
	return c.sideLength
}

// IsDirty возвращает true, если чанк изменен после загрузки
func (c *Chunk[V]) IsDirty() bool {
	return c.dirty
}

// IsReleased возвращает true, если чанк уже выгружен
func (c *Chunk[V]) IsReleased() bool {
	return c.released
}

// LastAccessed значение логических часов при последнем обращении
func (c *Chunk[V]) LastAccessed() uint64 {
	return c.lastAccessed
}

// DataSizeInBytes размер данных чанка
func (c *Chunk[V]) DataSizeInBytes() uint64 {
	return ChunkSizeInBytes[V](c.sideLength)
}

// ChangeLinearOrderingToMorton переупорядочивает данные, загруженные в построчном порядке
// (x + y*S + z*S*S) напрямую через Data(), в Morton-порядок.
func (c *Chunk[V]) ChangeLinearOrderingToMorton() {
	tmp := make([]V, len(c.data))
	LinearToMorton(tmp, c.data, c.sideLength)
	copy(c.data, tmp)
}

// ChangeMortonOrderingToLinear переупорядочивает данные в построчный порядок,
// например перед экспортом в формат, ожидающий его.
func (c *Chunk[V]) ChangeMortonOrderingToLinear() {
	tmp := make([]V, len(c.data))
	MortonToLinear(tmp, c.data, c.sideLength)
	copy(c.data, tmp)
}

// ChunkSizeInBytes размер данных чанка со стороной side.
// Служебные поля не учитываются: они пренебрежимо малы по сравнению с данными.
func ChunkSizeInBytes[V any](side uint16) uint64 {
	var zero V
	s := uint64(side)
	return s * s * s * uint64(unsafe.Sizeof(zero))
}

func validSideLength(side uint16) bool {
	return side != 0 && side <= MaxSideLength && side&(side-1) == 0
}

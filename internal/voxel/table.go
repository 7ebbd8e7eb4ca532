package voxel

import (
	"fmt"
	"math"

	"github.com/annel0/pagedvolume/internal/vec"
)

// chunkTable хеш-таблица фиксированной емкости с открытой адресацией.
// Таблица единолично владеет резидентными чанками; очистка слота выгружает чанк.
// Заполняется не более чем наполовину, поэтому цепочки проб остаются короткими.
type chunkTable[V any] struct {
	slots []*Chunk[V]
	mask  uint32
	count int
	limit int

	sideLength uint16
	pager      Pager[V]
	clock      *Clock
	metrics    Metrics
}

func newChunkTable[V any](capacity int, limit int, sideLength uint16, pager Pager[V], clock *Clock, metrics Metrics) *chunkTable[V] {
	return &chunkTable[V]{
		slots:      make([]*Chunk[V], capacity),
		mask:       uint32(capacity - 1),
		limit:      limit,
		sideLength: sideLength,
		pager:      pager,
		clock:      clock,
		metrics:    metrics,
	}
}

// positionHash 15-битный хеш из младших 5 бит каждой компоненты, сдвинутый на 1,
// чтобы равномерно покрыть 16-битное пространство индексов.
func positionHash(coord vec.Vec3) uint32 {
	x := uint32(coord.X) & 0x1F
	y := uint32(coord.Y) & 0x1F
	z := uint32(coord.Z) & 0x1F
	return (x | y<<5 | z<<10) << 1
}

// find ищет чанк линейным пробированием от start. Возвращает индекс слота или -1.
func (t *chunkTable[V]) find(coord vec.Vec3, start uint32) int {
	index := start
	for {
		if c := t.slots[index]; c != nil && c.coord == coord {
			return int(index)
		}
		index = (index + 1) & t.mask
		if index == start {
			return -1
		}
	}
}

// resolve возвращает чанк по координатам, создавая и загружая его при промахе.
// created == true, если чанк был создан (и вызван PageIn).
func (t *chunkTable[V]) resolve(coord vec.Vec3) (chunk *Chunk[V], created bool) {
	start := positionHash(coord) & t.mask

	if index := t.find(coord, start); index >= 0 {
		chunk = t.slots[index]
		chunk.lastAccessed = t.clock.Tick()
		if t.metrics != nil {
			t.metrics.ObserveResolve(ResolveHit)
		}
		return chunk, false
	}

	chunk = NewChunk(coord, t.sideLength, t.pager)
	// Штамп обязателен до вытеснения: иначе новый чанк оказался бы самым старым
	chunk.lastAccessed = t.clock.Tick()

	t.insert(chunk, start)
	if t.metrics != nil {
		t.metrics.ObserveResolve(ResolveMiss)
	}

	if t.count > t.limit {
		t.evictOldest()
	}
	if t.metrics != nil {
		t.metrics.SetResidentChunks(t.count)
	}
	return chunk, true
}

// insert кладет чанк в первый свободный слот начиная с start.
// Свободный слот есть всегда, пока таблица заполнена не более чем наполовину.
func (t *chunkTable[V]) insert(chunk *Chunk[V], start uint32) {
	index := start
	for {
		if t.slots[index] == nil {
			t.slots[index] = chunk
			t.count++
			return
		}
		index = (index + 1) & t.mask
		if index == start {
			panic(fmt.Sprintf("voxel: no space in chunk table for chunk %s (%d slots)", chunk.coord, len(t.slots)))
		}
	}
}

// evictOldest полным проходом находит чанк с наименьшим штампом и выгружает его.
// O(емкость), но на фоне ввода-вывода пейджера это дешево, а порядок вытеснения точный.
func (t *chunkTable[V]) evictOldest() {
	oldest := -1
	oldestStamp := uint64(math.MaxUint64)
	for i, c := range t.slots {
		if c != nil && c.lastAccessed < oldestStamp {
			oldestStamp = c.lastAccessed
			oldest = i
		}
	}
	if oldest < 0 {
		return
	}
	t.clearSlot(oldest)
}

// clearSlot освобождает слот и выгружает чанк (PageOut, если он изменен)
func (t *chunkTable[V]) clearSlot(index int) {
	c := t.slots[index]
	t.slots[index] = nil
	t.count--

	dirty := c.dirty
	c.release()
	if t.metrics != nil {
		t.metrics.ObserveEviction(dirty)
	}
}

// flush выгружает все резидентные чанки
func (t *chunkTable[V]) flush() {
	for i, c := range t.slots {
		if c != nil {
			t.clearSlot(i)
		}
	}
	if t.metrics != nil {
		t.metrics.SetResidentChunks(t.count)
	}
}

// contains проверяет наличие чанка без обновления штампа и без загрузки
func (t *chunkTable[V]) contains(coord vec.Vec3) bool {
	return t.find(coord, positionHash(coord)&t.mask) >= 0
}

// forEach обходит резидентные чанки в порядке слотов
func (t *chunkTable[V]) forEach(fn func(c *Chunk[V])) {
	for _, c := range t.slots {
		if c != nil {
			fn(c)
		}
	}
}

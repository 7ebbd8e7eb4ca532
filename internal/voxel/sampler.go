package voxel

import (
	"fmt"

	"github.com/annel0/pagedvolume/internal/vec"
)

// Direction шаг сэмплера вдоль одной оси
type Direction uint8

const (
	PositiveX Direction = iota
	NegativeX
	PositiveY
	NegativeY
	PositiveZ
	NegativeZ
)

// String возвращает строковое представление направления
func (d Direction) String() string {
	switch d {
	case PositiveX:
		return "+x"
	case NegativeX:
		return "-x"
	case PositiveY:
		return "+y"
	case NegativeY:
		return "-y"
	case PositiveZ:
		return "+z"
	case NegativeZ:
		return "-z"
	default:
		return "unknown"
	}
}

// Offset единичный вектор направления
func (d Direction) Offset() vec.Vec3 {
	switch d {
	case PositiveX:
		return vec.New(1, 0, 0)
	case NegativeX:
		return vec.New(-1, 0, 0)
	case PositiveY:
		return vec.New(0, 1, 0)
	case NegativeY:
		return vec.New(0, -1, 0)
	case PositiveZ:
		return vec.New(0, 0, 1)
	case NegativeZ:
		return vec.New(0, 0, -1)
	default:
		return vec.Vec3{}
	}
}

// Sampler курсор для последовательного обхода соседних вокселей.
// Хранит текущий чанк и Morton-индекс внутри него; шаг внутри чанка
// не обращается к таблице, а только прибавляет заранее посчитанную разницу индексов.
// На границе чанка выполняется полный SetPosition.
//
// Sampler только читает: SetVoxel не поддерживается.
type Sampler[V any] struct {
	volume *Volume[V]

	pos          vec.Vec3 // Позиция в координатах вокселей
	xInChunk     uint16
	yInChunk     uint16
	zInChunk     uint16
	sideMinusOne uint16

	chunk *Chunk[V]
	index uint32
}

// NewSampler создает сэмплер для объема. Позиция по умолчанию (0,0,0),
// чанк разрешается при первом чтении или вызове SetPosition.
func NewSampler[V any](volume *Volume[V]) *Sampler[V] {
	return &Sampler[V]{
		volume:       volume,
		sideMinusOne: volume.sideLength - 1,
	}
}

// SetPosition перемещает сэмплер в произвольную точку (с поиском чанка)
func (s *Sampler[V]) SetPosition(x, y, z int32) {
	power := s.volume.sidePower
	mask := s.volume.sideMask

	s.pos = vec.Vec3{X: x, Y: y, Z: z}
	s.xInChunk = uint16(x & mask)
	s.yInChunk = uint16(y & mask)
	s.zInChunk = uint16(z & mask)
	s.index = MortonIndex(s.xInChunk, s.yInChunk, s.zInChunk)
	s.chunk = s.volume.chunkAt(x>>power, y>>power, z>>power)
}

// SetPositionAt то же, что SetPosition, для вектора
func (s *Sampler[V]) SetPositionAt(pos vec.Vec3) {
	s.SetPosition(pos.X, pos.Y, pos.Z)
}

// Position текущая позиция в координатах вокселей
func (s *Sampler[V]) Position() vec.Vec3 {
	return s.pos
}

// Voxel значение вокселя в текущей позиции.
// Если чанк сэмплера был вытеснен, он разрешается заново.
func (s *Sampler[V]) Voxel() V {
	if s.chunk == nil || s.chunk.released {
		s.SetPosition(s.pos.X, s.pos.Y, s.pos.Z)
	}
	return s.chunk.data[s.index]
}

// SetVoxel не поддерживается: кешированный указатель сэмплера несовместим
// с безопасным изменением данных через него.
func (s *Sampler[V]) SetVoxel(V) {
	panic("voxel: SetVoxel cannot be used on volume samplers")
}

// Peek возвращает соседний воксель со смещением (dx,dy,dz), не двигая сэмплер
func (s *Sampler[V]) Peek(dx, dy, dz int32) V {
	lx := int32(s.xInChunk) + dx
	ly := int32(s.yInChunk) + dy
	lz := int32(s.zInChunk) + dz
	side := int32(s.sideMinusOne)

	if s.chunk != nil && !s.chunk.released &&
		lx >= 0 && lx <= side && ly >= 0 && ly <= side && lz >= 0 && lz <= side {
		return s.chunk.data[MortonIndex(uint16(lx), uint16(ly), uint16(lz))]
	}
	return s.volume.GetVoxel(s.pos.X+dx, s.pos.Y+dy, s.pos.Z+dz)
}

// Move делает шаг в направлении d
func (s *Sampler[V]) Move(d Direction) {
	switch d {
	case PositiveX:
		s.MovePositiveX()
	case NegativeX:
		s.MoveNegativeX()
	case PositiveY:
		s.MovePositiveY()
	case NegativeY:
		s.MoveNegativeY()
	case PositiveZ:
		s.MovePositiveZ()
	case NegativeZ:
		s.MoveNegativeZ()
	default:
		panic(fmt.Sprintf("voxel: unknown sampler direction %d", d))
	}
}

// MovePositiveX шаг на +1 по X
func (s *Sampler[V]) MovePositiveX() {
	s.pos.X++
	if s.xInChunk < s.sideMinusOne {
		s.index += deltaX[s.xInChunk]
		s.xInChunk++
	} else {
		// Граница чанка: проще всего полный SetPosition
		s.SetPosition(s.pos.X, s.pos.Y, s.pos.Z)
	}
}

// MoveNegativeX шаг на -1 по X
func (s *Sampler[V]) MoveNegativeX() {
	s.pos.X--
	if s.xInChunk > 0 {
		s.index -= deltaX[s.xInChunk-1]
		s.xInChunk--
	} else {
		s.SetPosition(s.pos.X, s.pos.Y, s.pos.Z)
	}
}

// MovePositiveY шаг на +1 по Y
func (s *Sampler[V]) MovePositiveY() {
	s.pos.Y++
	if s.yInChunk < s.sideMinusOne {
		s.index += deltaY[s.yInChunk]
		s.yInChunk++
	} else {
		s.SetPosition(s.pos.X, s.pos.Y, s.pos.Z)
	}
}

// MoveNegativeY шаг на -1 по Y
func (s *Sampler[V]) MoveNegativeY() {
	s.pos.Y--
	if s.yInChunk > 0 {
		s.index -= deltaY[s.yInChunk-1]
		s.yInChunk--
	} else {
		s.SetPosition(s.pos.X, s.pos.Y, s.pos.Z)
	}
}

// MovePositiveZ шаг на +1 по Z
func (s *Sampler[V]) MovePositiveZ() {
	s.pos.Z++
	if s.zInChunk < s.sideMinusOne {
		s.index += deltaZ[s.zInChunk]
		s.zInChunk++
	} else {
		s.SetPosition(s.pos.X, s.pos.Y, s.pos.Z)
	}
}

// MoveNegativeZ шаг на -1 по Z
func (s *Sampler[V]) MoveNegativeZ() {
	s.pos.Z--
	if s.zInChunk > 0 {
		s.index -= deltaZ[s.zInChunk-1]
		s.zInChunk--
	} else {
		s.SetPosition(s.pos.X, s.pos.Y, s.pos.Z)
	}
}

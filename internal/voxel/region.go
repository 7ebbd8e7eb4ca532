package voxel

import (
	"fmt"
	"math"

	"github.com/annel0/pagedvolume/internal/vec"
)

// Region выровненный по осям параллелепипед в пространстве вокселей.
// Обе границы включительно.
type Region struct {
	Lower vec.Vec3
	Upper vec.Vec3
}

// NewRegion создает регион по двум углам
func NewRegion(lower, upper vec.Vec3) Region {
	return Region{Lower: lower, Upper: upper}
}

// RegionFromCoords создает регион по шести координатам
func RegionFromCoords(lowerX, lowerY, lowerZ, upperX, upperY, upperZ int32) Region {
	return Region{
		Lower: vec.New(lowerX, lowerY, lowerZ),
		Upper: vec.New(upperX, upperY, upperZ),
	}
}

// IsValid проверяет, что нижний угол не превосходит верхний ни по одной оси
func (r Region) IsValid() bool {
	return r.Lower.X <= r.Upper.X && r.Lower.Y <= r.Upper.Y && r.Lower.Z <= r.Upper.Z
}

// Contains проверяет, лежит ли точка внутри региона
func (r Region) Contains(p vec.Vec3) bool {
	return p.X >= r.Lower.X && p.X <= r.Upper.X &&
		p.Y >= r.Lower.Y && p.Y <= r.Upper.Y &&
		p.Z >= r.Lower.Z && p.Z <= r.Upper.Z
}

// Width количество вокселей вдоль X
func (r Region) Width() int64 {
	return int64(r.Upper.X) - int64(r.Lower.X) + 1
}

// Height количество вокселей вдоль Y
func (r Region) Height() int64 {
	return int64(r.Upper.Y) - int64(r.Lower.Y) + 1
}

// Depth количество вокселей вдоль Z
func (r Region) Depth() int64 {
	return int64(r.Upper.Z) - int64(r.Lower.Z) + 1
}

// Volume количество вокселей в регионе; 0 для невалидного региона.
// Насыщается на math.MaxInt64: три оси по 2^32 не помещаются в int64.
func (r Region) Volume() int64 {
	if !r.IsValid() {
		return 0
	}
	w, h, d := r.Width(), r.Height(), r.Depth()
	if w > math.MaxInt64/h {
		return math.MaxInt64
	}
	if w*h > math.MaxInt64/d {
		return math.MaxInt64
	}
	return w * h * d
}

// Shr переводит регион в более грубую сетку (например, в координаты чанков)
func (r Region) Shr(power uint8) Region {
	return Region{Lower: r.Lower.Shr(power), Upper: r.Upper.Shr(power)}
}

func (r Region) String() string {
	return fmt.Sprintf("[%s..%s]", r.Lower, r.Upper)
}

// chunkRegion возвращает регион вокселей, покрываемый чанком
func chunkRegion(coord vec.Vec3, sidePower uint8) Region {
	lower := coord.Shl(sidePower)
	span := int32(1)<<sidePower - 1
	return Region{Lower: lower, Upper: lower.Add(vec.Splat(span))}
}

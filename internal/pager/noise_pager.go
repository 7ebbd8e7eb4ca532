package pager

import (
	"math"

	"github.com/annel0/pagedvolume/internal/voxel"
	"github.com/aquilax/go-perlin"
)

// Параметры шума Перлина
const (
	noiseAlpha   = 2.0 // Сглаживание шума
	noiseBeta    = 2.0 // Частота шума
	noiseOctaves = 3   // Количество октав

	defaultNoiseScale = 0.01
	defaultColorScale = 0.05
	dirtDepth         = 3
)

// NoiseConfig параметры процедурного ландшафта
type NoiseConfig struct {
	Seed      int64
	SeaLevel  int32   // Высота уровня воды
	Amplitude float64 // Перепад высот относительно SeaLevel
	Scale     float64 // Масштаб шума высоты; 0 - значение по умолчанию
}

// NoisePager заполняет чанки ландшафтом по карте высот из шума Перлина.
// Ось Y направлена вверх. Изменения не сохраняются: PageOut ничего не делает.
type NoisePager struct {
	cfg    NoiseConfig
	height *perlin.Perlin
	color  *perlin.Perlin
}

// NewNoisePager создает генератор. Одинаковый сид дает одинаковый ландшафт.
func NewNoisePager(cfg NoiseConfig) *NoisePager {
	if cfg.Scale == 0 {
		cfg.Scale = defaultNoiseScale
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 32
	}

	return &NoisePager{
		cfg:    cfg,
		height: perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctaves, cfg.Seed),
		color:  perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctaves, cfg.Seed+42),
	}
}

// HeightAt высота поверхности в колонке (x, z)
func (n *NoisePager) HeightAt(x, z int32) int32 {
	v := n.height.Noise2D(float64(x)*n.cfg.Scale, float64(z)*n.cfg.Scale)
	return n.cfg.SeaLevel + int32(math.Floor(v*n.cfg.Amplitude))
}

// VoxelAt воксель в точке. PageIn дает тот же результат, но считает высоту один раз на колонку.
func (n *NoisePager) VoxelAt(x, y, z int32) voxel.Voxel {
	return n.voxelFor(y, n.HeightAt(x, z), n.colorAt(x, z))
}

func (n *NoisePager) colorAt(x, z int32) uint8 {
	// Noise2D в [-1, 1]
	v := n.color.Noise2D(float64(x)*defaultColorScale, float64(z)*defaultColorScale)
	return uint8((v + 1.0) / 2.0 * 255)
}

func (n *NoisePager) voxelFor(y, height int32, color uint8) voxel.Voxel {
	switch {
	case y > height:
		if y <= n.cfg.SeaLevel {
			return voxel.NewVoxel(voxel.MaterialWater, color)
		}
		return voxel.Voxel{}
	case y == height:
		if height <= n.cfg.SeaLevel+1 {
			return voxel.NewVoxel(voxel.MaterialSand, color)
		}
		return voxel.NewVoxel(voxel.MaterialGrass, color)
	case y > height-dirtDepth:
		return voxel.NewVoxel(voxel.MaterialDirt, color)
	default:
		return voxel.NewVoxel(voxel.MaterialRock, color)
	}
}

// PageIn генерирует содержимое чанка
func (n *NoisePager) PageIn(region voxel.Region, chunk *voxel.Chunk[voxel.Voxel]) {
	side := chunk.SideLength()
	for lz := uint16(0); lz < side; lz++ {
		z := region.Lower.Z + int32(lz)
		for lx := uint16(0); lx < side; lx++ {
			x := region.Lower.X + int32(lx)
			height := n.HeightAt(x, z)
			color := n.colorAt(x, z)
			for ly := uint16(0); ly < side; ly++ {
				chunk.SetVoxel(lx, ly, lz, n.voxelFor(region.Lower.Y+int32(ly), height, color))
			}
		}
	}
}

// PageOut отбрасывает изменения
func (n *NoisePager) PageOut(voxel.Region, *voxel.Chunk[voxel.Voxel]) {}

var _ voxel.Pager[voxel.Voxel] = (*NoisePager)(nil)

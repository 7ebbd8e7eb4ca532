// Package voxel реализует страничный разреженный объем вокселей с ограниченным
// объемом памяти: кеш кубических чанков фиксированного размера, адресуемых
// бесконечными целочисленными координатами.
//
// Резидентными остаются не более ChunkCountLimit() чанков. Загрузка отсутствующих
// и сохранение вытесняемых (измененных) чанков делегируется Pager.
//
// Пакет не потокобезопасен: у каждого Volume один владелец, параллельный доступ
// сериализуется снаружи.
package voxel

const (
	// MaxSideLength максимальная длина стороны чанка
	MaxSideLength = 256

	// MinTargetMemoryBytes нижняя граница бюджета памяти объема (1 MiB)
	MinTargetMemoryBytes = 1 << 20

	// DefaultTableCapacity емкость таблицы чанков по умолчанию
	DefaultTableCapacity = 1 << 16

	// minPracticalChunks достаточно, чтобы чанк и все его соседи были загружены одновременно, с запасом
	minPracticalChunks = 32
)

// MaterialType тип материала вокселя
type MaterialType uint8

const (
	MaterialAir MaterialType = iota
	MaterialWater
	MaterialGeneric
	MaterialGrass
	MaterialDirt
	MaterialSand
	MaterialRock
	MaterialWood
	MaterialLeaf
)

// String возвращает строковое представление материала
func (m MaterialType) String() string {
	switch m {
	case MaterialAir:
		return "air"
	case MaterialWater:
		return "water"
	case MaterialGeneric:
		return "generic"
	case MaterialGrass:
		return "grass"
	case MaterialDirt:
		return "dirt"
	case MaterialSand:
		return "sand"
	case MaterialRock:
		return "rock"
	case MaterialWood:
		return "wood"
	case MaterialLeaf:
		return "leaf"
	default:
		return "unknown"
	}
}

// Voxel значение вокселя по умолчанию: материал и индекс цвета в палитре.
// Объем не интерпретирует значение, для него это просто 2 байта.
type Voxel struct {
	Material MaterialType
	Color    uint8
}

// NewVoxel создает воксель
func NewVoxel(material MaterialType, color uint8) Voxel {
	return Voxel{Material: material, Color: color}
}

// IsAir проверяет, является ли воксель пустым
func (v Voxel) IsAir() bool {
	return v.Material == MaterialAir
}

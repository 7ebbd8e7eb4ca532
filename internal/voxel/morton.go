package voxel

// Таблицы раскладки битов для Morton-кода (Z-order).
// mortonX[i] содержит биты i на позициях 0,3,6,...; mortonY сдвинута на 1, mortonZ на 2.
// Индекс вокселя в чанке: mortonX[x] | mortonY[y] | mortonZ[z].
//
// Для чанка со стороной S (степень двойки) коды координат < S занимают ровно [0, S³),
// поэтому одна таблица на 256 элементов обслуживает все допустимые размеры.
var (
	mortonX [MaxSideLength]uint32
	mortonY [MaxSideLength]uint32
	mortonZ [MaxSideLength]uint32
)

// Разница Morton-индексов между соседними ячейками вдоль оси.
// deltaX[i] = mortonX[i+1] - mortonX[i]; шаг не постоянен, поэтому хранится на каждое смещение.
var (
	deltaX [MaxSideLength - 1]uint32
	deltaY [MaxSideLength - 1]uint32
	deltaZ [MaxSideLength - 1]uint32
)

func init() {
	for i := uint32(0); i < MaxSideLength; i++ {
		spread := spreadBits(i)
		mortonX[i] = spread
		mortonY[i] = spread << 1
		mortonZ[i] = spread << 2
	}
	for i := 0; i < MaxSideLength-1; i++ {
		deltaX[i] = mortonX[i+1] - mortonX[i]
		deltaY[i] = mortonY[i+1] - mortonY[i]
		deltaZ[i] = mortonZ[i+1] - mortonZ[i]
	}
}

// spreadBits раздвигает младшие 10 бит так, чтобы между ними было по два нулевых бита
func spreadBits(v uint32) uint32 {
	v &= 0x3FF
	v = (v | (v << 16)) & 0x030000FF
	v = (v | (v << 8)) & 0x0300F00F
	v = (v | (v << 4)) & 0x030C30C3
	v = (v | (v << 2)) & 0x09249249
	return v
}

// MortonIndex возвращает индекс ячейки (x,y,z) в Morton-упорядоченном массиве.
// Координаты должны быть меньше MaxSideLength.
func MortonIndex(x, y, z uint16) uint32 {
	return mortonX[x] | mortonY[y] | mortonZ[z]
}

// LinearIndex возвращает индекс ячейки в построчном порядке x + y*S + z*S*S
func LinearIndex(x, y, z, side uint16) uint32 {
	s := uint32(side)
	return uint32(x) + uint32(y)*s + uint32(z)*s*s
}

// LinearToMorton переупорядочивает src (построчный порядок) в dst (Morton).
// Оба буфера должны содержать side³ элементов и не пересекаться.
func LinearToMorton[V any](dst, src []V, side uint16) {
	n := int(side) * int(side) * int(side)
	if len(dst) < n || len(src) < n {
		panic("voxel: buffer is smaller than side³")
	}
	var linear uint32
	for z := uint16(0); z < side; z++ {
		for y := uint16(0); y < side; y++ {
			for x := uint16(0); x < side; x++ {
				dst[MortonIndex(x, y, z)] = src[linear]
				linear++
			}
		}
	}
}

// MortonToLinear выполняет обратное преобразование: src (Morton) -> dst (построчный порядок)
func MortonToLinear[V any](dst, src []V, side uint16) {
	n := int(side) * int(side) * int(side)
	if len(dst) < n || len(src) < n {
		panic("voxel: buffer is smaller than side³")
	}
	var linear uint32
	for z := uint16(0); z < side; z++ {
		for y := uint16(0); y < side; y++ {
			for x := uint16(0); x < side; x++ {
				dst[linear] = src[MortonIndex(x, y, z)]
				linear++
			}
		}
	}
}

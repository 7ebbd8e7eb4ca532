package voxel

// Codec сериализует значения фиксированного размера.
// Используется пейджерами, которые хранят чанки в виде байтов.
type Codec[V any] interface {
	// Size размер одного значения в байтах
	Size() int
	// Put записывает v в dst[:Size()]
	Put(dst []byte, v V)
	// Get читает значение из src[:Size()]
	Get(src []byte) V
}

// VoxelCodec кодирует Voxel в два байта: материал, цвет
type VoxelCodec struct{}

func (VoxelCodec) Size() int { return 2 }

func (VoxelCodec) Put(dst []byte, v Voxel) {
	dst[0] = byte(v.Material)
	dst[1] = v.Color
}

func (VoxelCodec) Get(src []byte) Voxel {
	return Voxel{Material: MaterialType(src[0]), Color: src[1]}
}

// ByteCodec кодирует однобайтовые значения (плотность, маски)
type ByteCodec struct{}

func (ByteCodec) Size() int { return 1 }

func (ByteCodec) Put(dst []byte, v uint8) { dst[0] = v }

func (ByteCodec) Get(src []byte) uint8 { return src[0] }

// EncodeValues сериализует values в новый буфер
func EncodeValues[V any](codec Codec[V], values []V) []byte {
	size := codec.Size()
	out := make([]byte, len(values)*size)
	for i, v := range values {
		codec.Put(out[i*size:], v)
	}
	return out
}

// DecodeValues заполняет values из raw. Возвращает false, если длина raw не совпадает.
func DecodeValues[V any](codec Codec[V], raw []byte, values []V) bool {
	size := codec.Size()
	if len(raw) != len(values)*size {
		return false
	}
	for i := range values {
		values[i] = codec.Get(raw[i*size:])
	}
	return true
}

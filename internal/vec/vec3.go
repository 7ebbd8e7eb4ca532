package vec

import "fmt"

// Vec3 представляет трехмерный вектор с целочисленными координатами.
// Используется и для координат вокселей, и для координат чанков.
type Vec3 struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

// New создает Vec3 из трех компонент
func New(x, y, z int32) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

// Splat создает Vec3 с одинаковыми компонентами
func Splat(v int32) Vec3 {
	return Vec3{X: v, Y: v, Z: v}
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Sub вычитает другой вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{
		X: v.X - other.X,
		Y: v.Y - other.Y,
		Z: v.Z - other.Z,
	}
}

// Shr выполняет арифметический сдвиг вправо каждой компоненты.
// Для отрицательных координат округляет вниз (-1 >> 5 == -1), что и нужно
// для перевода координат вокселя в координаты чанка.
func (v Vec3) Shr(power uint8) Vec3 {
	return Vec3{
		X: v.X >> power,
		Y: v.Y >> power,
		Z: v.Z >> power,
	}
}

// Shl выполняет сдвиг влево каждой компоненты (умножение на 2^power)
func (v Vec3) Shl(power uint8) Vec3 {
	return Vec3{
		X: v.X << power,
		Y: v.Y << power,
		Z: v.Z << power,
	}
}

// And применяет битовую маску к каждой компоненте
func (v Vec3) And(mask int32) Vec3 {
	return Vec3{
		X: v.X & mask,
		Y: v.Y & mask,
		Z: v.Z & mask,
	}
}

// Min возвращает покомпонентный минимум
func (v Vec3) Min(other Vec3) Vec3 {
	return Vec3{X: min(v.X, other.X), Y: min(v.Y, other.Y), Z: min(v.Z, other.Z)}
}

// Max возвращает покомпонентный максимум
func (v Vec3) Max(other Vec3) Vec3 {
	return Vec3{X: max(v.X, other.X), Y: max(v.Y, other.Y), Z: max(v.Z, other.Z)}
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z)
}

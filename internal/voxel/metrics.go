package voxel

// ResolveResult результат поиска чанка по координате
type ResolveResult int

const (
	// ResolveMemo чанк совпал с последним использованным, таблица не опрашивалась
	ResolveMemo ResolveResult = iota
	// ResolveHit чанк найден в таблице
	ResolveHit
	// ResolveMiss чанк создан и загружен через Pager
	ResolveMiss
)

// String возвращает строковое представление результата
func (r ResolveResult) String() string {
	switch r {
	case ResolveMemo:
		return "memo"
	case ResolveHit:
		return "hit"
	case ResolveMiss:
		return "miss"
	default:
		return "unknown"
	}
}

// Metrics наблюдатель за работой объема.
// Объем принимает nil: тогда на горячем пути нет никаких накладных расходов.
type Metrics interface {
	// ObserveResolve фиксирует результат поиска чанка
	ObserveResolve(result ResolveResult)

	// ObserveEviction фиксирует вытеснение чанка; dirty означает, что был вызван PageOut
	ObserveEviction(dirty bool)

	// SetResidentChunks сообщает текущее число резидентных чанков
	SetResidentChunks(n int)
}

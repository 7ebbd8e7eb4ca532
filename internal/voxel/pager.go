package voxel

// Pager загружает и сохраняет содержимое чанков за пределами кеша.
//
// PageIn вызывается ровно один раз при создании чанка и должен полностью
// инициализировать его данные для региона region (весь экстент чанка).
// PageOut вызывается ровно один раз при уничтожении чанка и только если чанк
// был изменен после загрузки; реализация должна надежно сохранить данные.
//
// Вызовы синхронны и блокируют вызывающего. Ошибок ядро не моделирует:
// реализация сама решает, как сообщить о сбое ввода-вывода.
type Pager[V any] interface {
	PageIn(region Region, chunk *Chunk[V])
	PageOut(region Region, chunk *Chunk[V])
}

// PagerFuncs адаптирует пару функций к интерфейсу Pager.
// Нулевая функция означает отсутствие действия.
type PagerFuncs[V any] struct {
	In  func(region Region, chunk *Chunk[V])
	Out func(region Region, chunk *Chunk[V])
}

// PageIn вызывает In, если она задана
func (p PagerFuncs[V]) PageIn(region Region, chunk *Chunk[V]) {
	if p.In != nil {
		p.In(region, chunk)
	}
}

// PageOut вызывает Out, если она задана
func (p PagerFuncs[V]) PageOut(region Region, chunk *Chunk[V]) {
	if p.Out != nil {
		p.Out(region, chunk)
	}
}

package voxel

// Clock логические часы объема: монотонно растущий счетчик обращений к чанкам.
// Не зависит от времени на стенке, поэтому порядок вытеснения детерминирован.
type Clock struct {
	now uint64
}

// Tick увеличивает счетчик и возвращает новое значение
func (c *Clock) Tick() uint64 {
	c.now++
	return c.now
}

// Now возвращает последнее выданное значение
func (c *Clock) Now() uint64 {
	return c.now
}

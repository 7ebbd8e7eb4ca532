package voxel

import "errors"

// Ошибки конструирования объема. Объем с нарушенным контрактом не создается.
var (
	ErrNilPager             = errors.New("voxel: pager must not be nil")
	ErrInvalidSideLength    = errors.New("voxel: chunk side length must be a non-zero power of two not greater than 256")
	ErrMemoryBudgetTooSmall = errors.New("voxel: target memory usage is too small to be practical")
	ErrInvalidTableCapacity = errors.New("voxel: chunk table capacity must be a power of two of at least 64")
)

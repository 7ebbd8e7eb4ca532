package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/pagedvolume/internal/vec"
)

var (
	// ErrChunkNotFound чанк никогда не сохранялся
	ErrChunkNotFound = errors.New("storage: chunk not found")
	// ErrStoreClosed хранилище уже закрыто
	ErrStoreClosed = errors.New("storage: store is closed")
	// ErrListingUnsupported хранилище не умеет перечислять ключи
	ErrListingUnsupported = errors.New("storage: key listing is not supported")
)

// ChunkStore определяет интерфейс хранилища сериализованных чанков.
// Хранилище не знает о типе вокселей: оно хранит готовые блобы по ключам ChunkKey.
type ChunkStore interface {
	// Load загружает блоб чанка.
	// Параметры:
	//   ctx - контекст для отмены операции
	//   key - ключ чанка (см. ChunkKey)
	// Возвращает:
	//   []byte - копия блоба, вызывающий может ее изменять
	//   error - ErrChunkNotFound, если чанк не сохранялся
	Load(ctx context.Context, key string) ([]byte, error)

	// Store сохраняет блоб чанка, перезаписывая предыдущий.
	Store(ctx context.Context, key string, blob []byte) error

	// Delete удаляет блоб. Удаление отсутствующего ключа не является ошибкой.
	Delete(ctx context.Context, key string) error

	// Close освобождает ресурсы хранилища
	Close() error
}

// KeyLister реализуется хранилищами, умеющими перечислять ключи
type KeyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// ChunkKey формирует ключ чанка: "<namespace>:chunk:x:y:z"
func ChunkKey(namespace string, coord vec.Vec3) string {
	return fmt.Sprintf("%s:chunk:%d:%d:%d", namespace, coord.X, coord.Y, coord.Z)
}

// ChunkPrefix префикс всех ключей чанков пространства имен
func ChunkPrefix(namespace string) string {
	return namespace + ":chunk:"
}

// ParseChunkKey разбирает ключ, созданный ChunkKey
func ParseChunkKey(key string) (namespace string, coord vec.Vec3, err error) {
	// Пространство имен может содержать ':', поэтому разбираем с конца
	var x, y, z int32
	idx := lastIndexN(key, ':', 4)
	if idx < 0 {
		return "", vec.Vec3{}, fmt.Errorf("некорректный ключ чанка %q", key)
	}
	if _, err := fmt.Sscanf(key[idx:], ":chunk:%d:%d:%d", &x, &y, &z); err != nil {
		return "", vec.Vec3{}, fmt.Errorf("некорректный ключ чанка %q: %w", key, err)
	}
	return key[:idx], vec.New(x, y, z), nil
}

// ListChunks возвращает координаты всех сохраненных чанков пространства имен.
// Ключи, которые не разбираются или принадлежат другому пространству имен
// с тем же префиксом, пропускаются.
func ListChunks(ctx context.Context, store ChunkStore, namespace string) ([]vec.Vec3, error) {
	lister, ok := store.(KeyLister)
	if !ok {
		return nil, ErrListingUnsupported
	}

	keys, err := lister.Keys(ctx, ChunkPrefix(namespace))
	if err != nil {
		return nil, err
	}

	coords := make([]vec.Vec3, 0, len(keys))
	for _, key := range keys {
		ns, coord, err := ParseChunkKey(key)
		if err != nil || ns != namespace {
			continue
		}
		coords = append(coords, coord)
	}
	return coords, nil
}

// lastIndexN индекс n-го с конца вхождения c или -1
func lastIndexN(s string, c byte, n int) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			n--
			if n == 0 {
				return i
			}
		}
	}
	return -1
}

// checkContext возвращает ошибку контекста, если он уже отменен
func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

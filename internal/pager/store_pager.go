// Package pager содержит реализации voxel.Pager: загрузку чанков из хранилища
// блобов, процедурную генерацию и обертку с метриками и трассировкой.
package pager

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/annel0/pagedvolume/internal/logging"
	"github.com/annel0/pagedvolume/internal/storage"
	"github.com/annel0/pagedvolume/internal/vec"
	"github.com/annel0/pagedvolume/internal/voxel"
)

// Op операция пейджера
type Op string

const (
	OpPageIn  Op = "page_in"
	OpPageOut Op = "page_out"
)

// ErrLayoutMismatch блоб записан для чанка другого размера или другого типа значений
var ErrLayoutMismatch = errors.New("pager: blob does not match chunk layout")

// ErrorHandler получает сбои ввода-вывода пейджера.
// Вызывается синхронно из PageIn/PageOut, то есть внутри операции объема.
type ErrorHandler func(op Op, key string, err error)

// StoreStats счетчики StorePager
type StoreStats struct {
	Loads    int64 `json:"loads"`
	Stores   int64 `json:"stores"`
	Missing  int64 `json:"missing"`
	Failures int64 `json:"failures"`
}

// StorePager хранит чанки как блобы в storage.ChunkStore.
//
// PageIn читает блоб по ключу чанка; если блоба нет, чанк заполняет fallback
// (например, генератор), а без него данные остаются нулевыми. Ошибка чтения или
// поврежденный блоб также оставляют нулевые данные: чанк не помечен измененным
// и не перезапишет блоб, пока его не изменят.
// PageOut сериализует данные в выбранном порядке и записывает блоб.
type StorePager[V any] struct {
	store     storage.ChunkStore
	codec     voxel.Codec[V]
	namespace string
	layout    storage.Layout
	timeout   time.Duration
	fallback  voxel.Pager[V]
	onError   ErrorHandler
	logger    *logging.Logger

	loads    int64
	stores   int64
	missing  int64
	failures int64
}

// StoreOption настраивает StorePager
type StoreOption func(*storeOptions)

type storeOptions struct {
	namespace string
	layout    storage.Layout
	timeout   time.Duration
	onError   ErrorHandler
}

// WithNamespace задает пространство имен ключей (по умолчанию "volume")
func WithNamespace(ns string) StoreOption {
	return func(o *storeOptions) { o.namespace = ns }
}

// WithLayout задает порядок вокселей в записываемых блобах
func WithLayout(layout storage.Layout) StoreOption {
	return func(o *storeOptions) { o.layout = layout }
}

// WithTimeout задает таймаут одной операции с хранилищем
func WithTimeout(d time.Duration) StoreOption {
	return func(o *storeOptions) { o.timeout = d }
}

// WithErrorHandler задает обработчик сбоев
func WithErrorHandler(h ErrorHandler) StoreOption {
	return func(o *storeOptions) { o.onError = h }
}

// NewStorePager создает пейджер поверх хранилища блобов.
//
// Параметры:
//
//	store - хранилище блобов
//	codec - сериализация значений вокселей
//	fallback - пейджер для чанков, которых нет в хранилище (может быть nil)
func NewStorePager[V any](store storage.ChunkStore, codec voxel.Codec[V], fallback voxel.Pager[V], opts ...StoreOption) *StorePager[V] {
	o := storeOptions{
		namespace: "volume",
		layout:    storage.LayoutMorton,
		timeout:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &StorePager[V]{
		store:     store,
		codec:     codec,
		namespace: o.namespace,
		layout:    o.layout,
		timeout:   o.timeout,
		fallback:  fallback,
		onError:   o.onError,
		logger:    logging.GetPagerLogger(),
	}
}

// Key ключ блоба для чанка
func (p *StorePager[V]) Key(chunkCoord vec.Vec3) string {
	return storage.ChunkKey(p.namespace, chunkCoord)
}

// PageIn загружает чанк из хранилища
func (p *StorePager[V]) PageIn(region voxel.Region, chunk *voxel.Chunk[V]) {
	key := p.Key(chunk.Coord())

	ctx, cancel := p.context()
	defer cancel()

	blob, err := p.store.Load(ctx, key)
	if errors.Is(err, storage.ErrChunkNotFound) {
		atomic.AddInt64(&p.missing, 1)
		if p.fallback != nil {
			p.fallback.PageIn(region, chunk)
		}
		return
	}
	if err != nil {
		p.fail(OpPageIn, key, err)
		return
	}

	if err := p.decode(blob, chunk); err != nil {
		if errors.Is(err, storage.ErrCorruptBlob) {
			logging.LogCorruptBlob(key, err, blob)
		}
		p.fail(OpPageIn, key, err)
		return
	}

	atomic.AddInt64(&p.loads, 1)
	p.logger.Trace("Chunk %s loaded (%d bytes)", key, len(blob))
}

// PageOut сохраняет измененный чанк
func (p *StorePager[V]) PageOut(region voxel.Region, chunk *voxel.Chunk[V]) {
	key := p.Key(chunk.Coord())

	blob, err := p.encode(chunk)
	if err != nil {
		p.fail(OpPageOut, key, err)
		return
	}

	ctx, cancel := p.context()
	defer cancel()

	if err := p.store.Store(ctx, key, blob); err != nil {
		p.fail(OpPageOut, key, err)
		return
	}

	atomic.AddInt64(&p.stores, 1)
	p.logger.Trace("Chunk %s stored (%d bytes)", key, len(blob))
}

func (p *StorePager[V]) decode(blob []byte, chunk *voxel.Chunk[V]) error {
	// Заголовок сверяется до распаковки: RawLength задает размер буфера
	hdr, err := storage.DecodeBlobHeader(blob)
	if err != nil {
		return err
	}
	if hdr.SideLength != chunk.SideLength() || int(hdr.ValueSize) != p.codec.Size() {
		return fmt.Errorf("%w: side %d value size %d, want side %d value size %d",
			ErrLayoutMismatch, hdr.SideLength, hdr.ValueSize, chunk.SideLength(), p.codec.Size())
	}

	hdr, raw, err := storage.DecodeBlob(blob)
	if err != nil {
		return err
	}

	if !voxel.DecodeValues(p.codec, raw, chunk.Data()) {
		return fmt.Errorf("%w: raw length %d", ErrLayoutMismatch, len(raw))
	}

	// Порядок берется из заголовка: блобы, записанные до смены настройки, читаются как есть
	if hdr.Layout == storage.LayoutLinear {
		chunk.ChangeLinearOrderingToMorton()
	}
	return nil
}

func (p *StorePager[V]) encode(chunk *voxel.Chunk[V]) ([]byte, error) {
	values := chunk.Data()
	if p.layout == storage.LayoutLinear {
		linear := make([]V, len(values))
		voxel.MortonToLinear(linear, values, chunk.SideLength())
		values = linear
	}

	raw := voxel.EncodeValues(p.codec, values)
	return storage.EncodeBlob(p.layout, chunk.SideLength(), p.codec.Size(), raw)
}

func (p *StorePager[V]) context() (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), p.timeout)
}

func (p *StorePager[V]) fail(op Op, key string, err error) {
	atomic.AddInt64(&p.failures, 1)
	p.logger.Error("%s failed for %s: %v", op, key, err)
	if p.onError != nil {
		p.onError(op, key, err)
	}
}

// Stats возвращает счетчики. Безопасно вызывать из другой горутины.
func (p *StorePager[V]) Stats() StoreStats {
	return StoreStats{
		Loads:    atomic.LoadInt64(&p.loads),
		Stores:   atomic.LoadInt64(&p.stores),
		Missing:  atomic.LoadInt64(&p.missing),
		Failures: atomic.LoadInt64(&p.failures),
	}
}

// StoredChunks координаты всех чанков пространства имен, сохраненных в хранилище.
// Возвращает storage.ErrListingUnsupported, если хранилище не перечисляет ключи.
func (p *StorePager[V]) StoredChunks(ctx context.Context) ([]vec.Vec3, error) {
	return storage.ListChunks(ctx, p.store, p.namespace)
}

// Namespace пространство имен ключей
func (p *StorePager[V]) Namespace() string {
	return p.namespace
}

var _ voxel.Pager[voxel.Voxel] = (*StorePager[voxel.Voxel])(nil)

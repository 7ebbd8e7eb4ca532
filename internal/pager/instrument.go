package pager

import (
	"context"
	"time"

	"github.com/annel0/pagedvolume/internal/voxel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/annel0/pagedvolume/internal/pager"

// PageObserver принимает длительность операций пейджера (например, prometheus гистограмма)
type PageObserver interface {
	ObservePage(pager, op string, duration time.Duration)
}

// Instrumented оборачивает пейджер: замер длительности и span на каждый вызов
type Instrumented[V any] struct {
	inner    voxel.Pager[V]
	name     string
	observer PageObserver
	tracer   trace.Tracer
}

// InstrumentOption настраивает Instrumented
type InstrumentOption func(*instrumentOptions)

type instrumentOptions struct {
	provider trace.TracerProvider
}

// WithTracerProvider задает провайдер трассировки вместо глобального
func WithTracerProvider(tp trace.TracerProvider) InstrumentOption {
	return func(o *instrumentOptions) { o.provider = tp }
}

// Instrument оборачивает inner. observer может быть nil.
//
// voxel.Pager не принимает context, поэтому каждый span страницы корневой:
// он не вкладывается в span HTTP запроса (otelgin), который вызвал загрузку.
// Связать их можно по времени и атрибуту chunk.region.
func Instrument[V any](inner voxel.Pager[V], name string, observer PageObserver, opts ...InstrumentOption) *Instrumented[V] {
	o := instrumentOptions{provider: otel.GetTracerProvider()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Instrumented[V]{
		inner:    inner,
		name:     name,
		observer: observer,
		tracer:   o.provider.Tracer(tracerName),
	}
}

// PageIn вызывает inner.PageIn внутри span
func (i *Instrumented[V]) PageIn(region voxel.Region, chunk *voxel.Chunk[V]) {
	done := i.start(OpPageIn, region)
	i.inner.PageIn(region, chunk)
	done()
}

// PageOut вызывает inner.PageOut внутри span
func (i *Instrumented[V]) PageOut(region voxel.Region, chunk *voxel.Chunk[V]) {
	done := i.start(OpPageOut, region)
	i.inner.PageOut(region, chunk)
	done()
}

func (i *Instrumented[V]) start(op Op, region voxel.Region) func() {
	_, span := i.tracer.Start(context.Background(), "pager."+string(op),
		trace.WithNewRoot(),
		trace.WithAttributes(
			attribute.String("pager.name", i.name),
			attribute.String("chunk.region", region.String()),
		))
	start := time.Now()

	return func() {
		span.End()
		if i.observer != nil {
			i.observer.ObservePage(i.name, string(op), time.Since(start))
		}
	}
}

// Unwrap возвращает обернутый пейджер
func (i *Instrumented[V]) Unwrap() voxel.Pager[V] {
	return i.inner
}

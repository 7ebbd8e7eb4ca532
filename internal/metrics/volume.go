// Package metrics экспортирует работу объема и пейджеров в Prometheus.
package metrics

import (
	"time"

	"github.com/annel0/pagedvolume/internal/voxel"
	"github.com/prometheus/client_golang/prometheus"
)

// VolumeMetrics реализует voxel.Metrics и наблюдатель пейджеров.
//
// Метрики:
// * <ns>_chunk_resolves_total{result} - memo/hit/miss
// * <ns>_chunk_evictions_total{dirty}
// * <ns>_resident_chunks - gauge
// * <ns>_page_duration_seconds{pager,op} - histogram
type VolumeMetrics struct {
	resolves  *prometheus.CounterVec
	evictions *prometheus.CounterVec
	resident  prometheus.Gauge
	pageTime  *prometheus.HistogramVec

	// Счетчики горячего пути разрешены заранее, без поиска по меткам
	byResult   [3]prometheus.Counter
	evictClean prometheus.Counter
	evictDirty prometheus.Counter
}

// NewVolumeMetrics создает метрики и регистрирует их в reg.
// Для тестов передавайте prometheus.NewRegistry().
func NewVolumeMetrics(namespace string, reg prometheus.Registerer) (*VolumeMetrics, error) {
	m := &VolumeMetrics{
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_resolves_total",
			Help:      "Поиски чанка по координате: memo, hit, miss.",
		}, []string{"result"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_evictions_total",
			Help:      "Вытесненные чанки; dirty=true - с сохранением через PageOut.",
		}, []string{"dirty"}),
		resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resident_chunks",
			Help:      "Текущее количество чанков в памяти.",
		}),
		pageTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_duration_seconds",
			Help:      "Длительность PageIn/PageOut.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		}, []string{"pager", "op"}),
	}

	for _, c := range []prometheus.Collector{m.resolves, m.evictions, m.resident, m.pageTime} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	for _, r := range []voxel.ResolveResult{voxel.ResolveMemo, voxel.ResolveHit, voxel.ResolveMiss} {
		m.byResult[r] = m.resolves.WithLabelValues(r.String())
	}
	m.evictClean = m.evictions.WithLabelValues("false")
	m.evictDirty = m.evictions.WithLabelValues("true")

	return m, nil
}

// ObserveResolve реализует voxel.Metrics
func (m *VolumeMetrics) ObserveResolve(result voxel.ResolveResult) {
	if int(result) < len(m.byResult) {
		m.byResult[result].Inc()
	}
}

// ObserveEviction реализует voxel.Metrics
func (m *VolumeMetrics) ObserveEviction(dirty bool) {
	if dirty {
		m.evictDirty.Inc()
		return
	}
	m.evictClean.Inc()
}

// SetResidentChunks реализует voxel.Metrics
func (m *VolumeMetrics) SetResidentChunks(n int) {
	m.resident.Set(float64(n))
}

// ObservePage записывает длительность операции пейджера
func (m *VolumeMetrics) ObservePage(pager, op string, d time.Duration) {
	m.pageTime.WithLabelValues(pager, op).Observe(d.Seconds())
}

var _ voxel.Metrics = (*VolumeMetrics)(nil)

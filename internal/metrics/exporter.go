package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/annel0/pagedvolume/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot монотонные счетчики компонента на момент опроса
type Snapshot map[string]int64

// SnapshotFunc возвращает текущие счетчики компонента (StorePager.Stats, RedisStore.GetMetrics)
type SnapshotFunc func() Snapshot

// Exporter периодически переносит счетчики компонентов, которые ведут их сами,
// в Prometheus counter <ns>_component_events_total{component,event}.
type Exporter struct {
	events   *prometheus.CounterVec
	gatherer prometheus.Gatherer
	interval time.Duration

	mu      sync.Mutex
	sources map[string]SnapshotFunc
	prev    map[string]Snapshot

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	server   *http.Server
}

// NewExporter создает экспортер. gatherer используется эндпоинтом StartHTTP.
func NewExporter(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer, interval time.Duration) (*Exporter, error) {
	if interval <= 0 {
		interval = time.Second
	}

	e := &Exporter{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "component_events_total",
			Help:      "События хранилищ и пейджеров (загрузки, записи, промахи, сбои).",
		}, []string{"component", "event"}),
		gatherer: gatherer,
		interval: interval,
		sources:  make(map[string]SnapshotFunc),
		prev:     make(map[string]Snapshot),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if err := reg.Register(e.events); err != nil {
		return nil, err
	}
	return e, nil
}

// AddSource добавляет компонент для опроса
func (e *Exporter) AddSource(component string, fn SnapshotFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[component] = fn
}

// Collect опрашивает все источники и прибавляет приращения счетчиков
func (e *Exporter) Collect() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for component, fn := range e.sources {
		stats := fn()
		prev := e.prev[component]
		for event, value := range stats {
			// Для Counter храним прошлое значение и прибавляем дельту
			if delta := value - prev[event]; delta > 0 {
				e.events.WithLabelValues(component, event).Add(float64(delta))
			}
		}
		e.prev[component] = stats
	}
}

// Start запускает периодический опрос
func (e *Exporter) Start() {
	go e.loop()
}

func (e *Exporter) loop() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	defer close(e.done)

	for {
		select {
		case <-ticker.C:
			e.Collect()
		case <-e.quit:
			e.Collect()
			return
		}
	}
}

// Handler HTTP обработчик /metrics для gatherer экспортера
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{})
}

// StartHTTP запускает отдельный HTTP-эндпоинт /metrics (например, ":2112").
// Метод неблокирующий.
func (e *Exporter) StartHTTP(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	e.mu.Lock()
	e.server = &http.Server{Addr: addr, Handler: mux}
	srv := e.server
	e.mu.Unlock()

	go func() {
		logging.Info("📈 Prometheus /metrics доступен по адресу %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()
}

// Stop останавливает опрос (если был запущен) и HTTP-эндпоинт
func (e *Exporter) Stop() {
	e.stopOnce.Do(func() { close(e.quit) })

	e.mu.Lock()
	srv := e.server
	e.mu.Unlock()
	if srv != nil {
		srv.Close()
	}
}

// Wait ждет завершения цикла опроса после Stop. Только если был вызван Start.
func (e *Exporter) Wait() {
	<-e.done
}

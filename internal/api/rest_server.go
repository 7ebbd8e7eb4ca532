package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/annel0/pagedvolume/internal/auth"
	"github.com/annel0/pagedvolume/internal/logging"
	"github.com/annel0/pagedvolume/internal/middleware"
	"github.com/annel0/pagedvolume/internal/storage"
	"github.com/annel0/pagedvolume/internal/vec"
	"github.com/annel0/pagedvolume/internal/voxel"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// StatsFunc возвращает статистику компонента для /api/stats
type StatsFunc func() interface{}

// RestServer представляет REST API сервер над одним объемом.
// Объем не потокобезопасен, поэтому все обращения к нему идут под mu.
type RestServer struct {
	router  *gin.Engine
	port    string
	metrics *ServerMetrics
	logger  *logging.Logger

	mu     sync.Mutex
	volume *voxel.Volume[voxel.Voxel]

	components  map[string]StatsFunc
	auth        *auth.Authenticator
	maxPrefetch int64
	stored      func(ctx context.Context) ([]vec.Vec3, error)
	httpServer  *http.Server
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port     string                     // порт для запуска сервера
	Volume   *voxel.Volume[voxel.Voxel] // обслуживаемый объем
	Registry *prometheus.Registry       // регистр метрик; nil - новый
	Service  string                     // имя сервиса для метрик и трассировки
	Auth     *auth.Authenticator        // nil - /api без токенов

	// MaxPrefetchChunks потолок чанков на один запрос prefetch; 0 - ChunkCountLimit объема
	MaxPrefetchChunks int

	// Components дополнительная статистика (пейджер, кеш) по имени
	Components map[string]StatsFunc

	// StoredChunks перечисляет сохраненные чанки для GET /api/chunks/stored; nil - маршрут отвечает 501
	StoredChunks func(ctx context.Context) ([]vec.Vec3, error)
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) (*RestServer, error) {
	if config.Volume == nil {
		return nil, errors.New("api: volume is required")
	}
	if config.Port == "" {
		config.Port = ":8088"
	}
	if config.Service == "" {
		config.Service = "volume_api"
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	if config.MaxPrefetchChunks <= 0 {
		config.MaxPrefetchChunks = config.Volume.ChunkCountLimit()
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware(config.Service))

	loggerMw := middleware.NewRequestLogger(nil, "/health", "/metrics")
	router.Use(loggerMw.Handler())

	promMw, err := middleware.NewPrometheusMiddleware(config.Service, config.Registry)
	if err != nil {
		return nil, err
	}
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, config.Registry)

	server := &RestServer{
		router:     router,
		port:       config.Port,
		metrics:    NewServerMetrics(),
		logger:     logging.GetAPILogger(),
		volume:     config.Volume,
		components:  config.Components,
		auth:        config.Auth,
		maxPrefetch: int64(config.MaxPrefetchChunks),
		stored:      config.StoredChunks,
	}

	server.setupRoutes()
	return server, nil
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	read, write := rs.guards()

	reader := rs.router.Group("/api", read...)
	{
		reader.GET("/voxel", rs.handleGetVoxel)
		reader.POST("/prefetch", rs.handlePrefetch)
		reader.GET("/stats", rs.handleStats)
		reader.GET("/chunks/stored", rs.handleStoredChunks)
	}

	writer := rs.router.Group("/api", write...)
	{
		writer.PUT("/voxel", rs.handleSetVoxel)
		writer.POST("/flush", rs.handleFlush)
	}

	rs.router.GET("/health", rs.handleHealth)
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// VoxelDTO воксель с координатами
type VoxelDTO struct {
	X        int32  `json:"x"`
	Y        int32  `json:"y"`
	Z        int32  `json:"z"`
	Material uint8  `json:"material"`
	Name     string `json:"material_name,omitempty"`
	Color    uint8  `json:"color"`
}

// SetVoxelRequest запрос на запись вокселя
type SetVoxelRequest struct {
	X        *int32 `json:"x" binding:"required"`
	Y        *int32 `json:"y" binding:"required"`
	Z        *int32 `json:"z" binding:"required"`
	Material uint8  `json:"material"`
	Color    uint8  `json:"color"`
}

// PrefetchRequest регион для предзагрузки, границы включительно
type PrefetchRequest struct {
	Lower *vec.Vec3 `json:"lower" binding:"required"`
	Upper *vec.Vec3 `json:"upper" binding:"required"`
}

// VolumeStats состояние объема
type VolumeStats struct {
	FootprintBytes uint64 `json:"footprint_bytes"`
	ResidentChunks int    `json:"resident_chunks"`
	DirtyChunks    int    `json:"dirty_chunks"`
	ChunkLimit     int    `json:"chunk_limit"`
	SideLength     uint16 `json:"side_length"`
	ChunkSizeBytes uint64 `json:"chunk_size_bytes"`
}

func newVoxelDTO(x, y, z int32, v voxel.Voxel) VoxelDTO {
	return VoxelDTO{
		X:        x,
		Y:        y,
		Z:        z,
		Material: uint8(v.Material),
		Name:     v.Material.String(),
		Color:    v.Color,
	}
}

// parseCoord читает целую координату из query
func parseCoord(c *gin.Context, name string) (int32, error) {
	raw, ok := c.GetQuery(name)
	if !ok {
		return 0, errors.New("отсутствует параметр " + name)
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, errors.New("неверное значение параметра " + name)
	}
	return int32(v), nil
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, GenericResponse{
		Success: false,
		Message: message,
	})
}

// handleGetVoxel возвращает воксель по координатам
func (rs *RestServer) handleGetVoxel(c *gin.Context) {
	var coords [3]int32
	for i, name := range []string{"x", "y", "z"} {
		v, err := parseCoord(c, name)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		coords[i] = v
	}

	rs.mu.Lock()
	v := rs.volume.GetVoxel(coords[0], coords[1], coords[2])
	rs.mu.Unlock()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Воксель получен",
		Data:    newVoxelDTO(coords[0], coords[1], coords[2], v),
	})
}

// handleSetVoxel записывает воксель
func (rs *RestServer) handleSetVoxel(c *gin.Context) {
	var req SetVoxelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса")
		return
	}

	v := voxel.NewVoxel(voxel.MaterialType(req.Material), req.Color)

	rs.mu.Lock()
	rs.volume.SetVoxel(*req.X, *req.Y, *req.Z, v)
	rs.mu.Unlock()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Воксель записан",
		Data:    newVoxelDTO(*req.X, *req.Y, *req.Z, v),
	})
}

// handlePrefetch загружает чанки региона
func (rs *RestServer) handlePrefetch(c *gin.Context) {
	var req PrefetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса")
		return
	}

	region := voxel.NewRegion(*req.Lower, *req.Upper)
	if !region.IsValid() {
		badRequest(c, "Нижняя граница региона больше верхней")
		return
	}

	// Объем загружает регион любого размера; потолок держим на уровне API.
	// Сторона чанка неизменна, mu не нужен.
	chunks := region.Shr(rs.volume.SideLengthPower()).Volume()
	if chunks > rs.maxPrefetch {
		rs.logger.Warn("Rejected prefetch of %d chunks from %s (max %d)", chunks, c.ClientIP(), rs.maxPrefetch)
		badRequest(c, fmt.Sprintf("Регион требует %d чанков, допустимо не больше %d", chunks, rs.maxPrefetch))
		return
	}

	rs.mu.Lock()
	stats := rs.volume.Prefetch(region)
	rs.mu.Unlock()

	message := "Регион загружен"
	if stats.Thrashing {
		message = "Регион больше лимита чанков, часть чанков уже вытеснена"
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: message,
		Data:    stats,
	})
}

// handleFlush выгружает все чанки с сохранением измененных
func (rs *RestServer) handleFlush(c *gin.Context) {
	start := time.Now()

	rs.mu.Lock()
	resident := rs.volume.ResidentChunks()
	rs.volume.FlushAll()
	rs.mu.Unlock()

	rs.logger.Info("Flushed %d chunks in %s", resident, time.Since(start))
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Все чанки выгружены",
		Data:    gin.H{"flushed_chunks": resident},
	})
}

// handleStats возвращает статистику объема, процесса и компонентов
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := make(map[string]interface{})

	rs.mu.Lock()
	stats["volume"] = rs.volumeStats()
	rs.mu.Unlock()

	stats["server"] = rs.metrics.Snapshot()
	stats["server_time"] = time.Now().Unix()

	for name, fn := range rs.components {
		stats[name] = fn()
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

// StoredChunksResponse сохраненные чанки; Chunks обрезается до limit
type StoredChunksResponse struct {
	Count     int        `json:"count"`
	Truncated bool       `json:"truncated"`
	Chunks    []vec.Vec3 `json:"chunks"`
}

const (
	defaultStoredLimit = 1000
	maxStoredLimit     = 100000
)

// handleStoredChunks перечисляет чанки, сохраненные в хранилище
func (rs *RestServer) handleStoredChunks(c *gin.Context) {
	if rs.stored == nil {
		c.JSON(http.StatusNotImplemented, GenericResponse{
			Success: false,
			Message: "Хранилище не настроено",
		})
		return
	}

	limit := defaultStoredLimit
	if raw, ok := c.GetQuery("limit"); ok {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxStoredLimit {
			badRequest(c, fmt.Sprintf("limit должен быть от 1 до %d", maxStoredLimit))
			return
		}
		limit = v
	}

	coords, err := rs.stored(c.Request.Context())
	if errors.Is(err, storage.ErrListingUnsupported) {
		c.JSON(http.StatusNotImplemented, GenericResponse{
			Success: false,
			Message: "Хранилище не поддерживает перечисление чанков",
		})
		return
	}
	if err != nil {
		rs.logger.Error("Failed to list stored chunks: %v", err)
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка перечисления чанков",
		})
		return
	}

	resp := StoredChunksResponse{Count: len(coords), Chunks: coords}
	if len(coords) > limit {
		resp.Chunks = coords[:limit]
		resp.Truncated = true
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Сохраненные чанки получены",
		Data:    resp,
	})
}

func (rs *RestServer) volumeStats() VolumeStats {
	return VolumeStats{
		FootprintBytes: rs.volume.MemoryFootprint(),
		ResidentChunks: rs.volume.ResidentChunks(),
		DirtyChunks:    rs.volume.DirtyChunks(),
		ChunkLimit:     rs.volume.ChunkCountLimit(),
		SideLength:     rs.volume.SideLength(),
		ChunkSizeBytes: rs.volume.ChunkSizeInBytes(),
	}
}

// handleHealth обрабатывает health check
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": rs.metrics.GetUptime(),
	})
}

// WithVolume выполняет fn под блокировкой объема (для фоновых задач вне HTTP)
func (rs *RestServer) WithVolume(fn func(v *voxel.Volume[voxel.Voxel])) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	fn(rs.volume)
}

// Handler возвращает http.Handler сервера (для httptest)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start запускает REST сервер и блокирует до остановки.
// После Stop возвращает nil.
func (rs *RestServer) Start() error {
	rs.mu.Lock()
	rs.httpServer = &http.Server{
		Addr:              rs.port,
		Handler:           rs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := rs.httpServer
	rs.mu.Unlock()

	rs.logger.Info("REST API listening on %s", rs.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop плавно останавливает REST сервер, дожидаясь активных запросов
func (rs *RestServer) Stop(ctx context.Context) error {
	rs.mu.Lock()
	srv := rs.httpServer
	rs.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

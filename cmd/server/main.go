package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/pagedvolume/internal/api"
	"github.com/annel0/pagedvolume/internal/auth"
	"github.com/annel0/pagedvolume/internal/config"
	"github.com/annel0/pagedvolume/internal/logging"
	"github.com/annel0/pagedvolume/internal/metrics"
	"github.com/annel0/pagedvolume/internal/observability"
	"github.com/annel0/pagedvolume/internal/pager"
	"github.com/annel0/pagedvolume/internal/storage"
	"github.com/annel0/pagedvolume/internal/voxel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию PAGEDVOLUME_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if err := setupLogging(cfg.Logging); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	logging.Info("🧊 Запуск paged volume server...")
	logging.Info("📡 Конфигурация: budget=%d MB, side=%d, storage=%s, REST=:%d",
		cfg.Volume.TargetMemoryMB, cfg.Volume.ChunkSideLength, cfg.Storage.Backend, cfg.Server.GetRESTPort())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === ТРАССИРОВКА ===
	shutdownTelemetry := observability.Noop()
	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err = observability.InitTelemetry(ctx, observability.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			logging.Error("Трассировка отключена: %v", err)
			shutdownTelemetry = observability.Noop()
		}
	}

	// === МЕТРИКИ ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	volumeMetrics, err := metrics.NewVolumeMetrics("pagedvolume", reg)
	if err != nil {
		log.Fatalf("❌ Ошибка регистрации метрик: %v", err)
	}
	exporter, err := metrics.NewExporter("pagedvolume", reg, reg, 5*time.Second)
	if err != nil {
		log.Fatalf("❌ Ошибка регистрации метрик: %v", err)
	}

	// === ХРАНИЛИЩЕ ===
	chain, err := buildStoreChain(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Ошибка инициализации хранилища: %v", err)
	}
	defer chain.Close()

	// === ПЕЙДЖЕР ===
	var fallback voxel.Pager[voxel.Voxel]
	if cfg.Generator.Enabled {
		fallback = pager.Instrument[voxel.Voxel](pager.NewNoisePager(pager.NoiseConfig{
			Seed:      cfg.Generator.Seed,
			SeaLevel:  cfg.Generator.SeaLevel,
			Amplitude: cfg.Generator.Amplitude,
		}), "noise", volumeMetrics)
	}

	layout, err := storage.ParseLayout(cfg.Storage.Layout)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	storePager := pager.NewStorePager[voxel.Voxel](chain.store, voxel.VoxelCodec{}, fallback,
		pager.WithNamespace(cfg.Storage.Namespace),
		pager.WithLayout(layout),
		pager.WithTimeout(cfg.Storage.OperationTimeout),
	)
	exporter.AddSource("store_pager", func() metrics.Snapshot {
		s := storePager.Stats()
		return metrics.Snapshot{"loads": s.Loads, "stores": s.Stores, "missing": s.Missing, "failures": s.Failures}
	})
	chain.addSources(exporter)

	// === ОБЪЕМ ===
	volume, err := voxel.NewVolume[voxel.Voxel](
		pager.Instrument[voxel.Voxel](storePager, "store", volumeMetrics),
		cfg.Volume.TargetMemoryBytes(),
		cfg.Volume.ChunkSideLength,
		voxel.WithTableCapacity(cfg.Volume.TableCapacity),
		voxel.WithMetrics(volumeMetrics),
	)
	if err != nil {
		log.Fatalf("❌ Ошибка создания объема: %v", err)
	}
	logging.Info("✅ Объем создан: лимит %d чанков по %d байт", volume.ChunkCountLimit(), volume.ChunkSizeInBytes())

	// === REST API ===
	components := map[string]api.StatsFunc{
		"store_pager": func() interface{} { return storePager.Stats() },
	}
	for name, fn := range chain.stats {
		components[name] = fn
	}

	var authenticator *auth.Authenticator
	if secret := cfg.Server.GetJWTSecret(); secret != "" {
		authenticator, err = auth.NewAuthenticator([]byte(secret), cfg.Telemetry.ServiceName, cfg.Server.TokenTTL)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		logging.Info("🔐 REST API требует Bearer токен")
	}

	restServer, err := api.NewRestServer(api.Config{
		Port:       fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		Volume:     volume,
		Registry:   reg,
		Service:    "volume_api",
		Auth:       authenticator,
		Components: components,

		MaxPrefetchChunks: cfg.Server.MaxPrefetchChunks,
		StoredChunks:      storePager.StoredChunks,
	})
	if err != nil {
		log.Fatalf("❌ Ошибка создания REST API: %v", err)
	}

	go func() {
		if err := restServer.Start(); err != nil {
			logging.Error("❌ Ошибка REST API: %v", err)
			cancel()
		}
	}()

	exporter.Start()
	if port := cfg.Server.GetMetricsPort(); port > 0 {
		exporter.StartHTTP(fmt.Sprintf(":%d", port))
	}

	logging.Info("🚀 Сервер запущен")

	// === ОЖИДАНИЕ СИГНАЛА ===
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("🛑 Получен сигнал %v, останавливаем сервер...", sig)
	case <-ctx.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	if err := restServer.Stop(stopCtx); err != nil {
		logging.Error("Ошибка остановки REST API: %v", err)
	}

	// Измененные чанки сохраняются до закрытия хранилищ
	restServer.WithVolume(func(v *voxel.Volume[voxel.Voxel]) {
		resident := v.ResidentChunks()
		v.FlushAll()
		logging.Info("💾 Выгружено %d чанков", resident)
	})

	exporter.Stop()
	exporter.Wait()

	if err := shutdownTelemetry(stopCtx); err != nil {
		logging.Error("Ошибка остановки трассировки: %v", err)
	}

	logging.Info("👋 Сервер остановлен")
}

func setupLogging(cfg config.LoggingConfig) error {
	logging.SetLogDir(cfg.Dir)
	if err := logging.InitDefaultLogger("server"); err != nil {
		return err
	}

	consoleLevel, err := logging.ParseLevel(cfg.ConsoleLevel)
	if err != nil {
		return err
	}
	fileLevel, err := logging.ParseLevel(cfg.FileLevel)
	if err != nil {
		return err
	}

	logging.DefaultLogger().SetLevels(consoleLevel, fileLevel)
	logging.GetLoggerManager().SetDefaultLevels(consoleLevel, fileLevel)
	return nil
}

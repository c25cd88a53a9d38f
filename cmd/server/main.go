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

	"github.com/annel0/worldstore/internal/config"
	"github.com/annel0/worldstore/internal/logging"
	"github.com/annel0/worldstore/internal/observability"
	"github.com/annel0/worldstore/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "Путь к YAML конфигурации (по умолчанию WORLD_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	// Инициализируем систему логирования
	if cfg.Logging.Dir != "" {
		logging.SetLogDir(cfg.Logging.Dir)
	}
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	for _, component := range []string{"server", "storage", "regions"} {
		logging.GetComponentLogger(component)
		_ = logging.GetLoggerManager().SetLogLevel(component,
			logging.ParseLevel(cfg.Logging.ConsoleLevel), logging.ParseLevel(cfg.Logging.FileLevel))
	}
	logger := logging.GetServerLogger()

	logger.Info("🌍 Запуск хранилища мира...")

	// === МЕТРИКИ ===
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	exporter := observability.NewMetricsExporter(registry)

	// === ХРАНИЛИЩЕ ===
	opts := storage.OptionsFromConfig(cfg)
	opts.Regions.Registerer = registry
	opts.Regions.Logger = logging.GetRegionsLogger()

	world, err := storage.NewWorldStorage(opts)
	if err != nil {
		logger.Error("❌ Ошибка открытия мира: %v", err)
		log.Fatalf("❌ Ошибка открытия мира: %v", err)
	}
	info := world.Info()

	// === ТРАССИРОВКА ===
	shutdownTelemetry := func(context.Context) error { return nil }
	if cfg.Server.Telemetry {
		shutdown, err := observability.InitTelemetry(context.Background(), observability.TelemetryOptions{
			ServiceName: cfg.Server.GetServiceName(),
			WorldID:     info.ID.String(),
			WorldName:   info.Name,
			SampleRatio: cfg.Server.GetTraceSampleRatio(),
		})
		if err != nil {
			logger.Warn("OpenTelemetry недоступен: %v", err)
		} else {
			shutdownTelemetry = shutdown
		}
	}

	metricsAddr := fmt.Sprintf(":%d", cfg.Server.GetMetricsPort())
	exporter.StartHTTP(metricsAddr)

	autosave := cfg.Server.GetAutosaveInterval()
	logger.Info("✅ Мир %q открыт: каталог %s, автосохранение каждые %v, метрики %s",
		info.Name, opts.Dir, autosave, metricsAddr)

	// Канал для получения сигналов ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(autosave)
	defer ticker.Stop()

	for running := true; running; {
		select {
		case <-ticker.C:
			flushWorld(world, logger, autosave)
			stats := world.Regions().Stats()
			logger.Debug("регионов в памяти: %v, открытых файлов: %d, аптайм %s",
				stats.ResidentRegions, stats.OpenFiles, exporter.GetUptime())
		case sig := <-sigCh:
			logger.Info("📡 Получен сигнал %v, завершение работы...", sig)
			running = false
		}
	}

	// === GRACEFUL SHUTDOWN ===
	flushWorld(world, logger, 30*time.Second)
	if err := world.Close(); err != nil {
		logger.Error("❌ Ошибка закрытия мира: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exporter.Stop(ctx); err != nil {
		logger.Error("Ошибка остановки HTTP метрик: %v", err)
	}
	if err := shutdownTelemetry(ctx); err != nil {
		logger.Error("Ошибка остановки OpenTelemetry: %v", err)
	}

	logger.Info("👋 Хранилище мира остановлено")
}

// flushWorld сохраняет мир с ограничением по времени
func flushWorld(world *storage.WorldStorage, logger *logging.Logger, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	if err := world.Flush(ctx); err != nil {
		logger.Error("❌ Ошибка сохранения мира: %v", err)
		return
	}
	logger.Debug("мир сохранён за %v", time.Since(start))
}

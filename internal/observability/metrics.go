package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/annel0/worldstore/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
)

// MetricsExporter отдаёт метрики реестра по HTTP и раз в секунду
// обновляет метрики процесса (CPU, память, время работы).
type MetricsExporter struct {
	gatherer  prometheus.Gatherer
	server    *http.Server
	startTime time.Time
	proc      *process.Process

	quit chan struct{}
	done chan struct{}

	cpuPercent  prometheus.Gauge
	memoryBytes prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge
}

// NewMetricsExporter создаёт экспортер и регистрирует метрики процесса в reg,
// но не запускает HTTP-сервер.
func NewMetricsExporter(reg *prometheus.Registry) *MetricsExporter {
	me := &MetricsExporter{
		gatherer:  reg,
		startTime: time.Now(),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "worldstore",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "Загрузка CPU процессом в процентах.",
		}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "worldstore",
			Subsystem: "process",
			Name:      "heap_alloc_bytes",
			Help:      "Занятая куча Go.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "worldstore",
			Subsystem: "process",
			Name:      "goroutines",
			Help:      "Количество горутин.",
		}),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "worldstore",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Время работы процесса.",
		}),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		me.proc = proc
	} else {
		logging.Warn("метрики CPU процесса недоступны: %v", err)
	}

	reg.MustRegister(me.cpuPercent, me.memoryBytes, me.goroutines, me.uptime)
	return me
}

// Handler HTTP-обработчик /metrics
func (m *MetricsExporter) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// StartHTTP запускает HTTP-эндпоинт Prometheus на указанном адресе (например, ":2112").
// Метод неблокирующий: HTTP-сервер стартует в отдельной горутине.
func (m *MetricsExporter) StartHTTP(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logging.Info("📈 Prometheus /metrics доступен по адресу %s", addr)
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()
	go m.loop()
}

// Stop останавливает обновление метрик и HTTP-сервер
func (m *MetricsExporter) Stop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	close(m.quit)
	<-m.done
	return m.server.Shutdown(ctx)
}

func (m *MetricsExporter) loop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	defer close(m.done)

	for {
		select {
		case <-ticker.C:
			m.collect()
		case <-m.quit:
			return
		}
	}
}

// collect обновляет метрики процесса
func (m *MetricsExporter) collect() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.memoryBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.uptime.Set(time.Since(m.startTime).Seconds())

	if m.proc != nil {
		if cpu, err := m.proc.CPUPercent(); err == nil {
			m.cpuPercent.Set(cpu)
		}
	}
}

// GetUptime возвращает время работы в читаемом виде
func (m *MetricsExporter) GetUptime() string {
	return formatUptime(time.Since(m.startTime))
}

func formatUptime(uptime time.Duration) string {
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}

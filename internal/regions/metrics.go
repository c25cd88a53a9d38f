package regions

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics Prometheus-метрики хранилища регионов
type Metrics struct {
	ChunkReads      *prometheus.CounterVec
	ChunkWrites     *prometheus.CounterVec
	RegionWrites    *prometheus.CounterVec
	RegionErrors    *prometheus.CounterVec
	ResidentRegions *prometheus.GaugeVec
	FlushDuration   prometheus.Histogram

	OpenFiles     prometheus.Gauge
	PoolWaits     prometheus.Counter
	PoolEvictions prometheus.Counter
}

// NewMetrics создаёт метрики и регистрирует их в reg.
// При reg == nil метрики работают, но никуда не экспортируются.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChunkReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "worldstore",
			Subsystem: "regions",
			Name:      "chunk_reads_total",
			Help:      "Чтения чанков по источнику: memory, disk, absent.",
		}, []string{"layer", "source"}),
		ChunkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "worldstore",
			Subsystem: "regions",
			Name:      "chunk_puts_total",
			Help:      "Записи чанков в память.",
		}, []string{"layer"}),
		RegionWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "worldstore",
			Subsystem: "regions",
			Name:      "region_writes_total",
			Help:      "Записанные на диск регион-файлы.",
		}, []string{"layer"}),
		RegionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "worldstore",
			Subsystem: "regions",
			Name:      "region_format_errors_total",
			Help:      "Повреждённые или неподдерживаемые регион-файлы.",
		}, []string{"layer"}),
		ResidentRegions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "worldstore",
			Subsystem: "regions",
			Name:      "resident_regions",
			Help:      "Регионы, загруженные в память.",
		}, []string{"layer"}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "worldstore",
			Subsystem: "regions",
			Name:      "flush_duration_seconds",
			Help:      "Длительность записи всех несохранённых регионов.",
			Buckets:   prometheus.DefBuckets,
		}),
		OpenFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "worldstore",
			Subsystem: "files",
			Name:      "open",
			Help:      "Открытые дескрипторы регион-файлов.",
		}),
		PoolWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldstore",
			Subsystem: "files",
			Name:      "waits_total",
			Help:      "Ожидания свободного дескриптора при заполненном пуле.",
		}),
		PoolEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldstore",
			Subsystem: "files",
			Name:      "evictions_total",
			Help:      "Закрытые для освобождения места дескрипторы.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ChunkReads, m.ChunkWrites, m.RegionWrites, m.RegionErrors,
			m.ResidentRegions, m.FlushDuration,
			m.OpenFiles, m.PoolWaits, m.PoolEvictions,
		)
	}
	return m
}

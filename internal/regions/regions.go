package regions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/annel0/worldstore/internal/compression"
	"github.com/annel0/worldstore/internal/logging"
	"github.com/annel0/worldstore/internal/vec"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Options параметры хранилища регионов
type Options struct {
	// MaxOpenFiles предел одновременно открытых регион-файлов
	MaxOpenFiles int
	// WriteLights записывать ли слой освещения при Flush
	WriteLights bool
	Layers      [LayersCount]LayerOptions

	// Registerer для метрик; nil - метрики не экспортируются
	Registerer prometheus.Registerer
	Logger     *logging.Logger
}

// DefaultOptions параметры по умолчанию
func DefaultOptions() Options {
	return Options{
		MaxOpenFiles: MaxOpenRegionFiles,
		WriteLights:  true,
		Layers:       DefaultLayerOptions(),
	}
}

// regionsLayer регионы одного слоя, загруженные в память
type regionsLayer struct {
	id      LayerID
	dir     string
	options LayerOptions

	mu      sync.Mutex
	regions map[vec.Vec2]*WorldRegion
}

// getOrCreate возвращает регион, создавая его при первом обращении
func (l *regionsLayer) getOrCreate(coords vec.Vec2, metrics *Metrics) *WorldRegion {
	l.mu.Lock()
	defer l.mu.Unlock()

	region, exists := l.regions[coords]
	if !exists {
		region = newWorldRegion()
		l.regions[coords] = region
		metrics.ResidentRegions.WithLabelValues(l.id.String()).Inc()
	}
	return region
}

// unsaved регионы с незаписанными изменениями
func (l *regionsLayer) unsaved() map[vec.Vec2]*WorldRegion {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make(map[vec.Vec2]*WorldRegion)
	for coords, region := range l.regions {
		if region.IsUnsaved() {
			result[coords] = region
		}
	}
	return result
}

func (l *regionsLayer) regionPath(coords vec.Vec2) string {
	return filepath.Join(l.dir, RegionFilename(coords.X, coords.Y))
}

// Regions хранилище чанков мира в регион-файлах.
// Безопасно для конкурентного использования; операции с одним и тем же
// регионом должны согласовываться вызывающим кодом (см. ErrRegionFileInUse).
type Regions struct {
	dir    string
	layers [LayersCount]*regionsLayer
	pool   *filePool

	writeLights bool
	lightsMu    sync.RWMutex

	// flushMu упорядочивает запись регионов: Flush и ProcessRegions
	flushMu sync.Mutex

	metrics *Metrics
	logger  *logging.Logger
	tracer  trace.Tracer
}

// New открывает хранилище регионов в каталоге мира dir
func New(dir string, opts Options) (*Regions, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetRegionsLogger()
	}

	r := &Regions{
		dir:         dir,
		writeLights: opts.WriteLights,
		metrics:     NewMetrics(opts.Registerer),
		logger:      logger,
		tracer:      otel.Tracer("github.com/annel0/worldstore/internal/regions"),
	}

	for id := LayerID(0); id < LayersCount; id++ {
		layerOpts := opts.Layers[id]
		if !layerOpts.Compression.Valid() {
			return nil, fmt.Errorf("слой %s: %w: %d", id, compression.ErrUnknownMethod, uint8(layerOpts.Compression))
		}

		layerDir := filepath.Join(dir, id.Folder())
		if err := os.MkdirAll(layerDir, 0755); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию %s: %w", layerDir, err)
		}

		r.layers[id] = &regionsLayer{
			id:      id,
			dir:     layerDir,
			options: layerOpts,
			regions: make(map[vec.Vec2]*WorldRegion),
		}
	}

	r.pool = newFilePool(opts.MaxOpenFiles, r.locate, r.metrics, logger)
	return r, nil
}

// locate путь и параметры слоя для файла региона
func (r *Regions) locate(key regionKey) (string, LayerOptions) {
	l := r.layers[key.layer]
	return l.regionPath(key.coords()), l.options
}

func (r *Regions) layer(id LayerID) (*regionsLayer, error) {
	if id >= LayersCount {
		return nil, fmt.Errorf("неизвестный слой %d", uint8(id))
	}
	return r.layers[id], nil
}

// Metrics метрики хранилища
func (r *Regions) Metrics() *Metrics {
	return r.metrics
}

// SetWriteLights включает или отключает запись слоя освещения
func (r *Regions) SetWriteLights(enabled bool) {
	r.lightsMu.Lock()
	r.writeLights = enabled
	r.lightsMu.Unlock()
}

func (r *Regions) shouldWrite(id LayerID) bool {
	if id != LayerLights {
		return true
	}
	r.lightsMu.RLock()
	defer r.lightsMu.RUnlock()
	return r.writeLights
}

// Put сохраняет данные чанка в памяти. При compress данные сразу сжимаются
// методом слоя, иначе хранятся как есть и сжимаются при записи региона.
func (r *Regions) Put(chunkX, chunkZ int, layer LayerID, data []byte, compress bool) error {
	l, err := r.layer(layer)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("пустые данные чанка (%d, %d)", chunkX, chunkZ)
	}
	if uint64(len(data)) > uint64(^uint32(0)) {
		return fmt.Errorf("чанк (%d, %d) слишком велик: %d байт", chunkX, chunkZ, len(data))
	}

	method := compression.None
	payload := bytes.Clone(data)
	if compress && l.options.Compression != compression.None {
		method = l.options.Compression
		if payload, err = compression.Compress(method, data); err != nil {
			return fmt.Errorf("ошибка сжатия чанка (%d, %d): %w", chunkX, chunkZ, err)
		}
	}

	chunk := vec.Vec2{X: chunkX, Y: chunkZ}
	region := l.getOrCreate(chunk.ToRegionCoords(), r.metrics)
	region.Put(chunk.LocalInRegion(), payload, uint32(len(data)), method)

	r.metrics.ChunkWrites.WithLabelValues(l.id.String()).Inc()
	return nil
}

// Get возвращает данные чанка или nil, если чанк никогда не сохранялся.
// Промах кэша читается с диска и остаётся в памяти.
// Повреждённый регион-файл трактуется как отсутствие чанков.
func (r *Regions) Get(chunkX, chunkZ int, layer LayerID) ([]byte, error) {
	l, err := r.layer(layer)
	if err != nil {
		return nil, err
	}

	chunk := vec.Vec2{X: chunkX, Y: chunkZ}
	coords := chunk.ToRegionCoords()
	index := chunkIndex(chunk.LocalInRegion())
	region := l.getOrCreate(coords, r.metrics)

	if slot, ok := region.slot(index); ok {
		r.metrics.ChunkReads.WithLabelValues(l.id.String(), "memory").Inc()
		return r.decode(slot, chunk)
	}

	key := regionKey{x: coords.X, z: coords.Y, layer: layer}
	slot, err := r.fetchChunk(key, index)
	if err != nil {
		if IsFormatError(err) {
			r.metrics.RegionErrors.WithLabelValues(l.id.String()).Inc()
			r.logger.Warn("регион %s повреждён, чанк %s будет сгенерирован заново: %v", key, chunk, err)
			return nil, nil
		}
		return nil, err
	}
	if !slot.present() {
		r.metrics.ChunkReads.WithLabelValues(l.id.String(), "absent").Inc()
		return nil, nil
	}

	r.metrics.ChunkReads.WithLabelValues(l.id.String(), "disk").Inc()
	return r.decode(region.fill(index, slot), chunk)
}

func (r *Regions) decode(slot chunkSlot, chunk vec.Vec2) ([]byte, error) {
	data, err := slot.decode()
	if err != nil {
		return nil, fmt.Errorf("чанк %s: %w", chunk, err)
	}
	return data, nil
}

// fetchChunk читает один слот из файла региона
func (r *Regions) fetchChunk(key regionKey, index int) (chunkSlot, error) {
	lease, err := r.pool.acquire(key)
	if err != nil || lease == nil {
		return chunkSlot{}, err
	}
	defer lease.Release()

	return lease.file.read(index)
}

// fetchMissing дочитывает с диска все слоты, которых нет в памяти, и закрывает файл:
// после этого регион будет перезаписан целиком.
func (r *Regions) fetchMissing(key regionKey, region *WorldRegion) error {
	lease, err := r.pool.acquire(key)
	if err != nil || lease == nil {
		return err
	}
	defer lease.Discard()

	for _, index := range region.missing() {
		slot, err := lease.file.read(index)
		if err != nil {
			return err
		}
		if slot.present() {
			region.fill(index, slot)
		}
	}
	return nil
}

// Flush записывает все несохранённые регионы всех слоёв.
// Разные регионы пишутся параллельно. При ошибке несохранённые данные
// остаются в памяти, и Flush можно повторить.
func (r *Regions) Flush(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "regions.Flush")
	defer span.End()

	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	start := time.Now()
	defer func() { r.metrics.FlushDuration.Observe(time.Since(start).Seconds()) }()

	var g errgroup.Group
	g.SetLimit(r.pool.maxOpen)

	written := 0
	for _, l := range r.layers {
		if !r.shouldWrite(l.id) {
			continue
		}
		for coords, region := range l.unsaved() {
			written++
			l, coords, region := l, coords, region
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				return r.writeRegion(ctx, l, coords, region)
			})
		}
	}

	err := g.Wait()
	span.SetAttributes(attribute.Int("regions.count", written))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("ошибка записи регионов: %v", err)
		return err
	}

	if written > 0 {
		r.logger.Debug("записано регионов: %d за %v", written, time.Since(start))
	}
	return nil
}

// writeRegion перезаписывает файл региона целиком
func (r *Regions) writeRegion(ctx context.Context, l *regionsLayer, coords vec.Vec2, region *WorldRegion) error {
	key := regionKey{x: coords.X, z: coords.Y, layer: l.id}
	_, span := r.tracer.Start(ctx, "regions.writeRegion", trace.WithAttributes(
		attribute.String("layer", l.id.String()),
		attribute.Int("x", coords.X),
		attribute.Int("z", coords.Y),
	))
	defer span.End()

	// чанки, не загруженные за сессию, иначе пропадут при перезаписи
	if err := r.fetchMissing(key, region); err != nil {
		switch {
		case errors.Is(err, ErrIllegalRegionFormat):
			// файл более новой версии не перезаписывается, регион остаётся несохранённым
			r.metrics.RegionErrors.WithLabelValues(l.id.String()).Inc()
			span.RecordError(err)
			return fmt.Errorf("регион %s: %w", key, err)
		case !IsFormatError(err):
			span.RecordError(err)
			return fmt.Errorf("регион %s: %w", key, err)
		}
		r.metrics.RegionErrors.WithLabelValues(l.id.String()).Inc()
		r.logger.Warn("регион %s повреждён и будет перезаписан: %v", key, err)
	}

	slots, version := region.snapshot()
	for i := range slots {
		slot := &slots[i]
		if !slot.present() || slot.method == l.options.Compression {
			continue
		}
		recoded, err := recode(*slot, l.options.Compression)
		if err != nil {
			// битый чанк теряется и будет сгенерирован заново
			chunk := vec.FromRegion(coords, indexToLocal(i))
			r.metrics.RegionErrors.WithLabelValues(l.id.String()).Inc()
			r.logger.Warn("регион %s: чанк %s повреждён и не будет записан: %v", key, chunk, err)
			region.drop(i, *slot)
			*slot = chunkSlot{}
			continue
		}
		*slot = recoded
	}

	if err := writeRegionFile(l.regionPath(coords), l.options.Compression, slots); err != nil {
		span.RecordError(err)
		return fmt.Errorf("регион %s: %w", key, err)
	}
	r.pool.invalidate(key)
	region.markSaved(version)

	r.metrics.RegionWrites.WithLabelValues(l.id.String()).Inc()
	r.logger.Trace("регион %s записан", key)
	return nil
}

// recode пережимает слот в метод слоя
func recode(slot chunkSlot, method compression.Method) (chunkSlot, error) {
	data, err := slot.decode()
	if err != nil {
		return chunkSlot{}, err
	}
	encoded, err := compression.Compress(method, data)
	if err != nil {
		return chunkSlot{}, err
	}
	return chunkSlot{data: encoded, sourceSize: slot.sourceSize, method: method}, nil
}

// Stats сводка по загруженным регионам и открытым файлам
type Stats struct {
	ResidentRegions [LayersCount]int
	UnsavedRegions  [LayersCount]int
	OpenFiles       int
}

// Stats возвращает текущую статистику хранилища
func (r *Regions) Stats() Stats {
	var s Stats
	for _, l := range r.layers {
		l.mu.Lock()
		s.ResidentRegions[l.id] = len(l.regions)
		for _, region := range l.regions {
			if region.IsUnsaved() {
				s.UnsavedRegions[l.id]++
			}
		}
		l.mu.Unlock()
	}
	s.OpenFiles = r.pool.openCount()
	return s
}

// Close дожидается завершения операций с файлами и закрывает их.
// Несохранённые данные не записываются: Flush вызывается отдельно.
func (r *Regions) Close() error {
	return r.pool.close()
}

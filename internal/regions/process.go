package regions

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/annel0/worldstore/internal/vec"
)

// ChunkProcessor обрабатывает данные чанка при обходе регионов.
// Возвращённые данные сохраняются вместо исходных; nil - чанк не изменён.
type ChunkProcessor func(chunkX, chunkZ int, data []byte) ([]byte, error)

// Dir каталог мира
func (r *Regions) Dir() string {
	return r.dir
}

// RegionFiles координаты всех регионов слоя, сохранённых на диске
func (r *Regions) RegionFiles(layer LayerID) ([]vec.Vec2, error) {
	l, err := r.layer(layer)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", l.dir, err)
	}

	var coords []vec.Vec2
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if x, z, ok := ParseRegionFilename(entry.Name()); ok {
			coords = append(coords, vec.Vec2{X: x, Y: z})
		}
	}

	sort.Slice(coords, func(i, j int) bool {
		if coords[i].X != coords[j].X {
			return coords[i].X < coords[j].X
		}
		return coords[i].Y < coords[j].Y
	})
	return coords, nil
}

// ProcessRegions обходит все регионы слоя на диске, передаёт каждый
// сохранённый чанк в fn и перезаписывает регион в актуальном формате.
// Используется для конвертации мира и обновления версии файлов.
// Не должен выполняться одновременно с другими операциями над слоем.
func (r *Regions) ProcessRegions(ctx context.Context, layer LayerID, fn ChunkProcessor) error {
	l, err := r.layer(layer)
	if err != nil {
		return err
	}

	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	files, err := r.RegionFiles(layer)
	if err != nil {
		return err
	}

	for _, coords := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := regionKey{x: coords.X, z: coords.Y, layer: layer}
		region := l.getOrCreate(coords, r.metrics)
		if err := r.fetchMissing(key, region); err != nil {
			if !IsFormatError(err) {
				return fmt.Errorf("регион %s: %w", key, err)
			}
			r.metrics.RegionErrors.WithLabelValues(l.id.String()).Inc()
			r.logger.Warn("пропуск повреждённого региона %s: %v", key, err)
			continue
		}

		slots, _ := region.snapshot()
		for index := range slots {
			if !slots[index].present() {
				continue
			}

			chunk := vec.FromRegion(coords, indexToLocal(index))
			data, err := r.decode(slots[index], chunk)
			if err != nil {
				r.metrics.RegionErrors.WithLabelValues(l.id.String()).Inc()
				r.logger.Warn("пропуск повреждённого чанка: %v", err)
				continue
			}

			result, err := fn(chunk.X, chunk.Y, data)
			if err != nil {
				return fmt.Errorf("обработка чанка %s: %w", chunk, err)
			}
			if result == nil {
				continue
			}
			if err := r.Put(chunk.X, chunk.Y, layer, result, true); err != nil {
				return err
			}
		}

		// регион пишется всегда, чтобы файл перешёл в актуальную версию
		if err := r.writeRegion(ctx, l, coords, region); err != nil {
			return err
		}
		r.logger.Debug("регион %s обработан", key)
	}
	return nil
}

// UpgradeRegions перезаписывает все регион-файлы слоя в актуальной версии формата
func (r *Regions) UpgradeRegions(ctx context.Context, layer LayerID) error {
	return r.ProcessRegions(ctx, layer, func(_, _ int, _ []byte) ([]byte, error) {
		return nil, nil
	})
}

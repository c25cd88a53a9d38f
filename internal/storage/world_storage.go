package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/annel0/worldstore/internal/config"
	"github.com/annel0/worldstore/internal/logging"
	"github.com/annel0/worldstore/internal/regions"
	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/disk"
)

// ключ описания мира в BadgerDB
const worldInfoKey = "world:info"

// ErrNotReady хранилище закрыто
var ErrNotReady = errors.New("хранилище не готово")

// WorldInfo описание мира, хранится рядом с регион-файлами
type WorldInfo struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Seed          int64     `json:"seed"`
	CreatedAt     time.Time `json:"created_at"`
	LastSaveAt    time.Time `json:"last_save_at"`
	SaveCount     uint64    `json:"save_count"`
	FormatVersion uint8     `json:"format_version"`
}

// ChunkData данные чанка по слоям; nil - слой не задан
type ChunkData struct {
	X, Z        int
	Voxels      []byte
	Lights      []byte
	Inventories []byte
}

// Exists сообщает, что чанк был сохранён хотя бы в одном слое
func (c *ChunkData) Exists() bool {
	return c.Voxels != nil || c.Lights != nil || c.Inventories != nil
}

// Options параметры хранилища мира
type Options struct {
	Dir     string
	Name    string
	Seed    int64
	Regions regions.Options
	// MinFreeDisk порог свободного места в байтах; 0 - без проверки
	MinFreeDisk uint64
}

// OptionsFromConfig собирает параметры хранилища из конфигурации
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		Dir:         cfg.Storage.GetDir(),
		Name:        cfg.World.Name,
		Seed:        cfg.World.Seed,
		Regions:     regions.DefaultOptions(),
		MinFreeDisk: cfg.Storage.GetMinFreeDisk(),
	}
	opts.Regions.MaxOpenFiles = cfg.Storage.GetMaxOpenFiles()
	opts.Regions.WriteLights = cfg.Storage.GetWriteLights()

	methods := cfg.Storage.Compression
	if methods.Voxels != nil {
		opts.Regions.Layers[regions.LayerVoxels].Compression = *methods.Voxels
	}
	if methods.Lights != nil {
		opts.Regions.Layers[regions.LayerLights].Compression = *methods.Lights
	}
	if methods.Inventories != nil {
		opts.Regions.Layers[regions.LayerInventories].Compression = *methods.Inventories
	}
	return opts
}

// WorldStorage представляет собой хранилище данных мира:
// регион-файлы чанков и описание мира в BadgerDB
type WorldStorage struct {
	db      *badger.DB
	dbPath  string
	dir     string
	regions *regions.Regions
	mutex   sync.RWMutex
	isReady bool

	infoMu sync.Mutex
	info   WorldInfo

	minFreeDisk uint64
	diskFree    prometheus.Gauge
	logger      *logging.Logger
}

// NewWorldStorage открывает мир в opts.Dir, создавая его при первом запуске
func NewWorldStorage(opts Options) (*WorldStorage, error) {
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию мира %s: %w", opts.Dir, err)
	}

	logger := logging.GetStorageLogger()

	dbPath := filepath.Join(opts.Dir, "meta")
	dbOpts := badger.DefaultOptions(dbPath)
	dbOpts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	ws := &WorldStorage{
		db:          db,
		dbPath:      dbPath,
		dir:         opts.Dir,
		minFreeDisk: opts.MinFreeDisk,
		logger:      logger,
		diskFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "worldstore",
			Subsystem: "storage",
			Name:      "disk_free_bytes",
			Help:      "Свободное место на разделе каталога мира.",
		}),
	}

	if err := ws.loadInfo(opts); err != nil {
		db.Close()
		return nil, err
	}

	ws.regions, err = regions.New(opts.Dir, opts.Regions)
	if err != nil {
		db.Close()
		return nil, err
	}
	if opts.Regions.Registerer != nil {
		if err := opts.Regions.Registerer.Register(ws.diskFree); err != nil {
			logger.Warn("метрика свободного места не зарегистрирована: %v", err)
		}
	}

	ws.isReady = true
	logger.Info("мир %q (%s) открыт в %s, сохранений: %d", ws.info.Name, ws.info.ID, opts.Dir, ws.info.SaveCount)
	return ws, nil
}

// loadInfo читает описание мира или создаёт новое
func (ws *WorldStorage) loadInfo(opts Options) error {
	var data []byte
	err := ws.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(worldInfoKey))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		ws.info = WorldInfo{
			ID:            uuid.New(),
			Name:          opts.Name,
			Seed:          opts.Seed,
			CreatedAt:     time.Now().UTC(),
			FormatVersion: regions.RegionFormatVersion,
		}
		ws.logger.Info("создан новый мир %q (%s)", ws.info.Name, ws.info.ID)
		return ws.saveInfo(ws.info)
	}
	if err != nil {
		return fmt.Errorf("ошибка чтения описания мира: %w", err)
	}

	if err := json.Unmarshal(data, &ws.info); err != nil {
		return fmt.Errorf("ошибка десериализации описания мира: %w", err)
	}
	return nil
}

func (ws *WorldStorage) saveInfo(info WorldInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("ошибка сериализации описания мира: %w", err)
	}

	err = ws.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(worldInfoKey), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// Info возвращает копию описания мира
func (ws *WorldStorage) Info() WorldInfo {
	ws.infoMu.Lock()
	defer ws.infoMu.Unlock()
	return ws.info
}

// Regions хранилище регионов мира
func (ws *WorldStorage) Regions() *regions.Regions {
	return ws.regions
}

// SaveChunk сохраняет заданные слои чанка в память регионов.
// Воксели и освещение сжимаются сразу, инвентари хранятся как есть.
func (ws *WorldStorage) SaveChunk(chunk *ChunkData) error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return ErrNotReady
	}

	layers := []struct {
		id       regions.LayerID
		data     []byte
		compress bool
	}{
		{regions.LayerVoxels, chunk.Voxels, true},
		{regions.LayerLights, chunk.Lights, true},
		{regions.LayerInventories, chunk.Inventories, false},
	}

	for _, layer := range layers {
		if layer.data == nil {
			continue
		}
		if err := ws.regions.Put(chunk.X, chunk.Z, layer.id, layer.data, layer.compress); err != nil {
			return fmt.Errorf("ошибка сохранения чанка (%d, %d), слой %s: %w", chunk.X, chunk.Z, layer.id, err)
		}
	}
	return nil
}

// LoadChunk загружает все слои чанка. Для несохранённого чанка
// возвращает ChunkData без данных.
func (ws *WorldStorage) LoadChunk(x, z int) (*ChunkData, error) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return nil, ErrNotReady
	}

	chunk := &ChunkData{X: x, Z: z}
	targets := [regions.LayersCount]*[]byte{
		regions.LayerVoxels:      &chunk.Voxels,
		regions.LayerLights:      &chunk.Lights,
		regions.LayerInventories: &chunk.Inventories,
	}

	for id, target := range targets {
		data, err := ws.regions.Get(x, z, regions.LayerID(id))
		if err != nil {
			return nil, fmt.Errorf("ошибка загрузки чанка (%d, %d), слой %s: %w", x, z, regions.LayerID(id), err)
		}
		*target = data
	}
	return chunk, nil
}

// Flush записывает несохранённые регионы и отмечает сохранение в описании мира
func (ws *WorldStorage) Flush(ctx context.Context) error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return ErrNotReady
	}

	ws.checkDiskSpace()

	if err := ws.regions.Flush(ctx); err != nil {
		return err
	}

	ws.infoMu.Lock()
	defer ws.infoMu.Unlock()

	info := ws.info
	info.LastSaveAt = time.Now().UTC()
	info.SaveCount++
	info.FormatVersion = regions.RegionFormatVersion
	if err := ws.saveInfo(info); err != nil {
		return err
	}
	ws.info = info
	return nil
}

// checkDiskSpace предупреждает, если на разделе мира мало места
func (ws *WorldStorage) checkDiskSpace() {
	usage, err := disk.Usage(ws.dir)
	if err != nil {
		ws.logger.Warn("не удалось получить свободное место для %s: %v", ws.dir, err)
		return
	}

	ws.diskFree.Set(float64(usage.Free))
	if ws.minFreeDisk > 0 && usage.Free < ws.minFreeDisk {
		ws.logger.Warn("мало свободного места в %s: %d МБ (порог %d МБ)",
			ws.dir, usage.Free>>20, ws.minFreeDisk>>20)
	}
}

// Close закрывает хранилище данных. Несохранённые регионы не записываются.
func (ws *WorldStorage) Close() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if !ws.isReady {
		return nil
	}

	ws.isReady = false
	return errors.Join(ws.regions.Close(), ws.db.Close())
}

package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/annel0/worldstore/internal/compression"
	"github.com/annel0/worldstore/internal/config"
	"github.com/annel0/worldstore/internal/regions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(dir string) Options {
	opts := Options{
		Dir:     dir,
		Name:    "test-world",
		Seed:    1337,
		Regions: regions.DefaultOptions(),
	}
	opts.Regions.Registerer = prometheus.NewRegistry()
	return opts
}

func setupTestStorage(t *testing.T, dir string) *WorldStorage {
	t.Helper()

	storage, err := NewWorldStorage(testOptions(dir))
	require.NoError(t, err, "Не удалось создать хранилище")
	t.Cleanup(func() { storage.Close() })
	return storage
}

func testChunkData(x, z int) *ChunkData {
	return &ChunkData{
		X:           x,
		Z:           z,
		Voxels:      bytes.Repeat([]byte{1, 0, 0, 0}, regions.ChunkVol),
		Lights:      bytes.Repeat([]byte{0x0F}, regions.LightsDataSize),
		Inventories: []byte(`[{"x":1,"y":64,"z":2,"items":[7,7,7]}]`),
	}
}

func TestWorldInfo(t *testing.T) {
	dir := t.TempDir()

	storage := setupTestStorage(t, dir)
	info := storage.Info()
	assert.Equal(t, "test-world", info.Name)
	assert.Equal(t, int64(1337), info.Seed)
	assert.NotEqual(t, [16]byte{}, [16]byte(info.ID))
	assert.False(t, info.CreatedAt.IsZero())
	assert.Zero(t, info.SaveCount)
	assert.Equal(t, uint8(regions.RegionFormatVersion), info.FormatVersion)

	require.NoError(t, storage.Flush(context.Background()))
	require.NoError(t, storage.Flush(context.Background()))
	require.NoError(t, storage.Close())

	// описание мира переживает перезапуск, параметры нового запуска его не меняют
	opts := testOptions(dir)
	opts.Name = "другое имя"
	reopened, err := NewWorldStorage(opts)
	require.NoError(t, err)
	defer reopened.Close()

	restored := reopened.Info()
	assert.Equal(t, info.ID, restored.ID)
	assert.Equal(t, "test-world", restored.Name)
	assert.Equal(t, uint64(2), restored.SaveCount)
	assert.False(t, restored.LastSaveAt.IsZero())
}

func TestSaveAndLoadChunk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	storage := setupTestStorage(t, dir)

	t.Run("Save and Load", func(t *testing.T) {
		chunk := testChunkData(10, -20)
		require.NoError(t, storage.SaveChunk(chunk))

		loaded, err := storage.LoadChunk(10, -20)
		require.NoError(t, err)
		assert.True(t, loaded.Exists())
		assert.Equal(t, chunk.Voxels, loaded.Voxels)
		assert.Equal(t, chunk.Lights, loaded.Lights)
		assert.Equal(t, chunk.Inventories, loaded.Inventories)
	})

	t.Run("Load Non-Existent Chunk", func(t *testing.T) {
		loaded, err := storage.LoadChunk(99, 99)
		require.NoError(t, err)
		assert.False(t, loaded.Exists())
		assert.Equal(t, 99, loaded.X)
		assert.Equal(t, 99, loaded.Z)
	})

	t.Run("Partial Layers", func(t *testing.T) {
		require.NoError(t, storage.SaveChunk(&ChunkData{X: 3, Z: 3, Inventories: []byte("[]")}))

		loaded, err := storage.LoadChunk(3, 3)
		require.NoError(t, err)
		assert.True(t, loaded.Exists())
		assert.Nil(t, loaded.Voxels)
		assert.Nil(t, loaded.Lights)
		assert.Equal(t, []byte("[]"), loaded.Inventories)
	})

	t.Run("Persist After Flush", func(t *testing.T) {
		require.NoError(t, storage.Flush(ctx))
		require.NoError(t, storage.Close())

		assert.FileExists(t, filepath.Join(dir, "regions", "0_-1.bin"))
		assert.FileExists(t, filepath.Join(dir, "lights", "0_-1.bin"))
		assert.FileExists(t, filepath.Join(dir, "inventories", "0_0.bin"))

		reopened := setupTestStorage(t, dir)
		loaded, err := reopened.LoadChunk(10, -20)
		require.NoError(t, err)
		assert.Equal(t, testChunkData(10, -20).Voxels, loaded.Voxels)
		assert.Equal(t, testChunkData(10, -20).Inventories, loaded.Inventories)
	})
}

func TestClosedStorage(t *testing.T) {
	storage := setupTestStorage(t, t.TempDir())
	require.NoError(t, storage.Close())
	require.NoError(t, storage.Close())

	assert.ErrorIs(t, storage.SaveChunk(testChunkData(0, 0)), ErrNotReady)
	_, err := storage.LoadChunk(0, 0)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, storage.Flush(context.Background()), ErrNotReady)
}

func TestOptionsFromConfig(t *testing.T) {
	t.Setenv("WORLD_DIR", "")
	t.Setenv("WORLD_MAX_OPEN_FILES", "")

	path := filepath.Join(t.TempDir(), "world.yaml")
	content := "world:\n  name: Terra\nstorage:\n  dir: /data/terra\n  max_open_files: 3\n  write_lights: false\n  compression:\n    voxels: zstd\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, "/data/terra", opts.Dir)
	assert.Equal(t, "Terra", opts.Name)
	assert.Equal(t, 3, opts.Regions.MaxOpenFiles)
	assert.False(t, opts.Regions.WriteLights)
	assert.Equal(t, compression.Zstd, opts.Regions.Layers[regions.LayerVoxels].Compression)
	assert.Equal(t, compression.Extrle8, opts.Regions.Layers[regions.LayerLights].Compression)
	assert.Equal(t, compression.None, opts.Regions.Layers[regions.LayerInventories].Compression)
}

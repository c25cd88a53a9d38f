package regions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/annel0/worldstore/internal/compression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectRegionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), RegionFilename(0, 0))

	good := compression.EncodeExtrle8(testChunk(1, 512))
	var slots [RegionChunksCount]chunkSlot
	slots[33] = chunkSlot{data: good, sourceSize: 512, method: compression.Extrle8}
	// размер не совпадает с содержимым: распаковка должна провалиться
	slots[40] = chunkSlot{data: good, sourceSize: 100, method: compression.Extrle8}
	require.NoError(t, writeRegionFile(path, compression.Extrle8, &slots))

	info, err := InspectRegionFile(path, LayerLights, DefaultLayerOptions()[LayerLights], true)
	require.NoError(t, err)
	assert.Equal(t, uint8(RegionFormatVersion), info.Version)
	assert.Equal(t, compression.Extrle8, info.Method)
	assert.Equal(t, regionMagic[:], info.Header[:8])
	require.Len(t, info.Chunks, 2)

	assert.Equal(t, 33, info.Chunks[0].Index)
	assert.Equal(t, vecOf(1, 1), info.Chunks[0].Local)
	assert.Equal(t, len(good), info.Chunks[0].CompressedSize)
	assert.NoError(t, info.Chunks[0].Err)
	assert.ErrorIs(t, info.Chunks[1].Err, compression.ErrCorrupted)

	_, err = InspectRegionFile(filepath.Join(t.TempDir(), "9_9.bin"), LayerVoxels, LayerOptions{}, false)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = InspectRegionFile(path, LayersCount, LayerOptions{}, false)
	assert.Error(t, err)
}

func TestInspectRegionFileVersion1UsesLayerOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), RegionFilename(2, 2))

	source := testChunk(5, 1000)
	writeRegionFileV1(t, path, map[int][]byte{3: compression.EncodeExtrle8(source)})

	opts := LayerOptions{Compression: compression.Extrle16, ChunkDataSize: len(source)}
	info, err := InspectRegionFile(path, LayerVoxels, opts, true)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), info.Version)
	require.Len(t, info.Chunks, 1)
	assert.Equal(t, uint32(len(source)), info.Chunks[0].SourceSize)
	assert.NoError(t, info.Chunks[0].Err)

	// с размером чанка по умолчанию тот же блок не распаковывается
	info, err = InspectRegionFile(path, LayerVoxels, DefaultLayerOptions()[LayerVoxels], true)
	require.NoError(t, err)
	require.Len(t, info.Chunks, 1)
	assert.Equal(t, uint32(VoxelsDataSize), info.Chunks[0].SourceSize)
	assert.ErrorIs(t, info.Chunks[0].Err, compression.ErrCorrupted)
}

func TestParseLayer(t *testing.T) {
	for id := LayerID(0); id < LayersCount; id++ {
		parsed, err := ParseLayer(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
	_, err := ParseLayer("entities")
	assert.Error(t, err)
}

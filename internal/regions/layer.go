package regions

import (
	"fmt"

	"github.com/annel0/worldstore/internal/compression"
)

// LayerID независимый слой сохраняемых данных.
// Каждый слой хранится в своём каталоге со своим набором регион-файлов.
type LayerID uint8

const (
	LayerVoxels LayerID = iota
	LayerLights
	LayerInventories

	LayersCount // всегда последний: количество слоев
)

const (
	ChunkW   = 16
	ChunkH   = 256
	ChunkD   = 16
	ChunkVol = ChunkW * ChunkH * ChunkD

	// VoxelsDataSize размер массива вокселей чанка (id + состояние, по 2 байта)
	VoxelsDataSize = ChunkVol * 4
	// LightsDataSize размер карты освещения чанка
	LightsDataSize = ChunkVol * 2
)

var layerNames = [LayersCount]string{
	LayerVoxels:      "voxels",
	LayerLights:      "lights",
	LayerInventories: "inventories",
}

// каталоги слоёв внутри каталога мира
var layerFolders = [LayersCount]string{
	LayerVoxels:      "regions",
	LayerLights:      "lights",
	LayerInventories: "inventories",
}

func (l LayerID) String() string {
	if l < LayersCount {
		return layerNames[l]
	}
	return fmt.Sprintf("layer(%d)", uint8(l))
}

// ParseLayer разбирает имя слоя
func ParseLayer(name string) (LayerID, error) {
	for id, n := range layerNames {
		if n == name {
			return LayerID(id), nil
		}
	}
	return LayersCount, fmt.Errorf("неизвестный слой %q", name)
}

// Folder имя каталога слоя
func (l LayerID) Folder() string {
	return layerFolders[l]
}

// LayerOptions параметры хранения слоя
type LayerOptions struct {
	// Compression схема сжатия блоков; записывается в флаги заголовка
	Compression compression.Method
	// ChunkDataSize фиксированный размер данных чанка для файлов версии 1,
	// где размер исходных данных не хранится. 0 - данные хранились без сжатия.
	ChunkDataSize int
}

// DefaultLayerOptions параметры слоёв по умолчанию
func DefaultLayerOptions() [LayersCount]LayerOptions {
	return [LayersCount]LayerOptions{
		LayerVoxels:      {Compression: compression.Extrle16, ChunkDataSize: VoxelsDataSize},
		LayerLights:      {Compression: compression.Extrle8, ChunkDataSize: LightsDataSize},
		LayerInventories: {Compression: compression.None},
	}
}

// legacyMethod схема сжатия файлов версии 1: байт флагов там не использовался
func legacyMethod(layer LayerID) compression.Method {
	if layer == LayerInventories {
		return compression.None
	}
	return compression.Extrle8
}

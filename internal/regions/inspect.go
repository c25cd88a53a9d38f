package regions

import (
	"fmt"
	"os"

	"github.com/annel0/worldstore/internal/compression"
	"github.com/annel0/worldstore/internal/vec"
)

// ChunkInfo описание блока чанка в регион-файле
type ChunkInfo struct {
	Index          int
	Local          vec.Vec2
	CompressedSize int
	SourceSize     uint32
	// Err ошибка распаковки, если запрошена проверка
	Err error
}

// RegionFileInfo содержимое регион-файла без распаковки данных
type RegionFileInfo struct {
	Path    string
	Size    int64
	Header  []byte
	Version uint8
	Method  compression.Method
	Chunks  []ChunkInfo
}

// InspectRegionFile читает заголовок и таблицу слотов регион-файла слоя.
// opts нужны для файлов версии 1, где размер исходных данных не хранится.
// При verify каждый блок распаковывается для проверки целостности.
func InspectRegionFile(path string, layer LayerID, opts LayerOptions, verify bool) (*RegionFileInfo, error) {
	if layer >= LayersCount {
		return nil, fmt.Errorf("неизвестный слой %d", uint8(layer))
	}

	key := regionKey{layer: layer}
	rf, err := openRegFile(path, key, opts)
	if err != nil {
		return nil, err
	}
	if rf == nil {
		return nil, fmt.Errorf("регион-файл %s: %w", path, os.ErrNotExist)
	}
	defer rf.close()

	info := &RegionFileInfo{
		Path:    path,
		Size:    rf.size,
		Header:  make([]byte, RegionHeaderSize),
		Version: rf.version,
		Method:  rf.method,
	}
	if _, err := rf.file.ReadAt(info.Header, 0); err != nil {
		return nil, fmt.Errorf("ошибка чтения заголовка %s: %w", path, err)
	}

	for index := 0; index < RegionChunksCount; index++ {
		slot, err := rf.read(index)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if !slot.present() {
			continue
		}

		chunk := ChunkInfo{
			Index:          index,
			Local:          indexToLocal(index),
			CompressedSize: len(slot.data),
			SourceSize:     slot.sourceSize,
		}
		if verify {
			_, chunk.Err = slot.decode()
		}
		info.Chunks = append(info.Chunks, chunk)
	}
	return info, nil
}

package regions

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/annel0/worldstore/internal/compression"
)

// Формат регион-файла:
//
//	заголовок  [8]magic [1]версия [1]флаги (метод сжатия в версии 2)
//	тело       блоки чанков в произвольном порядке
//	футер      [1024]uint32 смещения блоков, 0 - слот пуст
//
// Версия 1: big-endian, блок [u32 compressedSize][payload],
// размер исходных данных фиксирован для слоя.
// Версия 2: little-endian, блок [u32 compressedSize][u32 sourceSize][payload].

// regFile открытый на чтение регион-файл. Принадлежит filePool.
type regFile struct {
	file    *os.File
	key     regionKey
	size    int64
	version uint8
	method  compression.Method
	// размер исходных данных для версии 1
	legacySize int

	inUse bool
	// файл заменён на диске; закрыть при возврате аренды
	stale bool
}

// openRegFile открывает и проверяет регион-файл.
// Отсутствующий файл не является ошибкой: возвращается nil, nil.
func openRegFile(path string, key regionKey, opts LayerOptions) (*regFile, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("не удалось открыть регион-файл %s: %w", path, err)
	}

	rf, err := readRegHeader(file, key, opts)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rf, nil
}

func readRegHeader(file *os.File, key regionKey, opts LayerOptions) (*regFile, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	var header [RegionHeaderSize]byte
	if _, err := io.ReadFull(file, header[:]); err != nil {
		return nil, fmt.Errorf("%w: файл короче заголовка", ErrRegionFormat)
	}
	if [8]byte(header[:8]) != regionMagic {
		return nil, fmt.Errorf("%w: неверная сигнатура", ErrRegionFormat)
	}

	version := header[8]
	if version > RegionFormatVersion {
		return nil, fmt.Errorf("%w: версия %d, поддерживается до %d", ErrIllegalRegionFormat, version, RegionFormatVersion)
	}
	if version == 0 {
		return nil, fmt.Errorf("%w: нулевая версия", ErrRegionFormat)
	}
	if info.Size() < RegionHeaderSize+regionFooterSize {
		return nil, fmt.Errorf("%w: нет таблицы смещений", ErrRegionFormat)
	}

	rf := &regFile{
		file:       file,
		key:        key,
		size:       info.Size(),
		version:    version,
		method:     legacyMethod(key.layer),
		legacySize: opts.ChunkDataSize,
	}

	if version >= 2 {
		rf.method = compression.Method(header[9])
		if !rf.method.Valid() {
			return nil, fmt.Errorf("%w: неизвестный метод сжатия %d", ErrRegionFormat, header[9])
		}
	}
	return rf, nil
}

// byteOrder порядок байт зависит от версии формата
func (rf *regFile) byteOrder() binary.ByteOrder {
	if rf.version == 1 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// read читает блок слота index.
// Возвращает nil-слот, если чанк в файле отсутствует.
func (rf *regFile) read(index int) (chunkSlot, error) {
	if index < 0 || index >= RegionChunksCount {
		return chunkSlot{}, fmt.Errorf("индекс чанка %d вне диапазона", index)
	}

	order := rf.byteOrder()
	footer := rf.size - regionFooterSize

	var buf [8]byte
	if _, err := rf.file.ReadAt(buf[:4], footer+int64(index)*4); err != nil {
		return chunkSlot{}, fmt.Errorf("ошибка чтения смещения чанка %d: %w", index, err)
	}

	offset := int64(order.Uint32(buf[:4]))
	if offset == 0 {
		return chunkSlot{}, nil
	}

	blockHeader := 8
	if rf.version == 1 {
		blockHeader = 4
	}
	if offset < RegionHeaderSize || offset+int64(blockHeader) > footer {
		return chunkSlot{}, fmt.Errorf("%w: смещение %d чанка %d вне тела файла", ErrRegionFormat, offset, index)
	}

	if _, err := rf.file.ReadAt(buf[:blockHeader], offset); err != nil {
		return chunkSlot{}, fmt.Errorf("ошибка чтения заголовка блока %d: %w", index, err)
	}

	compressedSize := int64(order.Uint32(buf[:4]))
	var sourceSize uint32
	if rf.version == 1 {
		sourceSize = uint32(rf.legacySize)
		if rf.legacySize == 0 {
			sourceSize = uint32(compressedSize)
		}
	} else {
		sourceSize = order.Uint32(buf[4:8])
	}

	start := offset + int64(blockHeader)
	if start+compressedSize > footer {
		return chunkSlot{}, fmt.Errorf("%w: блок чанка %d выходит за тело файла", ErrRegionFormat, index)
	}

	data := make([]byte, compressedSize)
	if _, err := rf.file.ReadAt(data, start); err != nil {
		return chunkSlot{}, fmt.Errorf("ошибка чтения блока %d: %w", index, err)
	}

	return chunkSlot{data: data, sourceSize: sourceSize, method: rf.method}, nil
}

func (rf *regFile) close() error {
	return rf.file.Close()
}

// writeRegionFile записывает регион целиком в актуальной версии формата.
// Данные пишутся во временный файл и атомарно переименовываются поверх старого,
// поэтому сбой записи не портит предыдущую версию региона.
func writeRegionFile(path string, method compression.Method, slots *[RegionChunksCount]chunkSlot) (err error) {
	file, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("не удалось создать временный файл для %s: %w", path, err)
	}
	tmpPath := file.Name()
	defer func() {
		if err != nil {
			file.Close()
			os.Remove(tmpPath)
		}
	}()

	if err = file.Chmod(0644); err != nil {
		return err
	}

	w := bufio.NewWriterSize(file, 64*1024)
	order := binary.LittleEndian

	header := make([]byte, 0, RegionHeaderSize)
	header = append(header, regionMagic[:]...)
	header = append(header, RegionFormatVersion, byte(method))
	if _, err = w.Write(header); err != nil {
		return err
	}

	var offsets [RegionChunksCount]uint32
	var sizes [8]byte
	offset := int64(RegionHeaderSize)

	for i := range slots {
		slot := &slots[i]
		if slot.data == nil {
			continue
		}
		if offset > math.MaxUint32 {
			return fmt.Errorf("регион %s превышает 4 ГиБ", path)
		}
		offsets[i] = uint32(offset)

		order.PutUint32(sizes[:4], uint32(len(slot.data)))
		order.PutUint32(sizes[4:], slot.sourceSize)
		if _, err = w.Write(sizes[:]); err != nil {
			return err
		}
		if _, err = w.Write(slot.data); err != nil {
			return err
		}
		offset += int64(len(sizes) + len(slot.data))
	}

	footer := make([]byte, regionFooterSize)
	for i, off := range offsets {
		order.PutUint32(footer[i*4:], off)
	}
	if _, err = w.Write(footer); err != nil {
		return err
	}

	if err = w.Flush(); err != nil {
		return err
	}
	if err = file.Sync(); err != nil {
		return err
	}
	if err = file.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("не удалось заменить %s: %w", path, err)
	}
	return nil
}

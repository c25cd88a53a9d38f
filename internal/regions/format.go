package regions

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/annel0/worldstore/internal/vec"
)

const (
	RegionSizeBit      = vec.RegionSizeBit
	RegionSize         = vec.RegionSize
	RegionChunksCount  = RegionSize * RegionSize
	MaxOpenRegionFiles = 16

	// RegionHeaderSize магия (8 байт) + версия + флаги
	RegionHeaderSize = 10
	// RegionFormatVersion версия, которую пишет writeRegionFile
	RegionFormatVersion = 2

	regionFooterSize = RegionChunksCount * 4
)

// regionMagic маркер в начале каждого регион-файла
var regionMagic = [8]byte{'.', 'V', 'O', 'X', 'R', 'E', 'G', 0}

var (
	// ErrRegionFormat файл не является регион-файлом (короткий, неверная магия, битые смещения)
	ErrRegionFormat = errors.New("неверный формат регион-файла")
	// ErrIllegalRegionFormat версия формата не поддерживается
	ErrIllegalRegionFormat = errors.New("неподдерживаемая версия регион-файла")
	// ErrRegionFileInUse повторная аренда файла региона, уже находящегося в работе
	ErrRegionFileInUse = errors.New("регион-файл уже используется")
	// ErrClosed хранилище регионов закрыто
	ErrClosed = errors.New("хранилище регионов закрыто")
)

// IsFormatError сообщает, что ошибка относится к содержимому конкретного файла,
// а не к вводу-выводу. Такой регион считается потерянным, а не фатальным.
func IsFormatError(err error) bool {
	return errors.Is(err, ErrRegionFormat) || errors.Is(err, ErrIllegalRegionFormat)
}

// regionKey идентифицирует файл региона в пуле: координаты + слой
type regionKey struct {
	x, z  int
	layer LayerID
}

func (k regionKey) coords() vec.Vec2 {
	return vec.Vec2{X: k.x, Y: k.z}
}

func (k regionKey) String() string {
	return fmt.Sprintf("%s/%d_%d", k.layer, k.x, k.z)
}

// chunkIndex индекс слота по локальным координатам
func chunkIndex(local vec.Vec2) int {
	return local.Y*RegionSize + local.X
}

// indexToLocal обратное преобразование к chunkIndex
func indexToLocal(index int) vec.Vec2 {
	return vec.Vec2{X: index % RegionSize, Y: index / RegionSize}
}

// RegionFilename имя файла региона "{x}_{z}.bin"
func RegionFilename(x, z int) string {
	return fmt.Sprintf("%d_%d.bin", x, z)
}

var regionFilenameRe = regexp.MustCompile(`^(-?\d+)_(-?\d+)\.bin$`)

// ParseRegionFilename разбирает имя файла региона.
// Возвращает false для посторонних файлов (включая временные *.tmp).
func ParseRegionFilename(name string) (x, z int, ok bool) {
	m := regionFilenameRe.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}

	x, errX := strconv.Atoi(m[1])
	z, errZ := strconv.Atoi(m[2])
	if errX != nil || errZ != nil {
		return 0, 0, false
	}
	return x, z, true
}

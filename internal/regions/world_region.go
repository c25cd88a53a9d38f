package regions

import (
	"sync"

	"github.com/annel0/worldstore/internal/compression"
	"github.com/annel0/worldstore/internal/vec"
)

// chunkSlot закодированные данные одного чанка.
// Буфер data никогда не изменяется на месте: put заменяет его целиком,
// поэтому снимок слотов можно читать без блокировки.
type chunkSlot struct {
	data       []byte // сжатые данные, compressedSize = len(data)
	sourceSize uint32 // размер исходных данных
	method     compression.Method
}

func (s chunkSlot) present() bool {
	return s.data != nil
}

// decode распаковывает данные слота
func (s chunkSlot) decode() ([]byte, error) {
	return compression.Decompress(s.method, s.data, int(s.sourceSize))
}

// WorldRegion буфер чанков одного региона одного слоя до записи на диск
type WorldRegion struct {
	mu      sync.Mutex
	slots   [RegionChunksCount]chunkSlot
	unsaved bool
	// счётчик изменений; позволяет не сбросить флаг unsaved,
	// если put случился во время записи региона
	version uint64
}

func newWorldRegion() *WorldRegion {
	return &WorldRegion{}
}

// Put сохраняет данные чанка и помечает регион несохранённым
func (r *WorldRegion) Put(local vec.Vec2, data []byte, sourceSize uint32, method compression.Method) {
	r.mu.Lock()
	r.slots[chunkIndex(local)] = chunkSlot{data: data, sourceSize: sourceSize, method: method}
	r.unsaved = true
	r.version++
	r.mu.Unlock()
}

// IsUnsaved сообщает, есть ли в регионе незаписанные изменения
func (r *WorldRegion) IsUnsaved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsaved
}

// ChunksCount количество загруженных в память чанков
func (r *WorldRegion) ChunksCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for i := range r.slots {
		if r.slots[i].present() {
			count++
		}
	}
	return count
}

func (r *WorldRegion) slot(index int) (chunkSlot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slots[index]
	return slot, slot.present()
}

// fill заполняет пустой слот данными с диска, не помечая регион несохранённым.
// Если слот уже занят (put во время чтения), возвращает текущие данные.
func (r *WorldRegion) fill(index int, slot chunkSlot) chunkSlot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current := r.slots[index]; current.present() {
		return current
	}
	r.slots[index] = slot
	return slot
}

// drop удаляет повреждённый слот, если его не заменили новым put.
// Флаг unsaved и версия не меняются.
func (r *WorldRegion) drop(index int, bad chunkSlot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sameBuffer(r.slots[index].data, bad.data) {
		r.slots[index] = chunkSlot{}
	}
}

func sameBuffer(a, b []byte) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}

// missing индексы слотов, отсутствующих в памяти
func (r *WorldRegion) missing() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var indices []int
	for i := range r.slots {
		if !r.slots[i].present() {
			indices = append(indices, i)
		}
	}
	return indices
}

// snapshot копия слотов для записи и версия, к которой она относится
func (r *WorldRegion) snapshot() (*[RegionChunksCount]chunkSlot, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots := r.slots
	return &slots, r.version
}

// markSaved сбрасывает флаг unsaved, если с момента снимка не было изменений
func (r *WorldRegion) markSaved(version uint64) {
	r.mu.Lock()
	if r.version == version {
		r.unsaved = false
	}
	r.mu.Unlock()
}

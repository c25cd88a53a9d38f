package regions

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/annel0/worldstore/internal/logging"
)

// filePool ограничивает число одновременно открытых регион-файлов.
//
// Файл выдаётся через аренду (fileLease) и помечается inUse до её возврата.
// Повторная аренда занятого файла - нарушение контракта вызывающего кода:
// две операции не должны работать с одним регионом одновременно.
// Когда пул заполнен, acquire ждёт на условной переменной и закрывает
// первый найденный свободный файл (не LRU).
type filePool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	files   map[regionKey]*regFile
	maxOpen int
	leased  int
	closed  bool

	locate  func(regionKey) (string, LayerOptions)
	metrics *Metrics
	logger  *logging.Logger
}

func newFilePool(maxOpen int, locate func(regionKey) (string, LayerOptions), metrics *Metrics, logger *logging.Logger) *filePool {
	if maxOpen <= 0 {
		maxOpen = MaxOpenRegionFiles
	}
	p := &filePool{
		files:   make(map[regionKey]*regFile),
		maxOpen: maxOpen,
		locate:  locate,
		metrics: metrics,
		logger:  logger,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// fileLease аренда открытого регион-файла. Release обязателен на всех путях.
type fileLease struct {
	pool *filePool
	file *regFile
	once sync.Once
}

// Release возвращает файл в пул. Повторный вызов ничего не делает.
func (l *fileLease) Release() {
	l.once.Do(func() { l.pool.release(l.file, false) })
}

// Discard возвращает файл и сразу закрывает его
func (l *fileLease) Discard() {
	l.once.Do(func() { l.pool.release(l.file, true) })
}

// acquire арендует файл региона, открывая его при необходимости.
// Возвращает nil, nil, если файла на диске нет.
func (p *filePool) acquire(key regionKey) (*fileLease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.closed {
			return nil, ErrClosed
		}

		if rf, ok := p.files[key]; ok {
			if rf.inUse {
				p.logger.Error("повторная аренда регион-файла %s", key)
				return nil, fmt.Errorf("%w: %s", ErrRegionFileInUse, key)
			}
			return p.lease(rf), nil
		}

		path, opts := p.locate(key)
		if len(p.files) < p.maxOpen {
			rf, err := openRegFile(path, key, opts)
			if err != nil || rf == nil {
				return nil, err
			}
			p.files[key] = rf
			p.metrics.OpenFiles.Inc()
			return p.lease(rf), nil
		}

		// пул заполнен: не занимаем место ради несуществующего файла
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		if victim := p.findFree(); victim != nil {
			p.evict(victim)
			p.metrics.PoolEvictions.Inc()
			continue
		}

		p.metrics.PoolWaits.Inc()
		p.logger.Debug("пул регион-файлов заполнен (%d), ожидание для %s", p.maxOpen, key)
		p.cond.Wait()
	}
}

func (p *filePool) lease(rf *regFile) *fileLease {
	rf.inUse = true
	p.leased++
	return &fileLease{pool: p, file: rf}
}

// findFree первый найденный не занятый файл
func (p *filePool) findFree() *regFile {
	for _, rf := range p.files {
		if !rf.inUse {
			return rf
		}
	}
	return nil
}

// evict закрывает файл и убирает его из пула; вызывается под p.mu
func (p *filePool) evict(rf *regFile) {
	delete(p.files, rf.key)
	p.metrics.OpenFiles.Dec()
	if err := rf.close(); err != nil {
		p.logger.Warn("ошибка закрытия регион-файла %s: %v", rf.key, err)
	}
}

func (p *filePool) release(rf *regFile, discard bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rf.inUse = false
	p.leased--
	if discard || rf.stale {
		if current, ok := p.files[rf.key]; ok && current == rf {
			p.evict(rf)
		}
	}
	// Broadcast: ждать могут и acquire, и close
	p.cond.Broadcast()
}

// invalidate закрывает файл региона, заменённый на диске.
// Арендованный файл закрывается при возврате аренды.
func (p *filePool) invalidate(key regionKey) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rf, ok := p.files[key]
	if !ok {
		return
	}
	if rf.inUse {
		rf.stale = true
		return
	}
	p.evict(rf)
	p.cond.Broadcast()
}

// openCount количество открытых файлов
func (p *filePool) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.files)
}

// close дожидается возврата всех аренд и закрывает все файлы
func (p *filePool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	// будим ожидающих acquire, чтобы они получили ErrClosed
	p.cond.Broadcast()

	for p.leased > 0 {
		p.cond.Wait()
	}

	var errs []error
	for key, rf := range p.files {
		if err := rf.close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		delete(p.files, key)
		p.metrics.OpenFiles.Dec()
	}
	return errors.Join(errs...)
}

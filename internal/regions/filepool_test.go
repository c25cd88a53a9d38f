package regions

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/worldstore/internal/compression"
	"github.com/annel0/worldstore/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPool создаёт пул и count регион-файлов (x = 0..count-1) в dir
func newTestPool(t *testing.T, dir string, maxOpen, count int) *filePool {
	t.Helper()

	for x := 0; x < count; x++ {
		var slots [RegionChunksCount]chunkSlot
		slots[0] = chunkSlot{data: []byte{byte(x)}, sourceSize: 1}
		require.NoError(t, writeRegionFile(filepath.Join(dir, RegionFilename(x, 0)), compression.None, &slots))
	}

	locate := func(key regionKey) (string, LayerOptions) {
		return filepath.Join(dir, RegionFilename(key.x, key.z)), LayerOptions{}
	}
	pool := newFilePool(maxOpen, locate, NewMetrics(nil), logging.GetRegionsLogger())
	t.Cleanup(func() { pool.close() })
	return pool
}

type acquireResult struct {
	lease *fileLease
	err   error
}

func TestFilePoolReusesResidentFile(t *testing.T) {
	pool := newTestPool(t, t.TempDir(), 4, 1)

	lease, err := pool.acquire(voxelsKey(0, 0))
	require.NoError(t, err)
	require.NotNil(t, lease)
	first := lease.file
	lease.Release()
	lease.Release() // повторный вызов безопасен

	lease, err = pool.acquire(voxelsKey(0, 0))
	require.NoError(t, err)
	assert.Same(t, first, lease.file, "свободный файл должен переиспользоваться")
	lease.Release()

	assert.Equal(t, 1, pool.openCount())
}

func TestFilePoolRejectsSecondLease(t *testing.T) {
	pool := newTestPool(t, t.TempDir(), 4, 1)

	lease, err := pool.acquire(voxelsKey(0, 0))
	require.NoError(t, err)
	defer lease.Release()

	second, err := pool.acquire(voxelsKey(0, 0))
	assert.Nil(t, second)
	assert.ErrorIs(t, err, ErrRegionFileInUse)
}

func TestFilePoolMissingFile(t *testing.T) {
	pool := newTestPool(t, t.TempDir(), 1, 1)

	lease, err := pool.acquire(voxelsKey(42, 0))
	assert.NoError(t, err)
	assert.Nil(t, lease)
	assert.Equal(t, 0, pool.openCount())

	// при заполненном пуле отсутствующий файл не вызывает ожидания
	held, err := pool.acquire(voxelsKey(0, 0))
	require.NoError(t, err)
	defer held.Release()

	lease, err = pool.acquire(voxelsKey(43, 0))
	assert.NoError(t, err)
	assert.Nil(t, lease)
}

func TestFilePoolEvictsFreeFile(t *testing.T) {
	pool := newTestPool(t, t.TempDir(), 2, 3)

	for x := 0; x < 3; x++ {
		lease, err := pool.acquire(voxelsKey(x, 0))
		require.NoError(t, err)
		require.NotNil(t, lease)

		slot, err := lease.file.read(0)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(x)}, slot.data)
		lease.Release()

		assert.LessOrEqual(t, pool.openCount(), 2)
	}
}

func TestFilePoolBlocksAtCapacity(t *testing.T) {
	pool := newTestPool(t, t.TempDir(), 2, 3)

	first, err := pool.acquire(voxelsKey(0, 0))
	require.NoError(t, err)
	second, err := pool.acquire(voxelsKey(1, 0))
	require.NoError(t, err)
	defer second.Release()

	result := make(chan acquireResult, 1)
	go func() {
		lease, err := pool.acquire(voxelsKey(2, 0))
		result <- acquireResult{lease, err}
	}()

	select {
	case <-result:
		t.Fatal("acquire должен ждать освобождения файла")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()

	select {
	case res := <-result:
		require.NoError(t, res.err)
		require.NotNil(t, res.lease)
		assert.Equal(t, voxelsKey(2, 0), res.lease.file.key)
		res.lease.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("acquire не продолжился после освобождения файла")
	}

	assert.LessOrEqual(t, pool.openCount(), 2)
}

func TestFilePoolConcurrentBound(t *testing.T) {
	const (
		workers = 8
		maxOpen = 3
		rounds  = 50
	)
	pool := newTestPool(t, t.TempDir(), maxOpen, workers)

	var (
		wg       sync.WaitGroup
		maxSeen  atomic.Int32
		failures atomic.Int32
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(x int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				lease, err := pool.acquire(voxelsKey(x, 0))
				if err != nil || lease == nil {
					failures.Add(1)
					return
				}

				open := int32(pool.openCount())
				for {
					seen := maxSeen.Load()
					if open <= seen || maxSeen.CompareAndSwap(seen, open) {
						break
					}
				}

				if slot, err := lease.file.read(0); err != nil || slot.data[0] != byte(x) {
					failures.Add(1)
				}
				lease.Release()
			}
		}(w)
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.LessOrEqual(t, maxSeen.Load(), int32(maxOpen))
}

func TestFilePoolCloseWaitsForLeases(t *testing.T) {
	pool := newTestPool(t, t.TempDir(), 2, 1)

	lease, err := pool.acquire(voxelsKey(0, 0))
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- pool.close() }()

	select {
	case <-closed:
		t.Fatal("close должен дождаться возврата аренды")
	case <-time.After(50 * time.Millisecond):
	}

	lease.Release()

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close не завершился")
	}

	_, err = pool.acquire(voxelsKey(0, 0))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, pool.openCount())
}

func TestFilePoolInvalidate(t *testing.T) {
	pool := newTestPool(t, t.TempDir(), 2, 1)

	lease, err := pool.acquire(voxelsKey(0, 0))
	require.NoError(t, err)

	// арендованный файл закрывается после возврата
	pool.invalidate(voxelsKey(0, 0))
	assert.Equal(t, 1, pool.openCount())
	lease.Release()
	assert.Equal(t, 0, pool.openCount())

	lease, err = pool.acquire(voxelsKey(0, 0))
	require.NoError(t, err)
	lease.Release()
	pool.invalidate(voxelsKey(0, 0))
	assert.Equal(t, 0, pool.openCount())
}

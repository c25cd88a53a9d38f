package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, TRACE, ParseLevel("TRACE"))
	assert.Equal(t, WARN, ParseLevel("WARN"))
	assert.Equal(t, INFO, ParseLevel(""))
	assert.Equal(t, INFO, ParseLevel("verbose"))
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestLoggerLevels(t *testing.T) {
	var console, file bytes.Buffer
	logger := &Logger{
		component:       "regions",
		consoleLogger:   log.New(&console, "", 0),
		fileLogger:      log.New(&file, "", 0),
		minConsoleLevel: INFO,
		minFileLevel:    TRACE,
	}

	logger.Trace("trace %d", 1)
	logger.Info("регион %s записан", "0_0")
	logger.Error("сбой")

	assert.Equal(t, "[INFO] [regions] регион 0_0 записан\n[ERROR] [regions] сбой\n", console.String())
	assert.Equal(t, 3, strings.Count(file.String(), "\n"))
	assert.Contains(t, file.String(), "[TRACE] [regions] trace 1")

	console.Reset()
	logger.SetLevels(ERROR, ERROR)
	logger.Warn("скрыто")
	assert.Empty(t, console.String())

	var nilLogger *Logger
	nilLogger.Info("ничего не происходит")
}

func TestLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	SetLogDir(dir)
	defer SetLogDir("")

	logger, err := NewLogger("storage")
	require.NoError(t, err)
	logger.SetLevels(ERROR, DEBUG)
	logger.Debug("сохранение %d", 7)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "storage_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	content, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "[DEBUG] [storage] сохранение 7")
}

func TestLoggerManager(t *testing.T) {
	lm := &LoggerManager{loggers: make(map[string]*Logger)}

	first := lm.MustGetLogger("regions")
	second := lm.MustGetLogger("regions")
	assert.Same(t, first, second)

	lm.MustGetLogger("cli")
	assert.Equal(t, []string{"cli", "regions"}, lm.ListComponents())

	assert.NoError(t, lm.SetLogLevel("regions", DEBUG, DEBUG))
	assert.Error(t, lm.SetLogLevel("missing", DEBUG, DEBUG))

	assert.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
}

func TestHexDump(t *testing.T) {
	assert.Equal(t, "No data", HexDump(nil))
	assert.Contains(t, HexDump([]byte(".VOXREG\x00")), "2e 56 4f 58 52 45 47 00")

	long := HexDump(bytes.Repeat([]byte{0xAB}, 1000))
	assert.Equal(t, 16, strings.Count(long, "\n"))
}

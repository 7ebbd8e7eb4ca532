package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"trace":   TRACE,
		"DEBUG":   DEBUG,
		"":        INFO,
		"warning": WARN,
		" error ": ERROR,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestConsoleLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger("volume", &buf)

	l.Debug("hidden %d", 1)
	l.Warn("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[WARN] [volume] shown 2")

	l.SetLevels(TRACE, TRACE)
	assert.True(t, l.Enabled(TRACE))
	l.Trace("now visible")
	assert.Contains(t, buf.String(), "[TRACE] [volume] now visible")
}

func TestFileLogger(t *testing.T) {
	dir := t.TempDir()
	SetLogDir(dir)
	defer SetLogDir("logs")

	l, err := NewLogger("storage")
	require.NoError(t, err)
	l.SetLevels(ERROR, DEBUG)

	l.Debug("only in file")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	files, err := filepath.Glob(filepath.Join(dir, "storage_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	content, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "[DEBUG] [storage] only in file")
}

func TestDefaultLoggerReplacement(t *testing.T) {
	var buf bytes.Buffer
	prev := DefaultLogger()
	SetDefaultLogger(NewConsoleLogger("test", &buf))
	defer SetDefaultLogger(prev)

	Info("hello %s", "world")
	Debug("quiet")
	assert.Contains(t, buf.String(), "[INFO] [test] hello world")
	assert.NotContains(t, buf.String(), "quiet")
}

func TestManagerReusesLoggers(t *testing.T) {
	SetLogDir("")
	defer SetLogDir("logs")

	lm := GetLoggerManager()
	a := GetComponentLogger("cache")
	b := GetComponentLogger("cache")
	assert.Same(t, a, b)
	assert.Contains(t, lm.ListComponents(), "cache")

	require.NoError(t, lm.SetLogLevel("cache", DEBUG, DEBUG))
	assert.True(t, a.Enabled(DEBUG))
	assert.Error(t, lm.SetLogLevel("missing", DEBUG, DEBUG))

	require.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
}

func TestHexDump(t *testing.T) {
	assert.Equal(t, "No data", HexDump(nil))
	dump := HexDump(make([]byte, 1000))
	// 256 байт = 16 строк по 16 байт
	assert.Equal(t, 16, bytes.Count([]byte(dump), []byte("\n")))
}

package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, Config{Level: "info"})
	require.NoError(t, err)

	l.Info("probed %d hosts", 3)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "info", record["level"])
	assert.Equal(t, "probed 3 hosts", record["message"])
	assert.Contains(t, record, "time")
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		expectDbg bool
	}{
		{name: "info hides debug", cfg: Config{Level: "info"}, expectDbg: false},
		{name: "debug level shows debug", cfg: Config{Level: "debug"}, expectDbg: true},
		{name: "debug flag overrides level", cfg: Config{Level: "error", Debug: true}, expectDbg: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := NewWithWriter(&buf, tt.cfg)
			require.NoError(t, err)

			l.Debug("hidden detail")
			if tt.expectDbg {
				assert.Contains(t, buf.String(), "hidden detail")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestNewWithWriter_InvalidLevel(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestNewWithWriter_Pretty(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, Config{Level: "info", Pretty: true})
	require.NoError(t, err)

	l.Warn("ledger write failed for %s", "web1")

	out := buf.String()
	assert.Contains(t, out, "ledger write failed for web1")
	assert.False(t, strings.HasPrefix(out, "{"), "pretty output should not be JSON")
}

func TestNamed(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, Config{Level: "info"})
	require.NoError(t, err)

	Named(l, "prober").Info("hello")
	assert.Contains(t, buf.String(), `"component":"prober"`)

	// Non-zerolog loggers pass through untouched.
	b := NewBufferLogger()
	assert.Same(t, b, Named(b, "prober"))
}

func TestNoop(t *testing.T) {
	l := Noop()
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
}

func TestBufferLogger(t *testing.T) {
	l := NewBufferLogger()

	l.Debug("debug %s", "a")
	l.Info("info")
	l.Warn("warn")
	l.Error("error %d", 1)

	msgs := l.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, LogMessage{Level: "debug", Message: "debug a"}, msgs[0])
	assert.Equal(t, LogMessage{Level: "error", Message: "error 1"}, msgs[3])
	assert.True(t, l.HasLevel("warn"))
	assert.True(t, l.Contains("error 1"))
	assert.False(t, l.Contains("nope"))

	l.Clear()
	assert.Empty(t, l.Messages())
	assert.False(t, l.HasLevel("warn"))
}

func TestBufferLogger_Concurrent(t *testing.T) {
	l := NewBufferLogger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l.Info("message %d", n)
		}(i)
	}
	wg.Wait()

	assert.Len(t, l.Messages(), 50)
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("FLEETUP_DEBUG", "1")
	cfg := DefaultConfig()
	assert.True(t, cfg.Debug)
	assert.Equal(t, "stderr", cfg.Output)

	t.Setenv("FLEETUP_DEBUG", "")
	assert.False(t, DefaultConfig().Debug)
}

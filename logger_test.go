package tarantool_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/ice-blockchain/go-tarantool-client"
	"github.com/ice-blockchain/go-tarantool-client/test_helpers"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) records(t *testing.T) []map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	var records []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		record := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		records = append(records, record)
	}
	return records
}

func findRecord(records []map[string]interface{}, event string) map[string]interface{} {
	for _, r := range records {
		if r["event"] == event {
			return r
		}
	}
	return nil
}

func TestSlogLogger_ConnectionAttrs(t *testing.T) {
	buf := &syncBuffer{}
	logger := NewSlogLogger(slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{})
	connOpts := opts
	connOpts.Logger = logger
	conn := test_helpers.ConnectWithValidation(t, srv.Addr(), connOpts)
	require.NoError(t, conn.Close())

	records := buf.records(t)
	connected := findRecord(records, "connected")
	require.NotNil(t, connected)
	assert.Equal(t, "Connected to Tarantool", connected["msg"])
	assert.Equal(t, "INFO", connected["level"])
	assert.Equal(t, srv.Addr(), connected["addr"])
	assert.Equal(t, test_helpers.ServerVersion, connected["server_version"])
	assert.Equal(t, conn.Id().String(), connected["connection_id"])
	assert.Equal(t, "5s", connected["request_timeout"])
	assert.NotContains(t, connected, "idle_timeout")

	closed := findRecord(records, "closed")
	require.NotNil(t, closed)
	assert.Equal(t, "closed", closed["connection_state"])
}

func TestSlogLogger_LevelFilter(t *testing.T) {
	buf := &syncBuffer{}
	logger := NewSlogLogger(slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelError})))

	logger.Report(ClosedEvent{}, nil)
	assert.Empty(t, buf.records(t))

	logger.Report(ConnectionFailedEvent{Error: errors.New("refused")}, nil)
	records := buf.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "Connection failed", records[0]["msg"])
	assert.Equal(t, "refused", records[0]["error"])
}

func TestSimpleLogger(t *testing.T) {
	var buf bytes.Buffer
	prevOut, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	})

	SimpleLogger{}.Report(UnexpectedResultIdEvent{RequestId: 42}, nil)

	out := buf.String()
	assert.Contains(t, out, "[DEBUG] Received response with unexpected request ID 42 [event=unexpected_result_id]")
	assert.Contains(t, out, "Request ID: 42")
}

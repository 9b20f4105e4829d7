package logging

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer_WrapsOldestFirst(t *testing.T) {
	rb := NewRingBuffer(3)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		rb.Write(LogEntry{Message: msg})
	}

	entries := rb.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].Message)
	assert.Equal(t, "e", entries[2].Message)
	assert.Equal(t, 3, rb.Len())

	recent := rb.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "d", recent[0].Message)

	rb.Clear()
	assert.Empty(t, rb.Entries())
}

func TestRingBuffer_DefaultCapacity(t *testing.T) {
	rb := NewRingBuffer(0)
	assert.Equal(t, DefaultBufferSize, rb.capacity)
}

func TestRingBuffer_FireRedactsFields(t *testing.T) {
	rb := NewRingBuffer(10)
	logger := log.New()
	logger.AddHook(rb)
	logger.SetOutput(nopWriter{})

	logger.WithFields(log.Fields{
		"client_secret": "s3cr3t",
		"flow":          "authz",
	}).Warn("exchange failed")

	entries := rb.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "warn", entries[0].Level)
	assert.Equal(t, "exchange failed", entries[0].Message)
	assert.Equal(t, "authz", entries[0].Fields["flow"])
	assert.NotEqual(t, "s3cr3t", entries[0].Fields["client_secret"])
}

func TestRingBuffer_Subscribe(t *testing.T) {
	rb := NewRingBuffer(10)
	ch, cancel := rb.Subscribe(1)

	rb.Write(LogEntry{Message: "first"})
	select {
	case got := <-ch:
		assert.Equal(t, "first", got.Message)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive entry")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// writes after cancel must not panic on the closed channel
	rb.Write(LogEntry{Message: "second"})
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

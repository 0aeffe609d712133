package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost:19092"}, cfg.KafkaBrokers)
	assert.Equal(t, "chat-messages", cfg.KafkaTopic)
	assert.Equal(t, "kafka", cfg.LogBackend)
	assert.Equal(t, "chat", cfg.UploadRoot)
	assert.Equal(t, int64(262144), cfg.UploadChunkSize)
	assert.Equal(t, 10*time.Second, cfg.TypingTTL)
	assert.Equal(t, 5*time.Second, cfg.TypingRefresh())
	assert.Equal(t, int64(1), cfg.NodeID)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LOG_BACKEND", "pebble")
	t.Setenv("TYPING_TTL", "30s")
	t.Setenv("NODE_ID", "12")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "pebble", cfg.LogBackend)
	assert.Equal(t, 30*time.Second, cfg.TypingTTL)
	assert.Equal(t, int64(12), cfg.NodeID)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"unknown backend", "LOG_BACKEND", "sqlite"},
		{"node out of range", "NODE_ID", "2048"},
		{"zero chunk", "UPLOAD_CHUNK_SIZE", "0"},
		{"bad log format", "LOG_FORMAT", "xml"},
		{"unparsable duration", "TYPING_TTL", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGatewayDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/wagate")

	cfg := LoadGateway()
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "whatsapp", cfg.Transport)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 3*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, "wagate.events", cfg.NATSSubjectPrefix)
	assert.Empty(t, cfg.AckQueueURL)
}

func TestLoadGatewayMemorySimulated(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("TRANSPORT", "simulated")
	t.Setenv("RECONNECT_DELAY", "500ms")

	cfg := LoadGateway()
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectDelay)
}

func TestLoadGatewayPanicsOnInvalid(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DB_DSN", "")
	assert.Panics(t, func() { LoadGateway() })

	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("TRANSPORT", "telegram")
	assert.Panics(t, func() { LoadGateway() })
}

func TestValidate(t *testing.T) {
	ok := GatewayConfig{StoreDriver: "memory", Transport: "simulated", AckWorkers: 1}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.AckWorkers = 0
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Transport = "whatsapp"
	bad.SessionDBDialect = "mysql"
	assert.Error(t, bad.Validate())
}

func TestLoadAckProcessorRequiresQueue(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/wagate")
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("ACK_QUEUE_URL", "unset-below")
	require.NoError(t, os.Unsetenv("ACK_QUEUE_URL"))
	assert.Panics(t, func() { LoadAckProcessor() })

	t.Setenv("ACK_QUEUE_URL", "http://localhost:4566/000000000000/acks.fifo")
	cfg := LoadAckProcessor()
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, int32(20), cfg.SQSWaitTime)
}

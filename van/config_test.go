package van

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DefaultIsInvalidWithoutClockHz(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "ClockHz must be set explicitly per platform")
	cfg.ClockHz = 1_000_000_000
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ValidateRejectsBadFields(t *testing.T) {
	base := DefaultConfig()
	base.ClockHz = 1_000_000_000

	tooSmallQueue := base
	tooSmallQueue.QueueCapacity = MinQueueCapacity - 1
	assert.Error(t, tooSmallQueue.Validate())

	negativeRetries := base
	negativeRetries.MaxTxRetries = -1
	assert.Error(t, negativeRetries.Validate())

	zeroTolerance := base
	zeroTolerance.EdgeToleranceFraction = 0
	assert.Error(t, zeroTolerance.Validate())

	fullTolerance := base
	fullTolerance.EdgeToleranceFraction = 1
	assert.Error(t, fullTolerance.Validate())
}

func TestConfig_LoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vanbus.yaml")
	contents := "queue_capacity: 20\nmax_tx_retries: 5\nenable_isr_debug: true\nclock_hz: 1000000000\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(20), cfg.QueueCapacity)
	assert.Equal(t, 5, cfg.MaxTxRetries)
	assert.True(t, cfg.EnableISRDebug)
	assert.Equal(t, uint64(1_000_000_000), cfg.ClockHz)
	// Fields omitted from the file keep DefaultConfig's values.
	assert.Equal(t, DefaultEdgeToleranceFraction, cfg.EdgeToleranceFraction)
}

func TestConfig_LoadConfigFile_MissingFile(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

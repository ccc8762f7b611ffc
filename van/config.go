package van

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config collects every tunable spec.md §6 enumerates. The zero value
// is not valid; use DefaultConfig and override from there.
type Config struct {
	// QueueCapacity is QUEUE_CAPACITY: number of ring slots. >= 4, default 15.
	QueueCapacity uint32 `yaml:"queue_capacity"`

	// MaxTxRetries is MAX_TX_RETRIES: arbitration retry bound. >= 0, default 3.
	MaxTxRetries int `yaml:"max_tx_retries"`

	// EnableISRDebug turns on per-slot edge-timing traces (ENABLE_ISR_DEBUG).
	EnableISRDebug bool `yaml:"enable_isr_debug"`

	// EdgeToleranceFraction is the ±window (as a fraction of one bit-time)
	// the bit decoder accepts when classifying how many bit-times an edge
	// gap represents. spec.md §9 leaves this as a platform tuning knob
	// rather than a hard constant; default 0.25 (±25%).
	EdgeToleranceFraction float64 `yaml:"edge_tolerance_fraction"`

	// ClockHz is the platform's CPU/reference clock rate used to derive
	// CYCLES_PER_BIT in the timing calibrator (spec.md §4.A).
	ClockHz uint64 `yaml:"clock_hz"`
}

// DefaultConfig returns spec.md §6's defaults. ClockHz has no
// universal default; callers must set it to their platform's actual
// clock rate before Validate will accept the config.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:         DefaultQueueCapacity,
		MaxTxRetries:          3,
		EnableISRDebug:        false,
		EdgeToleranceFraction: DefaultEdgeToleranceFraction,
		ClockHz:               0,
	}
}

// Validate rejects configurations spec.md §6 forbids outright, most
// importantly any attempt to raise MAX_DATA_BYTES above its hard 28
// (the field doesn't even exist here for that reason — MaxDataBytes is
// a compile-time constant, never part of Config).
func (c Config) Validate() error {
	if c.QueueCapacity < MinQueueCapacity {
		return fmt.Errorf("van: queue_capacity must be >= %d, got %d", MinQueueCapacity, c.QueueCapacity)
	}
	if c.MaxTxRetries < 0 {
		return fmt.Errorf("van: max_tx_retries must be >= 0, got %d", c.MaxTxRetries)
	}
	if c.EdgeToleranceFraction <= 0 || c.EdgeToleranceFraction >= 1 {
		return fmt.Errorf("van: edge_tolerance_fraction must be in (0,1), got %v", c.EdgeToleranceFraction)
	}
	if c.ClockHz == 0 {
		return fmt.Errorf("van: clock_hz must be set to the platform's clock rate")
	}
	return nil
}

// LoadConfigFile reads a YAML config file, starting from DefaultConfig
// so an omitted field keeps its default rather than zeroing out.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("van: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("van: parsing config %s: %w", path, err)
	}
	return cfg, nil
}

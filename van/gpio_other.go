//go:build !linux

package van

import (
	"context"
	"fmt"
)

// RXLine and TXLine are stubs outside Linux: the real GPIO transport
// (gpio_linux.go) uses the Linux character-device GPIO API
// (github.com/warthog618/go-gpiocdev), which has no portable
// equivalent. Use SimulatedBus (simulated.go) instead — it backs every
// test in this module and needs no kernel GPIO support.
type RXLine struct {
	chip   string
	offset int
}

func NewRXLine(chip string, offset int) *RXLine {
	return &RXLine{chip: chip, offset: offset}
}

func (r *RXLine) Edges(ctx context.Context) (<-chan Edge, error) {
	return nil, fmt.Errorf("van: GPIO RX line %s:%d unavailable on this platform; build on linux or use SimulatedLine", r.chip, r.offset)
}

func (r *RXLine) Close() error { return nil }

func (r *RXLine) Sense() (bool, uint64) { return Recessive, 0 }

type TXLine struct {
	chip   string
	offset int
}

func NewTXLine(chip string, offset int) (*TXLine, error) {
	return nil, fmt.Errorf("van: GPIO TX line %s:%d unavailable on this platform; build on linux or use SimulatedLine", chip, offset)
}

func (t *TXLine) Drive(bool) error { return fmt.Errorf("van: TX line not configured") }

func (t *TXLine) Close() error { return nil }

package accel

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

// SigmoidTable is the single pre-loaded activation lookup table. Inputs
// are scaled by the input multiplier, clamped into the loaded range and
// mapped to table entries of ValueBitwidth bits.
type SigmoidTable struct {
	mu              sync.RWMutex
	minInput        int32
	maxInput        int32
	valueBitwidth   uint32
	inputMultiplier uint32
	values          []uint32
	log             *zap.SugaredLogger
}

func NewSigmoidTable(log *zap.SugaredLogger) *SigmoidTable {
	return &SigmoidTable{
		maxInput: -1,
		log:      log,
	}
}

// Load validates the table and stores it atomically.
func (m *SigmoidTable) Load(minInput, maxInput int32, valueBitwidth, inputMultiplier uint32, values []uint32) error {
	if err := validateTable(minInput, maxInput, valueBitwidth, inputMultiplier, values); err != nil {
		m.log.Errorf("sigmoid table: %v", err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.minInput = minInput
	m.maxInput = maxInput
	m.valueBitwidth = valueBitwidth
	m.inputMultiplier = inputMultiplier
	m.values = append([]uint32(nil), values...)

	return nil
}

// Clear empties the table.
func (m *SigmoidTable) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = nil
	m.minInput = 0
	m.maxInput = -1
	m.valueBitwidth = 0
	m.inputMultiplier = 0
}

// Loaded reports whether a table is installed.
func (m *SigmoidTable) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values) > 0
}

// Lookup scales the input by the input multiplier, clamps it into the
// loaded range and returns the table entry. An unloaded table yields
// zero.
func (m *SigmoidTable) Lookup(input int32) uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.values) == 0 {
		m.log.Errorf("sigmoid table: lookup attempted before load")
		return 0
	}

	scaled := int64(input) * int64(m.inputMultiplier)
	if scaled < int64(m.minInput) {
		scaled = int64(m.minInput)
	} else if scaled > int64(m.maxInput) {
		scaled = int64(m.maxInput)
	}

	return m.values[scaled-int64(m.minInput)]
}

// ValueBitwidth returns the width of the stored table entries.
func (m *SigmoidTable) ValueBitwidth() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.valueBitwidth
}

// InputMultiplier returns the loaded input scale.
func (m *SigmoidTable) InputMultiplier() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inputMultiplier
}

func validateTable(minInput, maxInput int32, valueBitwidth, inputMultiplier uint32, values []uint32) error {
	if minInput > maxInput {
		return fmt.Errorf("invalid range [%d, %d]", minInput, maxInput)
	}
	expected := int64(maxInput) - int64(minInput) + 1
	if int64(len(values)) != expected {
		return fmt.Errorf("expected %d entries but received %d", expected, len(values))
	}
	if valueBitwidth == 0 || valueBitwidth > 32 {
		return fmt.Errorf("unsupported output width %d", valueBitwidth)
	}
	if inputMultiplier == 0 {
		return fmt.Errorf("input multiplier cannot be zero")
	}

	mask := widthMask(valueBitwidth)
	for _, v := range values {
		if uint64(v) > mask {
			return fmt.Errorf("value %d exceeds bitwidth %d", v, valueBitwidth)
		}
	}

	return nil
}

func widthMask(width uint32) uint64 {
	if width == 0 || width >= 32 {
		return math.MaxUint32
	}
	return uint64(1)<<width - 1
}

// ClampToWidth clamps a signed value into the unsigned range of the
// given width.
func ClampToWidth(v int64, width uint32) uint64 {
	if width == 0 {
		width = 32
	}
	maxValue := int64(widthMask(width))
	if v < 0 {
		return 0
	}
	if v > maxValue {
		return uint64(maxValue)
	}
	return uint64(v)
}

// Rescale maps a value from one bit width onto another, preserving the
// value's position within the source range.
func Rescale(value uint64, fromWidth, toWidth uint32) uint64 {
	if fromWidth == 0 {
		fromWidth = FixedPointBitwidth
	}
	if toWidth == 0 || toWidth == fromWidth {
		if toWidth == 0 {
			toWidth = fromWidth
		}
		return ClampToWidth(int64(value), toWidth)
	}

	fromMax := float64(widthMask(fromWidth))
	toMax := float64(widthMask(toWidth))
	ratio := float64(value) / fromMax
	if ratio < 0 {
		ratio = 0
	} else if ratio > 1 {
		ratio = 1
	}

	return uint64(math.Round(ratio * toMax))
}

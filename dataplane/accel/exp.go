package accel

import (
	"sync"

	"go.uber.org/zap"
)

// ExpTable mirrors the sigmoid table shape for the exponent unit. The
// control plane accepts and validates the configuration, but no
// evaluator opcode consumes it yet, so the runtime never reads it.
type ExpTable struct {
	mu              sync.RWMutex
	minInput        int32
	maxInput        int32
	valueBitwidth   uint32
	inputMultiplier uint32
	valueScale      uint32
	values          []uint32
	log             *zap.SugaredLogger
}

func NewExpTable(log *zap.SugaredLogger) *ExpTable {
	return &ExpTable{
		maxInput: -1,
		log:      log,
	}
}

// Load validates the table and stores it atomically.
func (m *ExpTable) Load(minInput, maxInput int32, valueBitwidth, inputMultiplier, valueScale uint32, values []uint32) error {
	if valueScale == 0 {
		valueScale = 1
	}
	if err := validateTable(minInput, maxInput, valueBitwidth, inputMultiplier, values); err != nil {
		m.log.Errorf("exp table: %v", err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.minInput = minInput
	m.maxInput = maxInput
	m.valueBitwidth = valueBitwidth
	m.inputMultiplier = inputMultiplier
	m.valueScale = valueScale
	m.values = append([]uint32(nil), values...)

	return nil
}

// Clear empties the table.
func (m *ExpTable) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = nil
	m.minInput = 0
	m.maxInput = -1
	m.valueBitwidth = 0
	m.inputMultiplier = 0
	m.valueScale = 0
}

// Loaded reports whether a table is installed.
func (m *ExpTable) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values) > 0
}

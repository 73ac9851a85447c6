// Package accel holds the fixed-function accelerator state shared by
// the whole pipeline: neuron-primitive contexts and the sigmoid/exp
// lookup tables. Registries are mutex-guarded; readers take snapshots
// before entering the evaluator.
package accel

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Fixed input/output width of the neuron primitive datapath.
const FixedPointBitwidth = 16

// Activation selects the neuron post-processing function.
type Activation uint8

const (
	ActivationNone Activation = iota
	ActivationReLU
	ActivationSigmoid
)

// NeuronContext is one pre-loaded weight/bias set. Weights are laid out
// neuron-major: weight of input i for neuron n sits at n*NumInputs+i.
type NeuronContext struct {
	ContextID      uint16
	NumInputs      uint32
	NumNeurons     uint32
	InputBitwidth  uint32
	OutputBitwidth uint32
	InputsSigned   bool
	WeightsSigned  bool
	Weights        []int32
	Biases         []int32
	Activation     Activation
}

// Validate checks the context dimension invariants.
func (ctx *NeuronContext) Validate() error {
	if ctx.NumInputs == 0 || ctx.NumNeurons == 0 {
		return fmt.Errorf("context must specify non-zero inputs and neurons")
	}
	if uint32(len(ctx.Weights)) != ctx.NumInputs*ctx.NumNeurons {
		return fmt.Errorf("weights size mismatch: expected %d but got %d",
			ctx.NumInputs*ctx.NumNeurons, len(ctx.Weights))
	}
	if uint32(len(ctx.Biases)) != ctx.NumNeurons {
		return fmt.Errorf("biases size mismatch: expected %d but got %d",
			ctx.NumNeurons, len(ctx.Biases))
	}
	return nil
}

// NeuronRegistry maps context ids to neuron-primitive contexts.
type NeuronRegistry struct {
	mu       sync.Mutex
	contexts map[uint16]NeuronContext
	log      *zap.SugaredLogger
}

func NewNeuronRegistry(log *zap.SugaredLogger) *NeuronRegistry {
	return &NeuronRegistry{
		contexts: map[uint16]NeuronContext{},
		log:      log,
	}
}

// Upsert validates the context and installs it, replacing any previous
// context with the same id. The registry keeps its own copy of the
// weight and bias slices.
func (m *NeuronRegistry) Upsert(ctx NeuronContext) error {
	if err := ctx.Validate(); err != nil {
		m.log.Errorf("neuron primitive: %v", err)
		return err
	}

	if ctx.InputBitwidth == 0 {
		ctx.InputBitwidth = FixedPointBitwidth
	}
	if ctx.InputBitwidth != FixedPointBitwidth {
		m.log.Warnf("neuron primitive: forcing input bitwidth to %d bits instead of %d",
			FixedPointBitwidth, ctx.InputBitwidth)
		ctx.InputBitwidth = FixedPointBitwidth
	}
	if ctx.OutputBitwidth != 0 && ctx.OutputBitwidth != FixedPointBitwidth {
		m.log.Warnf("neuron primitive: forcing output bitwidth to %d bits instead of %d",
			FixedPointBitwidth, ctx.OutputBitwidth)
	}
	ctx.OutputBitwidth = FixedPointBitwidth

	ctx.Weights = append([]int32(nil), ctx.Weights...)
	ctx.Biases = append([]int32(nil), ctx.Biases...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[ctx.ContextID] = ctx

	return nil
}

// Get returns a snapshot of the context with the given id.
func (m *NeuronRegistry) Get(contextID uint16) (NeuronContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, ok := m.contexts[contextID]
	return ctx, ok
}

// Erase removes the context with the given id.
func (m *NeuronRegistry) Erase(contextID uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.contexts[contextID]; !ok {
		return false
	}
	delete(m.contexts, contextID)

	return true
}

// Count returns the number of installed contexts.
func (m *NeuronRegistry) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.contexts)
}

// Clear removes all contexts.
func (m *NeuronRegistry) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.contexts)
}

// Run executes the MAC + activation kernel over a decoded feature
// vector and returns one encoded 16-bit output per neuron.
//
// The accumulator is a plain integer MAC: bias plus the dot product of
// features and weights. NONE and RELU clamp the result into
// [0, 2^16-1] (RELU additionally floors negatives at zero); SIGMOID
// routes the accumulator through the lookup table and rescales the
// table value to 16 bits.
func Run(ctx NeuronContext, features []int32, sigmoid *SigmoidTable) ([]uint64, error) {
	if err := ctx.Validate(); err != nil {
		return nil, err
	}
	if uint32(len(features)) < ctx.NumInputs {
		return nil, fmt.Errorf("feature vector carries %d values, context expects %d",
			len(features), ctx.NumInputs)
	}
	if ctx.Activation == ActivationSigmoid && !sigmoid.Loaded() {
		return nil, fmt.Errorf("sigmoid activation requested but no lookup table is loaded")
	}

	out := make([]uint64, 0, ctx.NumNeurons)
	for neuron := uint32(0); neuron < ctx.NumNeurons; neuron++ {
		acc := int64(ctx.Biases[neuron])
		for i := uint32(0); i < ctx.NumInputs; i++ {
			acc += int64(features[i]) * int64(ctx.Weights[neuron*ctx.NumInputs+i])
		}

		switch ctx.Activation {
		case ActivationSigmoid:
			lut := sigmoid.Lookup(saturateInt32(acc))
			out = append(out, Rescale(uint64(lut), sigmoid.ValueBitwidth(), FixedPointBitwidth))
		case ActivationReLU:
			if acc < 0 {
				acc = 0
			}
			out = append(out, ClampToWidth(acc, FixedPointBitwidth))
		default:
			out = append(out, ClampToWidth(acc, FixedPointBitwidth))
		}
	}

	return out, nil
}

func saturateInt32(v int64) int32 {
	if v > 1<<31-1 {
		return 1<<31 - 1
	}
	if v < -(1 << 31) {
		return -(1 << 31)
	}
	return int32(v)
}

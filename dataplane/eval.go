package dataplane

import (
	"go.uber.org/zap"

	"github.com/rp4-platform/rswitch/dataplane/accel"
)

// Evaluator computes action expression trees against a PHV. Evaluator
// failures never kill the data plane: each one logs once and
// substitutes a zero operand of the expected width.
type Evaluator struct {
	neurons *accel.NeuronRegistry
	sigmoid *accel.SigmoidTable
	log     *zap.SugaredLogger
}

func NewEvaluator(neurons *accel.NeuronRegistry, sigmoid *accel.SigmoidTable, log *zap.SugaredLogger) *Evaluator {
	return &Evaluator{
		neurons: neurons,
		sigmoid: sigmoid,
		log:     log,
	}
}

// Eval evaluates the expression tree. lvalueBits is the width of the
// destination field and sizes the zero substitute when an accelerator
// operation fails; zero means "no lvalue" and falls back to 32 bits.
func (m *Evaluator) Eval(phv *PHV, node *ExpNode, params []Data, lvalueBits int) Data {
	if node == nil {
		return ZeroData(m.failWidth(lvalueBits))
	}

	if node.Kind != ExpOp {
		return m.leaf(phv, node, params)
	}

	switch node.Op {
	case OpAdd:
		res := m.Eval(phv, node.Left, params, 0).Value() + m.Eval(phv, node.Right, params, 0).Value()
		return NewData(32, res)
	case OpSub:
		res := m.Eval(phv, node.Left, params, 0).Value() - m.Eval(phv, node.Right, params, 0).Value()
		return NewData(32, res)
	case OpMul:
		res := uint64(m.Eval(phv, node.Left, params, 0).Value()) * uint64(m.Eval(phv, node.Right, params, 0).Value())
		return NewData(32, uint32(res))
	case OpDiv:
		divisor := m.Eval(phv, node.Right, params, 0).Value()
		if divisor == 0 {
			m.log.Warnf("expression: divisor is zero, returning 0")
			return NewData(32, 0)
		}
		return NewData(32, m.Eval(phv, node.Left, params, 0).Value()/divisor)
	case OpShiftLeft:
		left := m.Eval(phv, node.Left, params, 0)
		shift := m.Eval(phv, node.Right, params, 0).Value()
		return NewData(left.Bits, left.Value()<<shift)
	case OpShiftRight:
		left := m.Eval(phv, node.Left, params, 0)
		shift := m.Eval(phv, node.Right, params, 0).Value()
		return NewData(left.Bits, left.Value()>>shift)
	case OpBitAnd:
		left := m.Eval(phv, node.Left, params, 0)
		right := m.Eval(phv, node.Right, params, 0)
		return NewData(left.Bits, left.Value()&right.Value())
	case OpBitOr:
		left := m.Eval(phv, node.Left, params, 0)
		right := m.Eval(phv, node.Right, params, 0)
		return NewData(left.Bits, left.Value()|right.Value())
	case OpBitXor:
		left := m.Eval(phv, node.Left, params, 0)
		right := m.Eval(phv, node.Right, params, 0)
		return NewData(left.Bits, left.Value()^right.Value())
	case OpBitNeg:
		left := m.Eval(phv, node.Left, params, 0)
		return NewData(left.Bits, ^left.Value())
	case OpSigmoidLookup:
		return m.sigmoidLookup(phv, node, params)
	case OpNeuronPrimitive:
		return m.neuronPrimitive(phv, node, params, lvalueBits)
	case OpSumBlock:
		return m.sumBlock(phv, node, params, lvalueBits)
	}

	m.log.Errorf("expression: unknown operator %d", node.Op)
	return ZeroData(m.failWidth(lvalueBits))
}

func (m *Evaluator) leaf(phv *PHV, node *ExpNode, params []Data) Data {
	switch node.Kind {
	case ExpConstant:
		return node.Const
	case ExpField:
		d, err := phv.ReadField(node.Field)
		if err != nil {
			m.log.Errorf("expression: field read failed: %v", err)
			return ZeroData(32)
		}
		return d
	case ExpParam:
		if node.ParamIndex < 0 || node.ParamIndex >= len(params) {
			m.log.Errorf("expression: action parameter %d out of range (%d decoded)",
				node.ParamIndex, len(params))
			return ZeroData(32)
		}
		return params[node.ParamIndex]
	}

	m.log.Errorf("expression: unknown leaf kind %d", node.Kind)
	return ZeroData(32)
}

// sigmoidLookup sign-extends the input, resolves it through the loaded
// table and rescales the entry to the requested output width.
func (m *Evaluator) sigmoidLookup(phv *PHV, node *ExpNode, params []Data) Data {
	input := m.Eval(phv, node.Left, params, 0)

	outBits := uint32(0)
	if node.Right != nil {
		outBits = m.Eval(phv, node.Right, params, 0).Value()
	}

	width := outBits
	if width == 0 {
		width = m.sigmoid.ValueBitwidth()
	}
	if width == 0 || width > 32 {
		width = 32
	}

	if !m.sigmoid.Loaded() {
		m.log.Errorf("sigmoid lookup: table is not loaded")
		return ZeroData(int(width))
	}

	lut := m.sigmoid.Lookup(input.SignedValue())
	value := accel.Rescale(uint64(lut), m.sigmoid.ValueBitwidth(), width)

	return packChunks([]uint64{value}, int(width))
}

// neuronPrimitive decodes the feature blob into signed 16-bit inputs,
// runs the MAC + activation kernel and packs one 16-bit output per
// neuron.
func (m *Evaluator) neuronPrimitive(phv *PHV, node *ExpNode, params []Data, lvalueBits int) Data {
	if node.Left == nil || node.Right == nil {
		m.log.Errorf("neuron primitive: expects feature and context operands")
		return ZeroData(m.failWidth(lvalueBits))
	}

	features := m.Eval(phv, node.Left, params, 0)
	contextID := uint16(m.Eval(phv, node.Right, params, 0).Value())

	ctx, ok := m.neurons.Get(contextID)
	if !ok {
		m.log.Warnf("neuron primitive: context %d not found", contextID)
		return ZeroData(m.failWidth(lvalueBits))
	}

	outBits := int(ctx.NumNeurons) * accel.FixedPointBitwidth
	if lvalueBits != 0 && outBits != lvalueBits {
		m.log.Warnf("neuron primitive: output width (%d) mismatches field width %d",
			outBits, lvalueBits)
	}

	required := int(ctx.NumInputs) * accel.FixedPointBitwidth
	if features.Bits < required {
		m.log.Errorf("neuron primitive: insufficient bits in feature blob: expected %d, actual %d",
			required, features.Bits)
		return ZeroData(outBits)
	}

	inputs := make([]int32, 0, ctx.NumInputs)
	for i := 0; i < int(ctx.NumInputs); i++ {
		chunk := features.SignedChunk(i*accel.FixedPointBitwidth, accel.FixedPointBitwidth)
		if !ctx.InputsSigned {
			chunk = int64(features.Chunk(i*accel.FixedPointBitwidth, accel.FixedPointBitwidth))
		}
		inputs = append(inputs, int32(chunk))
	}

	outputs, err := accel.Run(ctx, inputs, m.sigmoid)
	if err != nil {
		m.log.Errorf("neuron primitive: %v", err)
		return ZeroData(outBits)
	}

	return packChunks(outputs, accel.FixedPointBitwidth)
}

// sumBlock walks the right-associative chain, splits every operand
// block into per-neuron chunks, sums positionally and saturates each
// sum to the chunk width.
func (m *Evaluator) sumBlock(phv *PHV, node *ExpNode, params []Data, lvalueBits int) Data {
	fail := func(reason string) Data {
		m.log.Errorf("sum_block: %s", reason)
		return ZeroData(m.failWidth(lvalueBits))
	}

	var blocks []Data
	neuronCount := uint32(0)

	current := node
	for {
		if current.Left == nil || current.Right == nil {
			return fail("invalid expression tree")
		}
		blocks = append(blocks, m.Eval(phv, current.Left, params, 0))

		right := current.Right
		if right.Kind == ExpOp && right.Op == OpSumBlock {
			current = right
			continue
		}
		neuronCount = m.Eval(phv, right, params, 0).Value()
		break
	}

	if len(blocks) == 0 {
		return fail("requires at least one operand")
	}
	if neuronCount == 0 {
		return fail("number of neurons must be > 0")
	}

	bitsPerBlock := blocks[0].Bits
	if bitsPerBlock <= 0 {
		return fail("operand width must be positive")
	}
	for _, block := range blocks {
		if block.Bits != bitsPerBlock {
			return fail("all operands must have the same width")
		}
	}
	if bitsPerBlock%int(neuronCount) != 0 {
		return fail("operand width must be divisible by neuron count")
	}
	chunkWidth := bitsPerBlock / int(neuronCount)

	accum := make([]uint64, neuronCount)
	for _, block := range blocks {
		chunks, ok := splitChunks(block, chunkWidth, int(neuronCount))
		if !ok {
			return fail("failed to split operand bits")
		}
		for idx, chunk := range chunks {
			accum[idx] += chunk
		}
	}

	maxValue := maskForWidth(chunkWidth)
	for idx, value := range accum {
		if value > maxValue {
			accum[idx] = maxValue
		}
	}

	packed := packChunks(accum, chunkWidth)
	if lvalueBits != 0 && packed.Bits != lvalueBits {
		m.log.Warnf("sum_block: output width (%d) mismatches field width %d",
			packed.Bits, lvalueBits)
	}

	return packed
}

func (m *Evaluator) failWidth(lvalueBits int) int {
	if lvalueBits > 0 {
		return lvalueBits
	}
	return 32
}

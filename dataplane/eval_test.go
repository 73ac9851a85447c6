package dataplane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rp4-platform/rswitch/dataplane/accel"
)

func testEvaluator(t *testing.T) (*Evaluator, *accel.NeuronRegistry, *accel.SigmoidTable) {
	t.Helper()
	log := zap.NewNop().Sugar()
	neurons := accel.NewNeuronRegistry(log)
	sigmoid := accel.NewSigmoidTable(log)
	return NewEvaluator(neurons, sigmoid, log), neurons, sigmoid
}

func constNode(bits int, v uint32) *ExpNode {
	return Constant(NewData(bits, v))
}

func TestEvalArithmetic(t *testing.T) {
	eval, _, _ := testEvaluator(t)
	phv, err := NewPHV(ethFrame(4), 0, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		node     *ExpNode
		expected uint32
		bits     int
	}{
		{name: "add", node: Op(OpAdd, constNode(8, 1), constNode(8, 2)), expected: 3, bits: 32},
		{name: "sub", node: Op(OpSub, constNode(8, 64), constNode(8, 1)), expected: 63, bits: 32},
		{name: "sub wraps", node: Op(OpSub, constNode(8, 0), constNode(8, 1)), expected: 0xffffffff, bits: 32},
		{name: "mul", node: Op(OpMul, constNode(8, 7), constNode(8, 6)), expected: 42, bits: 32},
		{name: "mul truncates", node: Op(OpMul, constNode(32, 0x10000), constNode(32, 0x10000)), expected: 0, bits: 32},
		{name: "div", node: Op(OpDiv, constNode(8, 42), constNode(8, 5)), expected: 8, bits: 32},
		{name: "div by zero", node: Op(OpDiv, constNode(8, 42), constNode(8, 0)), expected: 0, bits: 32},
		{name: "shift left masks", node: Op(OpShiftLeft, constNode(8, 0xf0), constNode(8, 2)), expected: 0xc0, bits: 8},
		{name: "shift right", node: Op(OpShiftRight, constNode(8, 0xf0), constNode(8, 2)), expected: 0x3c, bits: 8},
		{name: "and", node: Op(OpBitAnd, constNode(8, 0xcc), constNode(8, 0xaa)), expected: 0x88, bits: 8},
		{name: "or", node: Op(OpBitOr, constNode(8, 0xcc), constNode(8, 0xaa)), expected: 0xee, bits: 8},
		{name: "xor", node: Op(OpBitXor, constNode(8, 0xcc), constNode(8, 0xaa)), expected: 0x66, bits: 8},
		{name: "neg", node: Op(OpBitNeg, constNode(8, 0x0f), nil), expected: 0xf0, bits: 8},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := eval.Eval(phv, tc.node, nil, 0)
			assert.Equal(t, tc.expected, res.Value())
			assert.Equal(t, tc.bits, res.Bits)
		})
	}
}

func TestEvalLeaves(t *testing.T) {
	eval, _, _ := testEvaluator(t)
	phv := ipv4PHV(t, 64, true)

	// Field read.
	res := eval.Eval(phv, Field(ipv4TTL), nil, 0)
	assert.Equal(t, uint32(64), res.Value())
	assert.Equal(t, 8, res.Bits)

	// Valid bit.
	res = eval.Eval(phv, Field(FieldInfo{HdrID: 2, FdType: FieldTypeValid}), nil, 0)
	assert.Equal(t, uint32(1), res.Value())

	// Hit and miss mirror the matcher result.
	phv.Hit = true
	assert.Equal(t, uint32(1), eval.Eval(phv, Field(FieldInfo{FdType: FieldTypeHit}), nil, 0).Value())
	assert.Equal(t, uint32(0), eval.Eval(phv, Field(FieldInfo{FdType: FieldTypeMiss}), nil, 0).Value())

	// Action parameter.
	params := []Data{NewData(16, 0x1234)}
	assert.Equal(t, uint32(0x1234), eval.Eval(phv, Param(0), params, 0).Value())

	// Out of range parameter decays to zero.
	assert.Equal(t, uint32(0), eval.Eval(phv, Param(3), params, 0).Value())
}

// Nested expression: (ttl - 1) & 0xff.
func TestEvalNested(t *testing.T) {
	eval, _, _ := testEvaluator(t)
	phv := ipv4PHV(t, 64, true)

	node := Op(OpBitAnd,
		Op(OpSub, Field(ipv4TTL), constNode(8, 1)),
		constNode(32, 0xff),
	)

	res := eval.Eval(phv, node, nil, 0)
	assert.Equal(t, uint32(63), res.Value())
}

func TestEvalSigmoidLookup(t *testing.T) {
	eval, _, sigmoid := testEvaluator(t)
	phv, err := NewPHV(ethFrame(4), 0, nil)
	require.NoError(t, err)

	// Not loaded: zero of the requested width.
	res := eval.Eval(phv, Op(OpSigmoidLookup, constNode(8, 1), nil), nil, 0)
	assert.Equal(t, uint32(0), res.Value())

	require.NoError(t, sigmoid.Load(-2, 2, 8, 1, []uint32{10, 20, 30, 40, 50}))

	// Input 0xff sign-extends to -1.
	res = eval.Eval(phv, Op(OpSigmoidLookup, constNode(8, 0xff), nil), nil, 0)
	assert.Equal(t, uint32(20), res.Value())
	assert.Equal(t, 8, res.Bits)

	// Inputs beyond the range clamp to the edges.
	res = eval.Eval(phv, Op(OpSigmoidLookup, constNode(8, 100), nil), nil, 0)
	assert.Equal(t, uint32(50), res.Value())

	// An explicit output width rescales the table value: 65535/255 is
	// exactly 257.
	res = eval.Eval(phv, Op(OpSigmoidLookup, constNode(8, 0xff), constNode(8, 16)), nil, 0)
	assert.Equal(t, uint32(20*257), res.Value())
	assert.Equal(t, 16, res.Bits)
}

func TestEvalNeuronPrimitive(t *testing.T) {
	eval, neurons, _ := testEvaluator(t)
	phv, err := NewPHV(ethFrame(4), 0, nil)
	require.NoError(t, err)

	require.NoError(t, neurons.Upsert(accel.NeuronContext{
		ContextID:    1,
		NumInputs:    2,
		NumNeurons:   1,
		InputsSigned: true,
		Weights:      []int32{1, 2},
		Biases:       []int32{0},
		Activation:   accel.ActivationReLU,
	}))

	// Features [3, -1] packed as two signed 16-bit values.
	features := constNode(32, 0x0003ffff)
	res := eval.Eval(phv, Op(OpNeuronPrimitive, features, constNode(16, 1)), nil, 16)
	assert.Equal(t, 16, res.Bits)
	assert.Equal(t, uint32(1), res.Value())

	// Missing context yields a zero of the lvalue width.
	res = eval.Eval(phv, Op(OpNeuronPrimitive, features, constNode(16, 42)), nil, 16)
	assert.Equal(t, 16, res.Bits)
	assert.Equal(t, uint32(0), res.Value())

	// A feature blob with too few bits yields zeros of the output
	// shape.
	res = eval.Eval(phv, Op(OpNeuronPrimitive, constNode(16, 3), constNode(16, 1)), nil, 16)
	assert.Equal(t, 16, res.Bits)
	assert.Equal(t, uint32(0), res.Value())
}

func TestEvalSumBlock(t *testing.T) {
	eval, _, _ := testEvaluator(t)
	phv, err := NewPHV(ethFrame(4), 0, nil)
	require.NoError(t, err)

	blockA := constNode(16, 0x0305)
	blockB := constNode(16, 0x0402)
	count := constNode(8, 2)

	res := eval.Eval(phv, Op(OpSumBlock, blockA, Op(OpSumBlock, blockB, count)), nil, 0)
	assert.Equal(t, 16, res.Bits)
	assert.Equal(t, []byte{0x07, 0x07}, res.Val)

	// A third block saturates the second chunk at 0xff.
	blockC := constNode(16, 0x01ff)
	res = eval.Eval(phv,
		Op(OpSumBlock, blockA, Op(OpSumBlock, blockB, Op(OpSumBlock, blockC, count))), nil, 0)
	assert.Equal(t, []byte{0x08, 0xff}, res.Val)
}

func TestEvalSumBlockErrors(t *testing.T) {
	eval, _, _ := testEvaluator(t)
	phv, err := NewPHV(ethFrame(4), 0, nil)
	require.NoError(t, err)

	// Mismatched block widths.
	res := eval.Eval(phv,
		Op(OpSumBlock, constNode(16, 1), Op(OpSumBlock, constNode(8, 1), constNode(8, 2))), nil, 16)
	assert.Equal(t, 16, res.Bits)
	assert.Equal(t, uint32(0), res.Value())

	// Width not divisible by the neuron count.
	res = eval.Eval(phv,
		Op(OpSumBlock, constNode(16, 1), Op(OpSumBlock, constNode(16, 1), constNode(8, 3))), nil, 0)
	assert.Equal(t, uint32(0), res.Value())

	// Zero neuron count.
	res = eval.Eval(phv,
		Op(OpSumBlock, constNode(16, 1), Op(OpSumBlock, constNode(16, 1), constNode(8, 0))), nil, 0)
	assert.Equal(t, uint32(0), res.Value())
}

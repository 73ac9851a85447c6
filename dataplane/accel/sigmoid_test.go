package accel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSigmoid() *SigmoidTable {
	return NewSigmoidTable(zap.NewNop().Sugar())
}

func TestSigmoidLoadValidation(t *testing.T) {
	tests := []struct {
		name       string
		minInput   int32
		maxInput   int32
		valueBits  uint32
		multiplier uint32
		values     []uint32
		wantErr    bool
	}{
		{
			name: "valid", minInput: -2, maxInput: 2,
			valueBits: 8, multiplier: 1,
			values: []uint32{1, 2, 3, 4, 5},
		},
		{
			name: "inverted range", minInput: 3, maxInput: 2,
			valueBits: 8, multiplier: 1, values: []uint32{},
			wantErr: true,
		},
		{
			name: "size mismatch", minInput: 0, maxInput: 2,
			valueBits: 8, multiplier: 1, values: []uint32{1, 2},
			wantErr: true,
		},
		{
			name: "zero value width", minInput: 0, maxInput: 0,
			valueBits: 0, multiplier: 1, values: []uint32{1},
			wantErr: true,
		},
		{
			name: "oversized value width", minInput: 0, maxInput: 0,
			valueBits: 33, multiplier: 1, values: []uint32{1},
			wantErr: true,
		},
		{
			name: "zero multiplier", minInput: 0, maxInput: 0,
			valueBits: 8, multiplier: 0, values: []uint32{1},
			wantErr: true,
		},
		{
			name: "value exceeds width", minInput: 0, maxInput: 1,
			valueBits: 4, multiplier: 1, values: []uint32{15, 16},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			table := testSigmoid()
			err := table.Load(tc.minInput, tc.maxInput, tc.valueBits, tc.multiplier, tc.values)
			if tc.wantErr {
				assert.Error(t, err)
				assert.False(t, table.Loaded())
				return
			}
			assert.NoError(t, err)
			assert.True(t, table.Loaded())
		})
	}
}

func TestSigmoidLookup(t *testing.T) {
	table := testSigmoid()

	// Lookup before load yields zero.
	assert.Equal(t, uint32(0), table.Lookup(0))

	require.NoError(t, table.Load(-2, 2, 8, 1, []uint32{10, 20, 30, 40, 50}))

	assert.Equal(t, uint32(30), table.Lookup(0))
	assert.Equal(t, uint32(20), table.Lookup(-1))
	assert.Equal(t, uint32(10), table.Lookup(-100))
	assert.Equal(t, uint32(50), table.Lookup(100))
}

func TestSigmoidLookupMultiplier(t *testing.T) {
	table := testSigmoid()
	require.NoError(t, table.Load(-4, 4, 8, 2, []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9}))

	// Input 1 scales to 2 before indexing.
	assert.Equal(t, uint32(7), table.Lookup(1))
	assert.Equal(t, uint32(3), table.Lookup(-1))
}

// Monotone table in, monotone lookup out.
func TestSigmoidMonotone(t *testing.T) {
	table := testSigmoid()
	require.NoError(t, table.Load(-8, 8, 16, 1, []uint32{
		0, 10, 30, 80, 200, 500, 1200, 2800, 6000,
		10000, 15000, 20000, 25000, 30000, 35000, 40000, 45000,
	}))

	inputs := []int32{-100, -8, -5, -1, 0, 1, 3, 7, 8, 100}
	for i := 1; i < len(inputs); i++ {
		a := table.Lookup(inputs[i-1])
		b := table.Lookup(inputs[i])
		assert.LessOrEqual(t, a, b, "lookup(%d) <= lookup(%d)", inputs[i-1], inputs[i])
	}
}

func TestSigmoidClear(t *testing.T) {
	table := testSigmoid()
	require.NoError(t, table.Load(0, 0, 8, 1, []uint32{42}))
	require.True(t, table.Loaded())

	table.Clear()
	assert.False(t, table.Loaded())
	assert.Equal(t, uint32(0), table.ValueBitwidth())
}

func TestRescale(t *testing.T) {
	// Identity when the widths agree.
	assert.Equal(t, uint64(100), Rescale(100, 8, 8))
	// 8 -> 16 multiplies by exactly 257.
	assert.Equal(t, uint64(20*257), Rescale(20, 8, 16))
	// Downscale keeps the relative position.
	assert.Equal(t, uint64(0xff), Rescale(0xffff, 16, 8))
	// Values above the source range clamp to the destination maximum.
	assert.Equal(t, uint64(0xff), Rescale(0x1ffff, 16, 8))
}

func TestClampToWidth(t *testing.T) {
	assert.Equal(t, uint64(0), ClampToWidth(-5, 16))
	assert.Equal(t, uint64(7), ClampToWidth(7, 16))
	assert.Equal(t, uint64(0xffff), ClampToWidth(1<<20, 16))
}

func TestExpTableLoad(t *testing.T) {
	table := NewExpTable(zap.NewNop().Sugar())

	assert.False(t, table.Loaded())
	require.NoError(t, table.Load(0, 2, 16, 1, 1, []uint32{1, 2, 7}))
	assert.True(t, table.Loaded())

	assert.Error(t, table.Load(0, 2, 0, 1, 1, []uint32{1, 2, 7}))

	table.Clear()
	assert.False(t, table.Loaded())
}

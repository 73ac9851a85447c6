package dataplane

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPipeline(t *testing.T) *Pipeline {
	t.Helper()
	ppl, err := NewPipeline(DefaultConfig(), testLog())
	require.NoError(t, err)
	return ppl
}

// ipv4Frame builds an Ethernet+IPv4+UDP frame with the given
// destination MAC and TTL.
func ipv4Frame(t *testing.T, dstMAC net.HardwareAddr, ttl uint8) []byte {
	t.Helper()

	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	udp := layers.UDP{SrcPort: 4242, DstPort: 4243}
	require.NoError(t, udp.SetNetworkLayerForChecksum(&ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp,
		gopacket.Payload([]byte("rswitch test payload")))
	require.NoError(t, err)

	return buf.Bytes()
}

// installEthIPv4Parser configures processor 0 with a two-level parser:
// Ethernet as header 1, IPv4 as header 2.
func installEthIPv4Parser(t *testing.T, ppl *Pipeline) {
	t.Helper()

	require.NoError(t, ppl.InitParserLevel(0, 2))
	require.NoError(t, ppl.ModifyParserEntry(0, 0, ParserEntry{
		State:     0,
		HdrID:     1,
		HdrLen:    112,
		NextState: 1,
		MissAct:   MissActionAccept,
	}))
	require.NoError(t, ppl.ModifyParserEntry(0, 1, ParserEntry{
		State:     1,
		HdrID:     2,
		HdrLen:    160,
		NextState: 2,
		MissAct:   MissActionAccept,
	}))
}

// Scenario: exact match on the destination MAC resolves a TTL-decrement
// action, then the packet leaves on the sentinel processor. Everything
// but the TTL byte survives unchanged.
func TestPipelineTTLDecrement(t *testing.T) {
	ppl := testPipeline(t)
	installEthIPv4Parser(t, ppl)

	mac := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

	require.NoError(t, ppl.SetMemConfig(0, 0, MatchExact, 48, 16, 1024, 0))
	require.NoError(t, ppl.SetFieldInfo(0, 0, []FieldInfo{{HdrID: 1, InternalOffset: 0, FdLen: 48}}))
	require.NoError(t, ppl.SetActionProc(0, 0, map[int32]int32{0: ProcSentinel, 5: ProcSentinel}))
	require.NoError(t, ppl.InsertSramEntry(0, 0, mac, []byte{0x05, 0x00}))

	require.NoError(t, ppl.InsertAction(0, 5, &Action{
		Primitives: []Primitive{{
			LValue: ipv4TTL,
			RValue: Op(OpSub, Field(ipv4TTL), Constant(NewData(8, 1))),
		}},
	}))

	frame := ipv4Frame(t, mac, 64)
	out, _, delivered := ppl.Process(frame, 3)

	require.True(t, delivered)
	require.Len(t, out, len(frame))

	assert.Equal(t, byte(63), out[14+8])

	expected := append([]byte(nil), frame...)
	expected[14+8] = 63
	assert.Equal(t, expected, out)
}

// A frame missing the matcher routes through the miss action and comes
// out untouched.
func TestPipelineMatcherMiss(t *testing.T) {
	ppl := testPipeline(t)
	installEthIPv4Parser(t, ppl)

	mac := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

	require.NoError(t, ppl.SetMemConfig(0, 0, MatchExact, 48, 16, 1024, 0))
	require.NoError(t, ppl.SetFieldInfo(0, 0, []FieldInfo{{HdrID: 1, InternalOffset: 0, FdLen: 48}}))
	require.NoError(t, ppl.SetActionProc(0, 0, map[int32]int32{0: ProcSentinel, 5: ProcSentinel}))
	require.NoError(t, ppl.InsertSramEntry(0, 0, mac, []byte{0x05, 0x00}))

	other := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	frame := ipv4Frame(t, other, 64)
	out, _, delivered := ppl.Process(frame, 0)

	require.True(t, delivered)
	assert.Equal(t, frame, out)
}

// Identity passthrough: no_table matcher, no actions, frame emitted
// byte for byte.
func TestPipelineIdentity(t *testing.T) {
	ppl := testPipeline(t)

	require.NoError(t, ppl.InitParserLevel(0, 1))
	require.NoError(t, ppl.ModifyParserEntry(0, 0, ParserEntry{
		State:   0,
		HdrID:   1,
		HdrLen:  112,
		MissAct: MissActionAccept,
	}))
	require.NoError(t, ppl.SetNoTable(0, 0, true))
	require.NoError(t, ppl.SetActionProc(0, 0, map[int32]int32{0: ProcSentinel}))

	frame := ethFrame(46)
	out, _, delivered := ppl.Process(frame, 0)

	require.True(t, delivered)
	assert.Equal(t, frame, out)
}

// A gateway STAGE resolution skips the local matcher and transfers
// control to the named processor.
func TestPipelineStageJump(t *testing.T) {
	ppl := testPipeline(t)
	installEthIPv4Parser(t, ppl)

	// Processor 0: everything jumps straight to processor 5.
	require.NoError(t, ppl.SetDefaultGateEntry(0, GateEntry{Type: GateStage, Val: 5}))

	// Processor 5: passthrough and emit.
	require.NoError(t, ppl.SetNoTable(5, 0, true))
	require.NoError(t, ppl.SetMissActID(5, 0, 6))
	require.NoError(t, ppl.SetActionProc(5, 0, map[int32]int32{6: ProcSentinel}))
	require.NoError(t, ppl.InsertAction(5, 6, &Action{
		Primitives: []Primitive{{
			LValue: ipv4TTL,
			RValue: Constant(NewData(8, 7)),
		}},
	}))

	mac := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	frame := ipv4Frame(t, mac, 64)
	out, _, delivered := ppl.Process(frame, 0)

	require.True(t, delivered)
	assert.Equal(t, byte(7), out[14+8])
}

// A stage cycle exhausts the hop budget and the packet is dropped
// instead of spinning.
func TestPipelineHopBudget(t *testing.T) {
	ppl := testPipeline(t)
	installEthIPv4Parser(t, ppl)

	require.NoError(t, ppl.SetDefaultGateEntry(0, GateEntry{Type: GateStage, Val: 1}))
	require.NoError(t, ppl.SetDefaultGateEntry(1, GateEntry{Type: GateStage, Val: 0}))

	frame := ipv4Frame(t, net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, 64)
	_, _, delivered := ppl.Process(frame, 0)

	assert.False(t, delivered)
}

// An oversized frame cannot enter the pipeline.
func TestPipelineOversizedFrame(t *testing.T) {
	ppl := testPipeline(t)

	_, _, delivered := ppl.Process(make([]byte, FrontHeaderLen+1), 0)
	assert.False(t, delivered)
}

// Metadata headers are pre-marked on every PHV and writable by actions.
func TestPipelineMetadata(t *testing.T) {
	ppl := testPipeline(t)

	require.NoError(t, ppl.SetMetadata([]HeaderInfo{
		{HdrID: 31, HdrOffset: 0, HdrLen: 32},
	}))

	require.NoError(t, ppl.InitParserLevel(0, 1))
	require.NoError(t, ppl.ModifyParserEntry(0, 0, ParserEntry{
		State:   0,
		HdrID:   1,
		HdrLen:  112,
		MissAct: MissActionAccept,
	}))

	metaField := FieldInfo{HdrID: 31, InternalOffset: 0, FdLen: 32}

	// The gateway reads the metadata validity; the action writes into
	// the region.
	require.NoError(t, ppl.InsertRelationExp(0, RelationExp{
		Param1:   GateParam{Field: FieldInfo{HdrID: 31, FdType: FieldTypeValid, FdLen: 1}},
		Param2:   GateParam{IsConst: true, Const: NewData(1, 1)},
		Relation: RelationEQ,
	}))
	require.NoError(t, ppl.ModResMap(0, 0b1, GateEntry{Type: GateTable, Val: 0}))

	require.NoError(t, ppl.SetNoTable(0, 0, true))
	require.NoError(t, ppl.SetMissActID(0, 0, 1))
	require.NoError(t, ppl.SetActionProc(0, 0, map[int32]int32{1: ProcSentinel}))
	require.NoError(t, ppl.InsertAction(0, 1, &Action{
		Primitives: []Primitive{{
			LValue: metaField,
			RValue: Constant(NewData(32, 0xdeadbeef)),
		}},
	}))

	out, _, delivered := ppl.Process(ethFrame(32), 0)
	require.True(t, delivered)
	// Metadata lives past the front region and never leaks into the
	// egress frame.
	assert.Len(t, out, 14+32)
}

func TestPipelineMetadataValidation(t *testing.T) {
	ppl := testPipeline(t)

	assert.Error(t, ppl.SetMetadata([]HeaderInfo{{HdrID: 32}}))
	assert.Error(t, ppl.SetMetadata([]HeaderInfo{
		{HdrID: 1, HdrOffset: MetaLen * 8, HdrLen: 8},
	}))
}

func TestPipelineDescribe(t *testing.T) {
	ppl := testPipeline(t)
	installEthIPv4Parser(t, ppl)
	require.NoError(t, ppl.SetMemConfig(0, 3, MatchExact, 48, 16, 1024, 0))

	state := ppl.Describe()

	assert.Contains(t, state, "proc0/parser")
	assert.Contains(t, state, "proc0/matcher3")
	assert.NotContains(t, state, "proc1/parser")
}

func TestPipelineControlValidation(t *testing.T) {
	ppl := testPipeline(t)

	// Processor ids beyond the built range are rejected.
	assert.Error(t, ppl.InitParserLevel(12, 1))
	assert.Error(t, ppl.InitParserLevel(-1, 1))
	assert.Error(t, ppl.SetNoTable(0, MatcherPerProc, true))
	assert.Error(t, ppl.InsertAction(0, ExecutorActionNum, &Action{}))
}

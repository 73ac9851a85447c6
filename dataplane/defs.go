// Package dataplane implements a reconfigurable match-action packet
// pipeline: a programmable parser, gateways, SRAM/TCAM-backed matchers
// and an action executor operating on a per-packet header vector.
package dataplane

// Packet buffer geometry. The front region holds the packet headers and
// payload, the trailing region holds per-packet metadata addressed
// through header id 0.
const (
	FrontHeaderLen = 1500
	MetaLen        = 100
	PacketBufLen   = FrontHeaderLen + MetaLen
)

// Memory block geometry, in bits and rows.
const (
	SramWidth = 128
	SramDepth = 1024

	TcamWidth = 64
	TcamDepth = 1024
)

// Pipeline geometry: 12 logical processors over 4 memory clusters, with
// 16 addressable processor slots.
const (
	ClusterNum = 4

	SramNumAll     = 80
	SramPerCluster = SramNumAll / ClusterNum

	TcamNumAll     = 64
	TcamPerCluster = TcamNumAll / ClusterNum

	ProcNum        = 12
	MaxProcNum     = 16
	ProcPerCluster = ProcNum / ClusterNum

	MatcherPerProc    = 16
	ExecutorActionNum = 32

	MaxHeaderNum = 32

	// TransKeyWidth is the width of the parser transition key in bits.
	TransKeyWidth = 32

	// ProcSentinel addresses no processor: reaching it emits the packet.
	ProcSentinel = MaxProcNum
)

// maxHops bounds one packet traversal across processors so that a
// misconfigured stage cycle cannot spin forever.
const maxHops = 64

// HeaderInfo describes where a parsed header starts inside the packet
// buffer. Offsets and lengths are expressed in bits.
type HeaderInfo struct {
	HdrID     uint8
	HdrOffset uint16
	HdrLen    uint16
}

// FieldType discriminates what a FieldInfo addresses.
type FieldType uint8

const (
	// FieldTypeField addresses packet bits relative to a parsed header.
	FieldTypeField FieldType = iota
	// FieldTypeValid reads the 1-bit header validity state.
	FieldTypeValid
	// FieldTypeHit reads the 1-bit result of the last matcher lookup.
	FieldTypeHit
	// FieldTypeMiss is the negation of FieldTypeHit.
	FieldTypeMiss
)

// FieldInfo locates one field relative to a header. VALID/HIT/MISS
// fields do not index into the packet; they read synthetic PHV state.
type FieldInfo struct {
	HdrID          uint8
	InternalOffset uint16
	FdLen          uint16
	FdType         FieldType
}

// GateEntryType selects what a gateway resolution targets.
type GateEntryType uint8

const (
	// GateTable routes to a matcher within the same processor.
	GateTable GateEntryType = iota
	// GateStage jumps to another processor.
	GateStage
)

// GateEntry is a gateway resolution target.
type GateEntry struct {
	Type GateEntryType
	Val  int32
}

// RelationCode is a gateway comparison operator.
type RelationCode uint8

const (
	RelationEQ RelationCode = iota
	RelationNEQ
	RelationGT
	RelationGTE
	RelationLT
	RelationLTE
)

// MatchType selects the matcher lookup discipline and, with it, the
// backing memory: EXACT lives in SRAM, TERNARY and LPM in TCAM.
type MatchType uint8

const (
	MatchExact MatchType = iota
	MatchTernary
	MatchLPM
)

// MissAction tells the parser what to do with a packet when no TCAM
// entry matches at the current level.
type MissAction uint8

const (
	MissActionAccept MissAction = iota
	MissActionDrop
)

// OpCode enumerates the expression-tree operators.
type OpCode uint8

const (
	OpAdd OpCode = iota
	OpSub
	OpMul
	OpDiv
	OpShiftLeft
	OpShiftRight
	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitNeg
	OpNeuronPrimitive
	OpSigmoidLookup
	OpSumBlock
)

// clusterOf maps a processor to the memory cluster that serves it.
func clusterOf(procID int32) int {
	cluster := int(procID) / ProcPerCluster
	if cluster >= ClusterNum {
		cluster = ClusterNum - 1
	}
	return cluster
}

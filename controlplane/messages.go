// Package controlplane exposes the runtime mutation surface of the
// pipeline as a request/response service. The wire framing is owned by
// an external transport; only the message shapes and their semantics
// live here.
package controlplane

import (
	"github.com/rp4-platform/rswitch/dataplane"
	"github.com/rp4-platform/rswitch/dataplane/accel"
)

type SetMetadataRequest struct {
	Headers []dataplane.HeaderInfo
}

type SetMetadataResponse struct{}

type InitParserLevelRequest struct {
	ProcID int32
	Levels int32
}

type InitParserLevelResponse struct{}

type ModParserEntryRequest struct {
	ProcID int32
	Level  int32

	State int32
	Key   uint32
	Mask  uint32

	HdrID     uint8
	HdrLen    uint16
	NextState int32

	TransFields []dataplane.FieldInfo
	MissAct     dataplane.MissAction
}

type ModParserEntryResponse struct{}

type ClearParserRequest struct {
	ProcID int32
}

type ClearParserResponse struct{}

type InsertRelationExpRequest struct {
	ProcID int32
	Exp    dataplane.RelationExp
}

type InsertRelationExpResponse struct{}

type ClearRelationExpRequest struct {
	ProcID int32
}

type ClearRelationExpResponse struct{}

type ModResMapRequest struct {
	ProcID int32
	Bitmap uint32
	Entry  dataplane.GateEntry
}

type ModResMapResponse struct{}

type ClearResMapRequest struct {
	ProcID int32
}

type ClearResMapResponse struct{}

type SetDefaultGateEntryRequest struct {
	ProcID int32
	Entry  dataplane.GateEntry
}

type SetDefaultGateEntryResponse struct{}

type SetMemConfigRequest struct {
	ProcID    int32
	MatcherID int32

	MatchType  dataplane.MatchType
	KeyWidth   int32
	ValueWidth int32
	Depth      int32
	MissActID  int32
}

type SetMemConfigResponse struct{}

type SetFieldInfoRequest struct {
	ProcID    int32
	MatcherID int32
	Fields    []dataplane.FieldInfo
}

type SetFieldInfoResponse struct{}

type SetActionProcRequest struct {
	ProcID     int32
	MatcherID  int32
	ActionProc map[int32]int32
}

type SetActionProcResponse struct{}

type SetNoTableRequest struct {
	ProcID    int32
	MatcherID int32
	NoTable   bool
}

type SetNoTableResponse struct{}

type SetMissActIDRequest struct {
	ProcID    int32
	MatcherID int32
	MissActID int32
}

type SetMissActIDResponse struct{}

type InsertSramEntryRequest struct {
	ProcID    int32
	MatcherID int32
	Key       []byte
	Value     []byte
}

type InsertSramEntryResponse struct{}

type InsertTcamEntryRequest struct {
	ProcID    int32
	MatcherID int32
	Key       []byte
	Mask      []byte
	Value     []byte
}

type InsertTcamEntryResponse struct{}

type ClearOldConfigRequest struct {
	ProcID    int32
	MatcherID int32
}

type ClearOldConfigResponse struct{}

// ActionDef carries one executor action: the primitive list plus the
// parameter layout of the match value.
type ActionDef struct {
	Primitives []dataplane.Primitive
	ParaNum    int32
	ParaLens   []int32
}

type InsertActionRequest struct {
	ProcID   int32
	ActionID int32
	Action   ActionDef
}

type InsertActionResponse struct{}

type DelActionRequest struct {
	ProcID   int32
	ActionID int32
}

type DelActionResponse struct{}

type ClearActionRequest struct {
	ProcID int32
}

type ClearActionResponse struct{}

type LoadNeuronPrimitiveContextRequest struct {
	Context accel.NeuronContext
}

type LoadNeuronPrimitiveContextResponse struct{}

type ClearNeuronPrimitiveContextsRequest struct{}

type ClearNeuronPrimitiveContextsResponse struct{}

// TablePoint is one (input, value) sample of a lookup table.
type TablePoint struct {
	Input int32
	Value uint32
}

type LoadSigmoidTableRequest struct {
	Points          []TablePoint
	ValueBitwidth   uint32
	InputMultiplier uint32
}

type LoadSigmoidTableResponse struct{}

type ClearSigmoidTableRequest struct{}

type ClearSigmoidTableResponse struct{}

type LoadExpTableRequest struct {
	Points          []TablePoint
	ValueBitwidth   uint32
	InputMultiplier uint32
	ValueScale      uint32
}

type LoadExpTableResponse struct{}

type ClearExpTableRequest struct{}

type ClearExpTableResponse struct{}

type InspectStateRequest struct {
	// Pattern is a glob over component paths; empty means everything.
	Pattern string
}

// InspectEntry is one configured component and its summary.
type InspectEntry struct {
	Path    string
	Summary string
}

type InspectStateResponse struct {
	Entries []InspectEntry
}

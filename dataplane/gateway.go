package dataplane

import (
	"go.uber.org/zap"

	"github.com/rp4-platform/rswitch/common/bitset"
)

// GateParam is one side of a gateway relation: either a PHV field read
// or a constant.
type GateParam struct {
	IsConst bool
	Field   FieldInfo
	Const   Data
}

// RelationExp is one gateway predicate: param1 relation param2.
type RelationExp struct {
	Param1   GateParam
	Param2   GateParam
	Relation RelationCode
}

// Gateway evaluates an ordered predicate list into a bitmap and
// translates the bitmap into the next table or stage.
type Gateway struct {
	exps         []RelationExp
	resMap       map[uint32]GateEntry
	defaultEntry GateEntry
	log          *zap.SugaredLogger
}

func NewGateway(log *zap.SugaredLogger) *Gateway {
	return &Gateway{
		resMap: map[uint32]GateEntry{},
		log:    log,
	}
}

// InsertExp appends one relation expression.
func (m *Gateway) InsertExp(exp RelationExp) {
	m.exps = append(m.exps, exp)
}

// ClearExps discards the predicate list.
func (m *Gateway) ClearExps() {
	m.exps = nil
}

// ModResMap binds a result bitmap to a gate entry.
func (m *Gateway) ModResMap(bitmap uint32, entry GateEntry) {
	m.resMap[bitmap] = entry
}

// ClearResMap discards the bitmap translation.
func (m *Gateway) ClearResMap() {
	clear(m.resMap)
}

// SetDefaultEntry sets the target used when no map entry matches.
func (m *Gateway) SetDefaultEntry(entry GateEntry) {
	m.defaultEntry = entry
}

// ExpCount returns the number of installed predicates.
func (m *Gateway) ExpCount() int {
	return len(m.exps)
}

// MapCount returns the number of bitmap bindings.
func (m *Gateway) MapCount() int {
	return len(m.resMap)
}

// Execute evaluates all predicates against the PHV and writes the
// resolved target into the PHV control state. Bit i of the bitmap is
// the truth value of predicate i.
func (m *Gateway) Execute(phv *PHV) {
	res := bitset.Tiny32{}
	for idx, exp := range m.exps {
		if idx >= bitset.MaxBits {
			m.log.Warnf("gateway: predicate %d beyond bitmap capacity, ignored", idx)
			break
		}
		if m.evalExp(phv, exp) {
			res.Insert(uint32(idx))
		}
	}

	entry, ok := m.resMap[res.Word()]
	if !ok {
		entry = m.defaultEntry
	}

	phv.NextOp = entry
	if entry.Type == GateTable {
		phv.NextMatcherID = entry.Val
	}
}

func (m *Gateway) evalExp(phv *PHV, exp RelationExp) bool {
	left, ok := m.paramValue(phv, exp.Param1)
	if !ok {
		return false
	}
	right, ok := m.paramValue(phv, exp.Param2)
	if !ok {
		return false
	}

	switch exp.Relation {
	case RelationEQ:
		return left == right
	case RelationNEQ:
		return left != right
	case RelationGT:
		return left > right
	case RelationGTE:
		return left >= right
	case RelationLT:
		return left < right
	case RelationLTE:
		return left <= right
	}

	m.log.Errorf("gateway: unknown relation %d", exp.Relation)
	return false
}

func (m *Gateway) paramValue(phv *PHV, param GateParam) (uint32, bool) {
	if param.IsConst {
		return param.Const.Value(), true
	}

	d, err := phv.ReadField(param.Field)
	if err != nil {
		m.log.Errorf("gateway: field read failed: %v", err)
		return 0, false
	}

	return d.Value(), true
}

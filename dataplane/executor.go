package dataplane

import (
	"fmt"

	"go.uber.org/zap"
)

// Primitive is one lvalue <- rvalue assignment within an action.
type Primitive struct {
	LValue FieldInfo
	RValue *ExpNode
}

// Action is an ordered primitive list plus the layout of the parameters
// carried in the match value.
type Action struct {
	Primitives []Primitive
	ParaNum    int
	ParaLens   []int
}

// actionParamBase is where action parameters start inside the match
// value: the first 16 bits echo the action id.
const actionParamBase = 16

// Executor holds up to 32 actions and applies the one resolved by the
// matcher to the PHV.
type Executor struct {
	actions [ExecutorActionNum]*Action
	eval    *Evaluator
	log     *zap.SugaredLogger
}

func NewExecutor(eval *Evaluator, log *zap.SugaredLogger) *Executor {
	return &Executor{
		eval: eval,
		log:  log,
	}
}

// InsertAction installs an action under the given id, replacing any
// previous definition.
func (m *Executor) InsertAction(actionID int32, action *Action) error {
	if actionID < 0 || actionID >= ExecutorActionNum {
		return fmt.Errorf("action id %d out of range", actionID)
	}
	if action.ParaNum != len(action.ParaLens) {
		return fmt.Errorf("action %d declares %d parameters but %d widths",
			actionID, action.ParaNum, len(action.ParaLens))
	}

	m.actions[actionID] = action
	return nil
}

// DelAction removes one action.
func (m *Executor) DelAction(actionID int32) error {
	if actionID < 0 || actionID >= ExecutorActionNum {
		return fmt.Errorf("action id %d out of range", actionID)
	}

	m.actions[actionID] = nil
	return nil
}

// ClearActions removes all actions.
func (m *Executor) ClearActions() {
	clear(m.actions[:])
}

// ActionCount returns the number of installed actions.
func (m *Executor) ActionCount() int {
	count := 0
	for _, action := range m.actions {
		if action != nil {
			count++
		}
	}
	return count
}

// Execute decodes the action parameters from the match value and runs
// every primitive in order. Later primitives observe the writes of
// earlier ones.
func (m *Executor) Execute(phv *PHV) {
	actionID := phv.NextActionID
	if actionID < 0 || actionID >= ExecutorActionNum {
		m.log.Errorf("executor: action id %d out of range", actionID)
		return
	}
	action := m.actions[actionID]
	if action == nil {
		m.log.Debugf("executor: no action installed under id %d", actionID)
		return
	}

	params := m.unpackParams(action, phv.MatchValue)

	for _, prim := range action.Primitives {
		res := m.eval.Eval(phv, prim.RValue, params, int(prim.LValue.FdLen))
		if err := phv.WriteField(prim.LValue, res); err != nil {
			m.log.Errorf("executor: primitive write failed: %v", err)
		}
	}
}

// unpackParams slices the parameter regions out of the bit-packed match
// value, right-aligning each into its own operand. Regions beyond the
// blob decode as zero.
func (m *Executor) unpackParams(action *Action, matchValue []byte) []Data {
	params := make([]Data, 0, action.ParaNum)

	offset := actionParamBase
	for i := 0; i < action.ParaNum; i++ {
		width := action.ParaLens[i]
		d, err := ReadBits(matchValue, offset, width)
		if err != nil {
			m.log.Warnf("executor: parameter %d of %d bits at offset %d exceeds match value: %v",
				i, width, offset, err)
			d = ZeroData(width)
		}
		params = append(params, d)
		offset += width
	}

	return params
}

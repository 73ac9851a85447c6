package dataplane

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"
)

// Matcher builds a key from PHV fields, looks it up in its key memory
// and resolves the co-indexed value slot into an action id, action
// parameters and the next processor.
type Matcher struct {
	id         int32
	configured bool

	matchType  MatchType
	keyWidth   int
	valueWidth int
	depth      int

	fields     []FieldInfo
	noTable    bool
	missActID  int32
	actionProc map[int32]int32

	keySram  *Sram
	keyTcam  *Tcam
	valueRAM *Sram

	count     int
	maskBits  []int
	log       *zap.SugaredLogger
}

func NewMatcher(id int32, log *zap.SugaredLogger) *Matcher {
	return &Matcher{
		id:         id,
		actionProc: map[int32]int32{},
		log:        log,
	}
}

// SetMemConfig installs the memory descriptor, allocating key and value
// blocks from the cluster pool on first use. The previous entry set is
// discarded.
func (m *Matcher) SetMemConfig(pool *MemoryPool, matchType MatchType, keyWidth, valueWidth, depth int) error {
	if keyWidth <= 0 || valueWidth <= 0 || depth <= 0 {
		return fmt.Errorf("matcher %d: non-positive memory geometry", m.id)
	}
	if valueWidth < 8 {
		return fmt.Errorf("matcher %d: value width %d cannot hold an action id", m.id, valueWidth)
	}
	if valueWidth > SramWidth {
		return fmt.Errorf("matcher %d: value width %d exceeds sram row width %d", m.id, valueWidth, SramWidth)
	}

	switch matchType {
	case MatchExact:
		if keyWidth > SramWidth {
			return fmt.Errorf("matcher %d: key width %d exceeds sram row width %d", m.id, keyWidth, SramWidth)
		}
		if depth > SramDepth {
			return fmt.Errorf("matcher %d: depth %d exceeds sram depth %d", m.id, depth, SramDepth)
		}
		if m.keySram == nil {
			block, err := pool.AllocSram()
			if err != nil {
				return fmt.Errorf("matcher %d: %w", m.id, err)
			}
			m.keySram = block
		}
		m.keySram.Reset()
	case MatchTernary, MatchLPM:
		if keyWidth > TcamWidth {
			return fmt.Errorf("matcher %d: key width %d exceeds tcam row width %d", m.id, keyWidth, TcamWidth)
		}
		if depth > TcamDepth {
			return fmt.Errorf("matcher %d: depth %d exceeds tcam depth %d", m.id, depth, TcamDepth)
		}
		if m.keyTcam == nil {
			block, err := pool.AllocTcam()
			if err != nil {
				return fmt.Errorf("matcher %d: %w", m.id, err)
			}
			m.keyTcam = block
		}
		m.keyTcam.Reset()
	default:
		return fmt.Errorf("matcher %d: unknown match type %d", m.id, matchType)
	}

	if m.valueRAM == nil {
		block, err := pool.AllocSram()
		if err != nil {
			return fmt.Errorf("matcher %d: %w", m.id, err)
		}
		m.valueRAM = block
	}
	m.valueRAM.Reset()

	m.matchType = matchType
	m.keyWidth = keyWidth
	m.valueWidth = valueWidth
	m.depth = depth
	m.count = 0
	m.maskBits = m.maskBits[:0]
	m.configured = true

	return nil
}

// SetFields installs the ordered field slices forming the key. The
// slice is copied.
func (m *Matcher) SetFields(fields []FieldInfo) {
	m.fields = append([]FieldInfo(nil), fields...)
}

// SetActionProc installs the action id to next processor map.
func (m *Matcher) SetActionProc(actionProc map[int32]int32) {
	m.actionProc = map[int32]int32{}
	for action, proc := range actionProc {
		m.actionProc[action] = proc
	}
}

// SetNoTable marks the matcher as a passthrough.
func (m *Matcher) SetNoTable(noTable bool) {
	m.noTable = noTable
}

// SetMissActID sets the action resolved on lookup miss.
func (m *Matcher) SetMissActID(missActID int32) {
	m.missActID = missActID
}

// Clear wipes the matcher configuration and entries. Allocated memory
// blocks stay with the matcher for the next configuration.
func (m *Matcher) Clear() {
	if m.keySram != nil {
		m.keySram.Reset()
	}
	if m.keyTcam != nil {
		m.keyTcam.Reset()
	}
	if m.valueRAM != nil {
		m.valueRAM.Reset()
	}

	m.configured = false
	m.matchType = MatchExact
	m.keyWidth = 0
	m.valueWidth = 0
	m.depth = 0
	m.fields = nil
	m.noTable = false
	m.missActID = 0
	m.actionProc = map[int32]int32{}
	m.count = 0
	m.maskBits = m.maskBits[:0]
}

// Configured reports whether a memory descriptor is installed.
func (m *Matcher) Configured() bool {
	return m.configured
}

// EntryCount returns the number of installed entries.
func (m *Matcher) EntryCount() int {
	return m.count
}

// Describe summarizes the matcher configuration for inspection.
func (m *Matcher) Describe() string {
	kind := "exact"
	switch m.matchType {
	case MatchTernary:
		kind = "ternary"
	case MatchLPM:
		kind = "lpm"
	}
	return fmt.Sprintf("%s key=%db value=%db depth=%d entries=%d no_table=%t",
		kind, m.keyWidth, m.valueWidth, m.depth, m.count, m.noTable)
}

// InsertSramEntry installs one exact entry.
func (m *Matcher) InsertSramEntry(key, value []byte) error {
	if !m.configured || m.matchType != MatchExact {
		return fmt.Errorf("matcher %d: not configured for exact match", m.id)
	}
	if m.count >= m.depth {
		return fmt.Errorf("matcher %d: table full (%d entries)", m.id, m.depth)
	}

	if err := m.keySram.WriteRow(m.count, normalizeOperand(key, m.keyWidth)); err != nil {
		return err
	}
	if err := m.valueRAM.WriteRow(m.count, normalizeOperand(value, m.valueWidth)); err != nil {
		return err
	}
	m.count++

	return nil
}

// InsertTcamEntry installs one ternary or LPM entry.
func (m *Matcher) InsertTcamEntry(key, mask, value []byte) error {
	if !m.configured || m.matchType == MatchExact {
		return fmt.Errorf("matcher %d: not configured for ternary match", m.id)
	}
	if m.count >= m.depth {
		return fmt.Errorf("matcher %d: table full (%d entries)", m.id, m.depth)
	}

	maskData := normalizeOperand(mask, m.keyWidth)
	if err := m.keyTcam.WriteRow(m.count, normalizeOperand(key, m.keyWidth), maskData); err != nil {
		return err
	}
	if err := m.valueRAM.WriteRow(m.count, normalizeOperand(value, m.valueWidth)); err != nil {
		return err
	}
	m.maskBits = append(m.maskBits, maskOnes(maskData))
	m.count++

	return nil
}

// Execute builds the key, performs the lookup and writes the match
// state into the PHV.
func (m *Matcher) Execute(phv *PHV) {
	if m.noTable || !m.configured {
		// Passthrough: forward a hit carrying the miss action.
		phv.Hit = true
		phv.MatchValue = nil
		phv.MatchValueLen = 0
		phv.NextActionID = m.missActID
		m.applyActionProc(phv, m.missActID)
		return
	}

	probe, err := m.buildKey(phv)
	if err != nil {
		m.log.Errorf("matcher %d: key build failed: %v", m.id, err)
		phv.Drop = true
		return
	}

	row := -1
	switch m.matchType {
	case MatchExact:
		row = m.lookupExact(probe)
	case MatchTernary:
		row = m.lookupTernary(probe)
	case MatchLPM:
		row = m.lookupLPM(probe)
	}

	if row < 0 {
		phv.Hit = false
		phv.MatchValue = nil
		phv.MatchValueLen = 0
		phv.NextActionID = m.missActID
		m.applyActionProc(phv, m.missActID)
		return
	}

	value, err := m.valueRAM.ReadRow(row, m.valueWidth)
	if err != nil {
		m.log.Errorf("matcher %d: value read failed: %v", m.id, err)
		phv.Drop = true
		return
	}

	actionID := int32(value.SliceBits(0, 8).Value())

	phv.Hit = true
	phv.MatchValue = append([]byte(nil), value.Val...)
	phv.MatchValueLen = uint16(m.valueWidth)
	phv.NextActionID = actionID
	m.applyActionProc(phv, actionID)
}

// buildKey concatenates the field values left-to-right, right-aligned
// and zero-extended into the configured key width.
func (m *Matcher) buildKey(phv *PHV) (Data, error) {
	total := 0
	for _, fd := range m.fields {
		total += int(fd.FdLen)
	}
	if total > m.keyWidth {
		return Data{}, fmt.Errorf("field concatenation of %d bits exceeds key width %d", total, m.keyWidth)
	}

	key := ZeroData(m.keyWidth)
	pad := len(key.Val)*8 - m.keyWidth
	pos := pad + m.keyWidth - total
	for _, fd := range m.fields {
		d, err := phv.ReadField(fd)
		if err != nil {
			return Data{}, err
		}
		if err := WriteBits(key.Val, pos, int(fd.FdLen), d); err != nil {
			return Data{}, err
		}
		pos += int(fd.FdLen)
	}

	return key, nil
}

// lookupExact scans for a byte-for-byte key equality.
func (m *Matcher) lookupExact(probe Data) int {
	for row := 0; row < m.count; row++ {
		stored, err := m.keySram.ReadRow(row, m.keyWidth)
		if err != nil {
			return -1
		}
		if bytes.Equal(stored.Val, probe.Val) {
			return row
		}
	}
	return -1
}

// lookupTernary returns the first row with (stored ^ probe) & mask == 0.
func (m *Matcher) lookupTernary(probe Data) int {
	for row := 0; row < m.count; row++ {
		if m.ternaryMatches(row, probe) {
			return row
		}
	}
	return -1
}

// lookupLPM returns the matching row with the most set mask bits; ties
// break toward the earliest inserted entry.
func (m *Matcher) lookupLPM(probe Data) int {
	best := -1
	bestOnes := -1
	for row := 0; row < m.count; row++ {
		if !m.ternaryMatches(row, probe) {
			continue
		}
		if m.maskBits[row] > bestOnes {
			best = row
			bestOnes = m.maskBits[row]
		}
	}
	return best
}

func (m *Matcher) ternaryMatches(row int, probe Data) bool {
	stored, mask, err := m.keyTcam.ReadRow(row, m.keyWidth)
	if err != nil {
		return false
	}
	for i := range stored.Val {
		if (stored.Val[i]^probe.Val[i])&mask.Val[i] != 0 {
			return false
		}
	}
	return true
}

func (m *Matcher) applyActionProc(phv *PHV, actionID int32) {
	proc, ok := m.actionProc[actionID]
	if !ok {
		return
	}
	phv.NextProcID = proc
}

// normalizeOperand right-aligns raw control-plane bytes into a Data of
// the given width: long inputs keep their low bytes, short inputs are
// zero-extended on the left, and pad bits above the width are masked.
func normalizeOperand(raw []byte, width int) Data {
	out := ZeroData(width)
	n := len(raw)
	if n > len(out.Val) {
		raw = raw[n-len(out.Val):]
		n = len(raw)
	}
	copy(out.Val[len(out.Val)-n:], raw)

	if pad := len(out.Val)*8 - width; pad > 0 && len(out.Val) > 0 {
		out.Val[0] &= 0xff >> pad
	}

	return out
}

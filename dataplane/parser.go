package dataplane

import (
	"fmt"

	"go.uber.org/zap"
)

// ParserEntry is one TCAM row of a parser level together with its
// co-indexed SRAM payload: which header to extract, where to go next
// and which field slices form the next transition key.
type ParserEntry struct {
	State int32
	Key   uint32
	Mask  uint32

	HdrID     uint8
	HdrLen    uint16
	NextState int32

	TransFields []FieldInfo
	MissAct     MissAction
}

// Parser is a TCAM-driven state machine: one entry list per level,
// scanned in insertion order.
type Parser struct {
	levels [][]ParserEntry
	log    *zap.SugaredLogger
}

func NewParser(log *zap.SugaredLogger) *Parser {
	return &Parser{log: log}
}

// InitLevels sizes the level table. The count is fixed until the next
// init or clear.
func (m *Parser) InitLevels(n int) error {
	if n < 0 {
		return fmt.Errorf("negative level count %d", n)
	}

	m.levels = make([][]ParserEntry, n)
	return nil
}

// ModifyEntry installs one entry into the given level. Transition field
// descriptors are copied, so the caller may reuse its slice.
func (m *Parser) ModifyEntry(level int, entry ParserEntry) error {
	if level < 0 || level >= len(m.levels) {
		return fmt.Errorf("parser level %d out of range (%d initialized)", level, len(m.levels))
	}
	if entry.HdrID == 0 {
		return fmt.Errorf("header id 0 is reserved for metadata")
	}
	if int(entry.HdrID) >= MaxHeaderNum {
		return fmt.Errorf("header id %d out of range", entry.HdrID)
	}

	entry.TransFields = append([]FieldInfo(nil), entry.TransFields...)
	m.levels[level] = append(m.levels[level], entry)

	return nil
}

// Clear discards all levels and entries.
func (m *Parser) Clear() {
	m.levels = nil
}

// Levels returns the configured level count.
func (m *Parser) Levels() int {
	return len(m.levels)
}

// EntryCount returns the number of installed entries across all levels.
func (m *Parser) EntryCount() int {
	count := 0
	for _, level := range m.levels {
		count += len(level)
	}
	return count
}

// Run walks the levels, extracting one header per hit. A miss stops
// parsing: the packet proceeds or drops per the armed miss action.
// Extraction past the header region drops the packet.
func (m *Parser) Run(phv *PHV) {
	for levelIdx, level := range m.levels {
		entry, ok := m.match(level, phv)
		if !ok {
			phv.TcamMiss = true
			if phv.MissAct == MissActionDrop {
				m.log.Debugf("parser: miss at level %d, dropping", levelIdx)
				phv.Drop = true
			}
			return
		}
		phv.TcamMiss = false

		if int(phv.CurOffset)+int(entry.HdrLen) > FrontHeaderLen*8 {
			m.log.Errorf("parser: header %d of %d bits at offset %d exceeds the packet buffer",
				entry.HdrID, entry.HdrLen, phv.CurOffset)
			phv.Drop = true
			return
		}

		phv.ParsedHeaders[entry.HdrID] = HeaderInfo{
			HdrID:     entry.HdrID,
			HdrOffset: phv.CurOffset,
			HdrLen:    entry.HdrLen,
		}
		phv.Valid.Insert(uint32(entry.HdrID))

		phv.CurOffset += entry.HdrLen
		phv.CurState = entry.NextState
		phv.MissAct = entry.MissAct

		if err := m.nextTransKey(phv, entry.TransFields); err != nil {
			m.log.Errorf("parser: transition key at level %d: %v", levelIdx, err)
			phv.Drop = true
			return
		}
	}
}

// match scans one level in insertion order for the first entry whose
// masked key equals the masked transition key in the current state.
func (m *Parser) match(level []ParserEntry, phv *PHV) (ParserEntry, bool) {
	for _, entry := range level {
		if entry.State != phv.CurState {
			continue
		}
		if entry.Key&entry.Mask == phv.CurTransKey&entry.Mask {
			return entry, true
		}
	}
	return ParserEntry{}, false
}

// nextTransKey concatenates the transition fields, read at the new
// current offset, into the 32-bit right-aligned transition key.
func (m *Parser) nextTransKey(phv *PHV, fields []FieldInfo) error {
	phv.CurTransFdNum = uint32(len(fields))
	if len(fields) == 0 {
		return nil
	}

	key := uint32(0)
	for _, fd := range fields {
		start := int(phv.CurOffset) + int(fd.InternalOffset)
		d, err := ReadBits(phv.Packet[:], start, int(fd.FdLen))
		if err != nil {
			return err
		}
		key = key<<fd.FdLen | d.Value()
	}
	phv.CurTransKey = key

	return nil
}

package dataplane

import (
	"fmt"
	"math/bits"
)

// Sram is one simulated SRAM block: Depth rows of Width bits, stored as
// one contiguous bit string so that row access goes through the bit
// codec like any other field.
type Sram struct {
	Width int
	Depth int
	Tbl   []byte
}

func NewSram(width, depth int) *Sram {
	return &Sram{
		Width: width,
		Depth: depth,
		Tbl:   make([]byte, byteLenFor(width*depth)),
	}
}

// WriteRow stores the operand right-justified into the given row.
func (m *Sram) WriteRow(row int, d Data) error {
	if row < 0 || row >= m.Depth {
		return fmt.Errorf("sram row %d out of range (depth %d)", row, m.Depth)
	}
	return WriteBits(m.Tbl, row*m.Width, m.Width, d)
}

// ReadRow reads the low width bits of the given row.
func (m *Sram) ReadRow(row, width int) (Data, error) {
	if row < 0 || row >= m.Depth {
		return Data{}, fmt.Errorf("sram row %d out of range (depth %d)", row, m.Depth)
	}
	if width > m.Width {
		return Data{}, fmt.Errorf("read of %d bits exceeds row width %d", width, m.Width)
	}
	return ReadBits(m.Tbl, (row+1)*m.Width-width, width)
}

// Reset zeroes the whole block.
func (m *Sram) Reset() {
	clear(m.Tbl)
}

// Tcam is one simulated TCAM block: like an SRAM but every row carries
// a mask alongside the key.
type Tcam struct {
	Width int
	Depth int
	Tbl   []byte
	Mask  []byte
}

func NewTcam(width, depth int) *Tcam {
	return &Tcam{
		Width: width,
		Depth: depth,
		Tbl:   make([]byte, byteLenFor(width*depth)),
		Mask:  make([]byte, byteLenFor(width*depth)),
	}
}

// WriteRow stores key and mask right-justified into the given row.
func (m *Tcam) WriteRow(row int, key, mask Data) error {
	if row < 0 || row >= m.Depth {
		return fmt.Errorf("tcam row %d out of range (depth %d)", row, m.Depth)
	}
	if err := WriteBits(m.Tbl, row*m.Width, m.Width, key); err != nil {
		return err
	}
	return WriteBits(m.Mask, row*m.Width, m.Width, mask)
}

// ReadRow reads the low width bits of key and mask of the given row.
func (m *Tcam) ReadRow(row, width int) (Data, Data, error) {
	if row < 0 || row >= m.Depth {
		return Data{}, Data{}, fmt.Errorf("tcam row %d out of range (depth %d)", row, m.Depth)
	}
	if width > m.Width {
		return Data{}, Data{}, fmt.Errorf("read of %d bits exceeds row width %d", width, m.Width)
	}
	key, err := ReadBits(m.Tbl, (row+1)*m.Width-width, width)
	if err != nil {
		return Data{}, Data{}, err
	}
	mask, err := ReadBits(m.Mask, (row+1)*m.Width-width, width)
	if err != nil {
		return Data{}, Data{}, err
	}
	return key, mask, nil
}

// Reset zeroes the whole block, keys and masks.
func (m *Tcam) Reset() {
	clear(m.Tbl)
	clear(m.Mask)
}

// MemoryPool hands out the SRAM and TCAM blocks of one cluster.
type MemoryPool struct {
	srams []*Sram
	tcams []*Tcam

	sramNext int
	tcamNext int
}

func NewMemoryPool(sramNum, sramDepth, tcamNum, tcamDepth int) *MemoryPool {
	pool := &MemoryPool{
		srams: make([]*Sram, 0, sramNum),
		tcams: make([]*Tcam, 0, tcamNum),
	}
	for i := 0; i < sramNum; i++ {
		pool.srams = append(pool.srams, NewSram(SramWidth, sramDepth))
	}
	for i := 0; i < tcamNum; i++ {
		pool.tcams = append(pool.tcams, NewTcam(TcamWidth, tcamDepth))
	}
	return pool
}

// AllocSram hands out the next free SRAM block.
func (m *MemoryPool) AllocSram() (*Sram, error) {
	if m.sramNext >= len(m.srams) {
		return nil, fmt.Errorf("cluster is out of sram blocks (%d allocated)", m.sramNext)
	}
	block := m.srams[m.sramNext]
	m.sramNext++
	return block, nil
}

// AllocTcam hands out the next free TCAM block.
func (m *MemoryPool) AllocTcam() (*Tcam, error) {
	if m.tcamNext >= len(m.tcams) {
		return nil, fmt.Errorf("cluster is out of tcam blocks (%d allocated)", m.tcamNext)
	}
	block := m.tcams[m.tcamNext]
	m.tcamNext++
	return block, nil
}

// maskOnes counts the set bits of a mask operand.
func maskOnes(mask Data) int {
	ones := 0
	for _, b := range mask.Val {
		ones += bits.OnesCount8(b)
	}
	return ones
}

package dataplane

import (
	"fmt"

	"github.com/rp4-platform/rswitch/common/bitset"
)

// PHV is the packet header vector: all mutable per-packet state. It is
// owned by exactly one worker for the whole traversal.
type PHV struct {
	// Packet holds the frame bytes in the front region and scratch
	// metadata in the trailing region.
	Packet [PacketBufLen]byte
	// PktLen is the ingress frame length in bytes.
	PktLen int

	// ParsedHeaders slot i describes the header with id i. Slot 0 is
	// reserved for the metadata region.
	ParsedHeaders [MaxHeaderNum]HeaderInfo
	// Valid tracks which headers have been extracted.
	Valid bitset.Tiny32

	// Parser state.
	CurState      int32
	CurOffset     uint16
	CurTransFdNum uint32
	CurTransKey   uint32
	TcamMiss      bool
	MissAct       MissAction

	// Match state.
	MatchValue    []byte
	MatchValueLen uint16
	Hit           bool

	// Control state.
	Drop          bool
	NextProcID    int32
	NextMatcherID int32
	NextActionID  int32
	NextOp        GateEntry

	IgIf int32
	EgIf int32
}

// NewPHV copies the frame into a fresh PHV and pre-marks the
// pipeline-wide metadata headers as parsed.
func NewPHV(frame []byte, igIf int32, metadata []HeaderInfo) (*PHV, error) {
	if len(frame) > FrontHeaderLen {
		return nil, fmt.Errorf("frame of %d bytes exceeds the %d byte header region",
			len(frame), FrontHeaderLen)
	}

	phv := &PHV{
		PktLen:      len(frame),
		CurTransKey: 0xffff,
		TcamMiss:    true,
		IgIf:        igIf,
	}
	copy(phv.Packet[:], frame)

	// Header id 0 always addresses the whole metadata region.
	phv.ParsedHeaders[0] = HeaderInfo{
		HdrID:     0,
		HdrOffset: FrontHeaderLen * 8,
		HdrLen:    MetaLen * 8,
	}
	phv.Valid.Insert(0)

	for _, hdr := range metadata {
		if int(hdr.HdrID) >= MaxHeaderNum {
			continue
		}
		phv.ParsedHeaders[hdr.HdrID] = HeaderInfo{
			HdrID:     hdr.HdrID,
			HdrOffset: FrontHeaderLen*8 + hdr.HdrOffset,
			HdrLen:    hdr.HdrLen,
		}
		phv.Valid.Insert(uint32(hdr.HdrID))
	}

	return phv, nil
}

// Bitmap returns the packed header validity word.
func (phv *PHV) Bitmap() uint32 {
	return phv.Valid.Word()
}

// ReadField reads one field through the bit codec. VALID, HIT and MISS
// fields resolve to synthetic 1-bit state instead of packet bytes.
func (phv *PHV) ReadField(fd FieldInfo) (Data, error) {
	switch fd.FdType {
	case FieldTypeValid:
		return boolData(phv.Valid.Test(uint32(fd.HdrID))), nil
	case FieldTypeHit:
		return boolData(phv.Hit), nil
	case FieldTypeMiss:
		return boolData(!phv.Hit), nil
	}

	if int(fd.HdrID) >= MaxHeaderNum {
		return Data{}, fmt.Errorf("header id %d out of range", fd.HdrID)
	}
	hdr := phv.ParsedHeaders[fd.HdrID]
	start := int(hdr.HdrOffset) + int(fd.InternalOffset)

	return ReadBits(phv.Packet[:], start, int(fd.FdLen))
}

// WriteField writes one field through the bit codec. A VALID lvalue
// stores the value's low bit into the validity map instead of the
// packet.
func (phv *PHV) WriteField(fd FieldInfo, d Data) error {
	if fd.FdType == FieldTypeValid {
		if d.bit(0) != 0 {
			phv.Valid.Insert(uint32(fd.HdrID))
		} else {
			phv.Valid.Remove(uint32(fd.HdrID))
		}
		return nil
	}
	if fd.FdType != FieldTypeField {
		return fmt.Errorf("field type %d is not writable", fd.FdType)
	}

	if int(fd.HdrID) >= MaxHeaderNum {
		return fmt.Errorf("header id %d out of range", fd.HdrID)
	}
	hdr := phv.ParsedHeaders[fd.HdrID]
	start := int(hdr.HdrOffset) + int(fd.InternalOffset)

	return WriteBits(phv.Packet[:], start, int(fd.FdLen), d)
}

// Frame returns the egress view of the packet bytes.
func (phv *PHV) Frame() []byte {
	return phv.Packet[:phv.PktLen]
}

func boolData(v bool) Data {
	if v {
		return NewData(1, 1)
	}
	return ZeroData(1)
}

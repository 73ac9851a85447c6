package dataplane

import (
	"fmt"

	"github.com/c2h5oh/datasize"
)

// MemoryConfig sizes the simulated memory blocks. Capacities are per
// block; row counts derive from the fixed row widths.
type MemoryConfig struct {
	// SramCapacity is the capacity of one SRAM block.
	SramCapacity datasize.ByteSize `yaml:"sram_capacity"`
	// TcamCapacity is the capacity of one TCAM block.
	TcamCapacity datasize.ByteSize `yaml:"tcam_capacity"`
}

// Config describes the pipeline geometry.
type Config struct {
	// Processors is the number of logical processors to build.
	Processors int `yaml:"processors"`
	// Memory sizes the per-cluster memory blocks.
	Memory MemoryConfig `yaml:"memory"`
}

func DefaultConfig() *Config {
	return &Config{
		Processors: ProcNum,
		Memory: MemoryConfig{
			SramCapacity: datasize.ByteSize(SramWidth*SramDepth) / 8,
			TcamCapacity: datasize.ByteSize(TcamWidth*TcamDepth) / 8,
		},
	}
}

// Validate checks the geometry against the addressable limits.
func (m *Config) Validate() error {
	if m.Processors <= 0 || m.Processors > MaxProcNum {
		return fmt.Errorf("processor count %d out of range (1..%d)", m.Processors, MaxProcNum)
	}
	if m.Memory.SramCapacity == 0 || m.Memory.TcamCapacity == 0 {
		return fmt.Errorf("memory block capacity cannot be zero")
	}
	return nil
}

// SramRows returns the per-block SRAM row count.
func (m *Config) SramRows() int {
	return int(m.Memory.SramCapacity.Bytes()) * 8 / SramWidth
}

// TcamRows returns the per-block TCAM row count.
func (m *Config) TcamRows() int {
	return int(m.Memory.TcamCapacity.Bytes()) * 8 / TcamWidth
}

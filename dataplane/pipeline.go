package dataplane

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rp4-platform/rswitch/dataplane/accel"
)

// Pipeline owns the processors, the memory clusters and the global
// accelerator registries, and carries the whole control-plane mutation
// surface.
//
// Concurrency discipline: control-plane mutations take the write lock,
// every packet traversal takes the read lock. The accelerator
// registries guard themselves and hand out snapshots.
type Pipeline struct {
	mu sync.RWMutex

	processors [MaxProcNum]*Processor
	clusters   [ClusterNum]*MemoryPool
	metadata   []HeaderInfo

	neurons  *accel.NeuronRegistry
	sigmoid  *accel.SigmoidTable
	expTable *accel.ExpTable

	log *zap.SugaredLogger
}

func NewPipeline(cfg *Config, log *zap.SugaredLogger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	neurons := accel.NewNeuronRegistry(log)
	sigmoid := accel.NewSigmoidTable(log)
	eval := NewEvaluator(neurons, sigmoid, log)

	ppl := &Pipeline{
		neurons:  neurons,
		sigmoid:  sigmoid,
		expTable: accel.NewExpTable(log),
		log:      log,
	}

	for cluster := range ppl.clusters {
		ppl.clusters[cluster] = NewMemoryPool(SramPerCluster, cfg.SramRows(), TcamPerCluster, cfg.TcamRows())
	}

	for id := int32(0); id < int32(cfg.Processors); id++ {
		ppl.processors[id] = NewProcessor(id, eval, ppl.clusters[clusterOf(id)], log)
	}

	return ppl, nil
}

// Neurons exposes the neuron-primitive registry.
func (m *Pipeline) Neurons() *accel.NeuronRegistry {
	return m.neurons
}

// Sigmoid exposes the sigmoid lookup table.
func (m *Pipeline) Sigmoid() *accel.SigmoidTable {
	return m.sigmoid
}

// ExpTable exposes the exponent lookup table.
func (m *Pipeline) ExpTable() *accel.ExpTable {
	return m.expTable
}

// Process runs one framed packet through the pipeline. It returns the
// egress frame and interface, or delivered=false when the packet was
// dropped.
func (m *Pipeline) Process(frame []byte, igIf int32) (out []byte, egIf int32, delivered bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	phv, err := NewPHV(frame, igIf, m.metadata)
	if err != nil {
		m.log.Errorf("pipeline: %v", err)
		return nil, 0, false
	}

	first := m.processors[0]
	if first == nil {
		m.log.Errorf("pipeline: no processors configured")
		return nil, 0, false
	}

	first.Parser.Run(phv)
	if phv.Drop {
		return nil, 0, false
	}

	proc := int32(0)
	for hops := 0; ; hops++ {
		if proc < 0 || proc >= MaxProcNum || m.processors[proc] == nil {
			break
		}
		if hops >= maxHops {
			m.log.Errorf("pipeline: packet exceeded %d processor hops, dropping", maxHops)
			return nil, 0, false
		}

		proc = m.processors[proc].Execute(phv)
		if phv.Drop {
			return nil, 0, false
		}
	}

	frameOut := append([]byte(nil), phv.Frame()...)
	return frameOut, phv.EgIf, true
}

// SetMetadata installs the pipeline-wide metadata header map applied to
// every new PHV.
func (m *Pipeline) SetMetadata(headers []HeaderInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, hdr := range headers {
		if int(hdr.HdrID) >= MaxHeaderNum {
			return fmt.Errorf("metadata header id %d out of range", hdr.HdrID)
		}
		if int(hdr.HdrOffset)+int(hdr.HdrLen) > MetaLen*8 {
			return fmt.Errorf("metadata header %d of %d bits at offset %d exceeds the metadata region",
				hdr.HdrID, hdr.HdrLen, hdr.HdrOffset)
		}
	}

	m.metadata = append([]HeaderInfo(nil), headers...)
	return nil
}

// InitParserLevel sizes the parser level table of one processor.
func (m *Pipeline) InitParserLevel(procID int32, levels int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc, err := m.processor(procID)
	if err != nil {
		return err
	}
	return proc.Parser.InitLevels(levels)
}

// ModifyParserEntry installs one parser entry.
func (m *Pipeline) ModifyParserEntry(procID int32, level int, entry ParserEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc, err := m.processor(procID)
	if err != nil {
		return err
	}
	return proc.Parser.ModifyEntry(level, entry)
}

// ClearParser discards one processor's parser configuration.
func (m *Pipeline) ClearParser(procID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc, err := m.processor(procID)
	if err != nil {
		return err
	}
	proc.Parser.Clear()
	return nil
}

// InsertRelationExp appends one gateway predicate.
func (m *Pipeline) InsertRelationExp(procID int32, exp RelationExp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc, err := m.processor(procID)
	if err != nil {
		return err
	}
	proc.Gateway.InsertExp(exp)
	return nil
}

// ClearRelationExp discards one processor's gateway predicates.
func (m *Pipeline) ClearRelationExp(procID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc, err := m.processor(procID)
	if err != nil {
		return err
	}
	proc.Gateway.ClearExps()
	return nil
}

// ModResMap binds a gateway result bitmap to a target.
func (m *Pipeline) ModResMap(procID int32, bitmap uint32, entry GateEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc, err := m.processor(procID)
	if err != nil {
		return err
	}
	proc.Gateway.ModResMap(bitmap, entry)
	return nil
}

// ClearResMap discards one processor's gateway bitmap bindings.
func (m *Pipeline) ClearResMap(procID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc, err := m.processor(procID)
	if err != nil {
		return err
	}
	proc.Gateway.ClearResMap()
	return nil
}

// SetDefaultGateEntry sets one processor's default gateway target.
func (m *Pipeline) SetDefaultGateEntry(procID int32, entry GateEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc, err := m.processor(procID)
	if err != nil {
		return err
	}
	proc.Gateway.SetDefaultEntry(entry)
	return nil
}

// SetMemConfig wipes one matcher and installs a fresh memory
// descriptor.
func (m *Pipeline) SetMemConfig(procID, matcherID int32, matchType MatchType, keyWidth, valueWidth, depth int, missActID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	matcher, pool, err := m.matcher(procID, matcherID)
	if err != nil {
		return err
	}

	matcher.Clear()
	if err := matcher.SetMemConfig(pool, matchType, keyWidth, valueWidth, depth); err != nil {
		return err
	}
	matcher.SetMissActID(missActID)
	return nil
}

// SetFieldInfo installs the key field slices of one matcher.
func (m *Pipeline) SetFieldInfo(procID, matcherID int32, fields []FieldInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	matcher, _, err := m.matcher(procID, matcherID)
	if err != nil {
		return err
	}
	matcher.SetFields(fields)
	return nil
}

// SetActionProc installs one matcher's action to next-processor map.
func (m *Pipeline) SetActionProc(procID, matcherID int32, actionProc map[int32]int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	matcher, _, err := m.matcher(procID, matcherID)
	if err != nil {
		return err
	}
	matcher.SetActionProc(actionProc)
	return nil
}

// SetNoTable marks one matcher as a passthrough.
func (m *Pipeline) SetNoTable(procID, matcherID int32, noTable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	matcher, _, err := m.matcher(procID, matcherID)
	if err != nil {
		return err
	}
	matcher.SetNoTable(noTable)
	return nil
}

// SetMissActID sets one matcher's miss action.
func (m *Pipeline) SetMissActID(procID, matcherID, missActID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	matcher, _, err := m.matcher(procID, matcherID)
	if err != nil {
		return err
	}
	matcher.SetMissActID(missActID)
	return nil
}

// InsertSramEntry installs one exact entry.
func (m *Pipeline) InsertSramEntry(procID, matcherID int32, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	matcher, _, err := m.matcher(procID, matcherID)
	if err != nil {
		return err
	}
	return matcher.InsertSramEntry(key, value)
}

// InsertTcamEntry installs one ternary or LPM entry.
func (m *Pipeline) InsertTcamEntry(procID, matcherID int32, key, mask, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	matcher, _, err := m.matcher(procID, matcherID)
	if err != nil {
		return err
	}
	return matcher.InsertTcamEntry(key, mask, value)
}

// ClearOldConfig wipes one matcher.
func (m *Pipeline) ClearOldConfig(procID, matcherID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	matcher, _, err := m.matcher(procID, matcherID)
	if err != nil {
		return err
	}
	matcher.Clear()
	return nil
}

// InsertAction installs one action into a processor's executor.
func (m *Pipeline) InsertAction(procID, actionID int32, action *Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc, err := m.processor(procID)
	if err != nil {
		return err
	}
	return proc.Executor.InsertAction(actionID, action)
}

// DelAction removes one action.
func (m *Pipeline) DelAction(procID, actionID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc, err := m.processor(procID)
	if err != nil {
		return err
	}
	return proc.Executor.DelAction(actionID)
}

// ClearAction removes all actions of one processor.
func (m *Pipeline) ClearAction(procID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc, err := m.processor(procID)
	if err != nil {
		return err
	}
	proc.Executor.ClearActions()
	return nil
}

// Describe summarizes every configured component, keyed by component
// path.
func (m *Pipeline) Describe() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := map[string]string{}

	for id, proc := range m.processors {
		if proc == nil {
			continue
		}
		if levels := proc.Parser.Levels(); levels > 0 {
			out[fmt.Sprintf("proc%d/parser", id)] =
				fmt.Sprintf("%d levels, %d entries", levels, proc.Parser.EntryCount())
		}
		if proc.Gateway.ExpCount() > 0 || proc.Gateway.MapCount() > 0 {
			out[fmt.Sprintf("proc%d/gateway", id)] =
				fmt.Sprintf("%d relations, %d mappings", proc.Gateway.ExpCount(), proc.Gateway.MapCount())
		}
		for matcherID, matcher := range proc.Matchers {
			if matcher.Configured() {
				out[fmt.Sprintf("proc%d/matcher%d", id, matcherID)] = matcher.Describe()
			}
		}
		if actions := proc.Executor.ActionCount(); actions > 0 {
			out[fmt.Sprintf("proc%d/executor", id)] = fmt.Sprintf("%d actions", actions)
		}
	}

	if len(m.metadata) > 0 {
		out["metadata"] = fmt.Sprintf("%d headers", len(m.metadata))
	}
	if contexts := m.neurons.Count(); contexts > 0 {
		out["accel/neuron"] = fmt.Sprintf("%d contexts", contexts)
	}
	if m.sigmoid.Loaded() {
		out["accel/sigmoid"] = fmt.Sprintf("loaded, value width %d", m.sigmoid.ValueBitwidth())
	}
	if m.expTable.Loaded() {
		out["accel/exp"] = "loaded"
	}

	return out
}

func (m *Pipeline) processor(procID int32) (*Processor, error) {
	if procID < 0 || procID >= MaxProcNum || m.processors[procID] == nil {
		return nil, fmt.Errorf("processor %d is not configured", procID)
	}
	return m.processors[procID], nil
}

func (m *Pipeline) matcher(procID, matcherID int32) (*Matcher, *MemoryPool, error) {
	proc, err := m.processor(procID)
	if err != nil {
		return nil, nil, err
	}
	if matcherID < 0 || matcherID >= MatcherPerProc {
		return nil, nil, fmt.Errorf("matcher %d out of range", matcherID)
	}
	return proc.Matchers[matcherID], proc.Pool(), nil
}

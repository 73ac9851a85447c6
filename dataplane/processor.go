package dataplane

import (
	"go.uber.org/zap"
)

// Processor is one match-action unit: parser, gateway, matcher bank and
// executor, owned exclusively by the pipeline slot.
type Processor struct {
	id       int32
	Parser   *Parser
	Gateway  *Gateway
	Matchers [MatcherPerProc]*Matcher
	Executor *Executor

	pool *MemoryPool
	log  *zap.SugaredLogger
}

func NewProcessor(id int32, eval *Evaluator, pool *MemoryPool, log *zap.SugaredLogger) *Processor {
	proc := &Processor{
		id:      id,
		Parser:  NewParser(log),
		Gateway: NewGateway(log),
		Executor: NewExecutor(eval, log),
		pool:    pool,
		log:     log,
	}
	for i := range proc.Matchers {
		proc.Matchers[i] = NewMatcher(int32(i), log)
	}
	return proc
}

// Pool returns the memory cluster serving this processor.
func (m *Processor) Pool() *MemoryPool {
	return m.pool
}

// Execute runs gateway, matcher and executor over the PHV and returns
// the next processor id. A STAGE resolution from the gateway transfers
// control immediately; a TABLE resolution picks the matcher to run
// here.
func (m *Processor) Execute(phv *PHV) int32 {
	m.Gateway.Execute(phv)

	if phv.NextOp.Type == GateStage {
		return phv.NextOp.Val
	}

	matcherID := phv.NextMatcherID
	if matcherID < 0 || matcherID >= MatcherPerProc {
		m.log.Errorf("processor %d: matcher id %d out of range", m.id, matcherID)
		phv.Drop = true
		return ProcSentinel
	}

	m.Matchers[matcherID].Execute(phv)
	if phv.Drop {
		return ProcSentinel
	}

	m.Executor.Execute(phv)

	return phv.NextProcID
}

package controlplane

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rp4-platform/rswitch/dataplane"
)

// CfgService is the control-plane request handler. Every call is
// synchronous and returns OK as a nil error; validation failures map to
// InvalidArgument and calls arriving before a pipeline is attached map
// to Canceled.
type CfgService struct {
	mu  sync.Mutex
	ppl *dataplane.Pipeline
	log *zap.SugaredLogger
}

func NewCfgService(log *zap.SugaredLogger) *CfgService {
	return &CfgService{log: log}
}

// Attach installs the pipeline handle served by this service.
func (m *CfgService) Attach(ppl *dataplane.Pipeline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ppl = ppl
}

func (m *CfgService) pipeline() (*dataplane.Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ppl == nil {
		return nil, status.Error(codes.Canceled, "pipeline is not initialized")
	}
	return m.ppl, nil
}

func failed(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}

func (m *CfgService) SetMetadata(
	ctx context.Context,
	request *SetMetadataRequest,
) (*SetMetadataResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.SetMetadata(request.Headers); err != nil {
		return nil, failed(err)
	}

	m.log.Infow("installed metadata header map", zap.Int("headers", len(request.Headers)))
	return &SetMetadataResponse{}, nil
}

func (m *CfgService) InitParserLevel(
	ctx context.Context,
	request *InitParserLevelRequest,
) (*InitParserLevelResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.InitParserLevel(request.ProcID, int(request.Levels)); err != nil {
		return nil, failed(err)
	}

	return &InitParserLevelResponse{}, nil
}

func (m *CfgService) ModParserEntry(
	ctx context.Context,
	request *ModParserEntryRequest,
) (*ModParserEntryResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	entry := dataplane.ParserEntry{
		State:       request.State,
		Key:         request.Key,
		Mask:        request.Mask,
		HdrID:       request.HdrID,
		HdrLen:      request.HdrLen,
		NextState:   request.NextState,
		TransFields: request.TransFields,
		MissAct:     request.MissAct,
	}
	if err := ppl.ModifyParserEntry(request.ProcID, int(request.Level), entry); err != nil {
		return nil, failed(err)
	}

	return &ModParserEntryResponse{}, nil
}

func (m *CfgService) ClearParser(
	ctx context.Context,
	request *ClearParserRequest,
) (*ClearParserResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.ClearParser(request.ProcID); err != nil {
		return nil, failed(err)
	}

	return &ClearParserResponse{}, nil
}

func (m *CfgService) InsertRelationExp(
	ctx context.Context,
	request *InsertRelationExpRequest,
) (*InsertRelationExpResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	exp := request.Exp
	normalizeGateParam(&exp.Param1)
	normalizeGateParam(&exp.Param2)

	if err := ppl.InsertRelationExp(request.ProcID, exp); err != nil {
		return nil, failed(err)
	}

	return &InsertRelationExpResponse{}, nil
}

// normalizeGateParam collapses VALID/HIT/MISS field parameters to the
// synthetic 1-bit shape regardless of what the caller filled in.
func normalizeGateParam(param *dataplane.GateParam) {
	if param.IsConst {
		return
	}

	switch param.Field.FdType {
	case dataplane.FieldTypeValid:
		param.Field.InternalOffset = 0
		param.Field.FdLen = 1
	case dataplane.FieldTypeHit, dataplane.FieldTypeMiss:
		param.Field.HdrID = 0
		param.Field.InternalOffset = 0
		param.Field.FdLen = 1
	}
}

func (m *CfgService) ClearRelationExp(
	ctx context.Context,
	request *ClearRelationExpRequest,
) (*ClearRelationExpResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.ClearRelationExp(request.ProcID); err != nil {
		return nil, failed(err)
	}

	return &ClearRelationExpResponse{}, nil
}

func (m *CfgService) ModResMap(
	ctx context.Context,
	request *ModResMapRequest,
) (*ModResMapResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.ModResMap(request.ProcID, request.Bitmap, request.Entry); err != nil {
		return nil, failed(err)
	}

	return &ModResMapResponse{}, nil
}

func (m *CfgService) ClearResMap(
	ctx context.Context,
	request *ClearResMapRequest,
) (*ClearResMapResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.ClearResMap(request.ProcID); err != nil {
		return nil, failed(err)
	}

	return &ClearResMapResponse{}, nil
}

func (m *CfgService) SetDefaultGateEntry(
	ctx context.Context,
	request *SetDefaultGateEntryRequest,
) (*SetDefaultGateEntryResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.SetDefaultGateEntry(request.ProcID, request.Entry); err != nil {
		return nil, failed(err)
	}

	return &SetDefaultGateEntryResponse{}, nil
}

func (m *CfgService) SetMemConfig(
	ctx context.Context,
	request *SetMemConfigRequest,
) (*SetMemConfigResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	err = ppl.SetMemConfig(
		request.ProcID, request.MatcherID,
		request.MatchType,
		int(request.KeyWidth), int(request.ValueWidth), int(request.Depth),
		request.MissActID,
	)
	if err != nil {
		return nil, failed(err)
	}

	m.log.Infow("matcher memory configured",
		zap.Int32("proc_id", request.ProcID),
		zap.Int32("matcher_id", request.MatcherID),
		zap.Int32("key_width", request.KeyWidth),
		zap.Int32("value_width", request.ValueWidth),
	)
	return &SetMemConfigResponse{}, nil
}

func (m *CfgService) SetFieldInfo(
	ctx context.Context,
	request *SetFieldInfoRequest,
) (*SetFieldInfoResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.SetFieldInfo(request.ProcID, request.MatcherID, request.Fields); err != nil {
		return nil, failed(err)
	}

	return &SetFieldInfoResponse{}, nil
}

func (m *CfgService) SetActionProc(
	ctx context.Context,
	request *SetActionProcRequest,
) (*SetActionProcResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.SetActionProc(request.ProcID, request.MatcherID, request.ActionProc); err != nil {
		return nil, failed(err)
	}

	return &SetActionProcResponse{}, nil
}

func (m *CfgService) SetNoTable(
	ctx context.Context,
	request *SetNoTableRequest,
) (*SetNoTableResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.SetNoTable(request.ProcID, request.MatcherID, request.NoTable); err != nil {
		return nil, failed(err)
	}

	return &SetNoTableResponse{}, nil
}

func (m *CfgService) SetMissActID(
	ctx context.Context,
	request *SetMissActIDRequest,
) (*SetMissActIDResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.SetMissActID(request.ProcID, request.MatcherID, request.MissActID); err != nil {
		return nil, failed(err)
	}

	return &SetMissActIDResponse{}, nil
}

func (m *CfgService) InsertSramEntry(
	ctx context.Context,
	request *InsertSramEntryRequest,
) (*InsertSramEntryResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.InsertSramEntry(request.ProcID, request.MatcherID, request.Key, request.Value); err != nil {
		return nil, failed(err)
	}

	return &InsertSramEntryResponse{}, nil
}

func (m *CfgService) InsertTcamEntry(
	ctx context.Context,
	request *InsertTcamEntryRequest,
) (*InsertTcamEntryResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	err = ppl.InsertTcamEntry(
		request.ProcID, request.MatcherID,
		request.Key, request.Mask, request.Value,
	)
	if err != nil {
		return nil, failed(err)
	}

	return &InsertTcamEntryResponse{}, nil
}

func (m *CfgService) ClearOldConfig(
	ctx context.Context,
	request *ClearOldConfigRequest,
) (*ClearOldConfigResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.ClearOldConfig(request.ProcID, request.MatcherID); err != nil {
		return nil, failed(err)
	}

	return &ClearOldConfigResponse{}, nil
}

func (m *CfgService) InsertAction(
	ctx context.Context,
	request *InsertActionRequest,
) (*InsertActionResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	paraLens := make([]int, 0, len(request.Action.ParaLens))
	for _, width := range request.Action.ParaLens {
		paraLens = append(paraLens, int(width))
	}
	action := &dataplane.Action{
		Primitives: request.Action.Primitives,
		ParaNum:    int(request.Action.ParaNum),
		ParaLens:   paraLens,
	}

	if err := ppl.InsertAction(request.ProcID, request.ActionID, action); err != nil {
		return nil, failed(err)
	}

	m.log.Infow("action installed",
		zap.Int32("proc_id", request.ProcID),
		zap.Int32("action_id", request.ActionID),
		zap.Int("primitives", len(action.Primitives)),
	)
	return &InsertActionResponse{}, nil
}

func (m *CfgService) DelAction(
	ctx context.Context,
	request *DelActionRequest,
) (*DelActionResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.DelAction(request.ProcID, request.ActionID); err != nil {
		return nil, failed(err)
	}

	return &DelActionResponse{}, nil
}

func (m *CfgService) ClearAction(
	ctx context.Context,
	request *ClearActionRequest,
) (*ClearActionResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.ClearAction(request.ProcID); err != nil {
		return nil, failed(err)
	}

	return &ClearActionResponse{}, nil
}

func (m *CfgService) LoadNeuronPrimitiveContext(
	ctx context.Context,
	request *LoadNeuronPrimitiveContextRequest,
) (*LoadNeuronPrimitiveContextResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	if err := ppl.Neurons().Upsert(request.Context); err != nil {
		return nil, failed(err)
	}

	return &LoadNeuronPrimitiveContextResponse{}, nil
}

func (m *CfgService) ClearNeuronPrimitiveContexts(
	ctx context.Context,
	request *ClearNeuronPrimitiveContextsRequest,
) (*ClearNeuronPrimitiveContextsResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	ppl.Neurons().Clear()
	return &ClearNeuronPrimitiveContextsResponse{}, nil
}

func (m *CfgService) LoadSigmoidTable(
	ctx context.Context,
	request *LoadSigmoidTableRequest,
) (*LoadSigmoidTableResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	minInput, maxInput, values, err := densifyPoints(request.Points)
	if err != nil {
		return nil, failed(err)
	}

	multiplier := request.InputMultiplier
	if multiplier == 0 {
		multiplier = 1
	}

	if err := ppl.Sigmoid().Load(minInput, maxInput, request.ValueBitwidth, multiplier, values); err != nil {
		return nil, failed(err)
	}

	m.log.Infow("sigmoid table loaded",
		zap.Int32("min_input", minInput),
		zap.Int32("max_input", maxInput),
		zap.Uint32("value_bitwidth", request.ValueBitwidth),
	)
	return &LoadSigmoidTableResponse{}, nil
}

func (m *CfgService) ClearSigmoidTable(
	ctx context.Context,
	request *ClearSigmoidTableRequest,
) (*ClearSigmoidTableResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	ppl.Sigmoid().Clear()
	return &ClearSigmoidTableResponse{}, nil
}

func (m *CfgService) LoadExpTable(
	ctx context.Context,
	request *LoadExpTableRequest,
) (*LoadExpTableResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	minInput, maxInput, values, err := densifyPoints(request.Points)
	if err != nil {
		return nil, failed(err)
	}

	multiplier := request.InputMultiplier
	if multiplier == 0 {
		multiplier = 1
	}

	err = ppl.ExpTable().Load(
		minInput, maxInput,
		request.ValueBitwidth, multiplier, request.ValueScale,
		values,
	)
	if err != nil {
		return nil, failed(err)
	}

	return &LoadExpTableResponse{}, nil
}

func (m *CfgService) ClearExpTable(
	ctx context.Context,
	request *ClearExpTableRequest,
) (*ClearExpTableResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	ppl.ExpTable().Clear()
	return &ClearExpTableResponse{}, nil
}

// densifyPoints checks that the sample inputs form a contiguous integer
// range and returns the densified value vector.
func densifyPoints(points []TablePoint) (int32, int32, []uint32, error) {
	if len(points) == 0 {
		return 0, 0, nil, fmt.Errorf("table requires at least one point")
	}

	pointMap := make(map[int32]uint32, len(points))
	minInput := points[0].Input
	maxInput := points[0].Input
	for _, pt := range points {
		if pt.Input < minInput {
			minInput = pt.Input
		}
		if pt.Input > maxInput {
			maxInput = pt.Input
		}
		pointMap[pt.Input] = pt.Value
	}

	values := make([]uint32, 0, int64(maxInput)-int64(minInput)+1)
	for key := minInput; ; key++ {
		value, ok := pointMap[key]
		if !ok {
			return 0, 0, nil, fmt.Errorf("missing entries between %d and %d", minInput, maxInput)
		}
		values = append(values, value)
		if key == maxInput {
			break
		}
	}

	return minInput, maxInput, values, nil
}

package transfer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/warmtransfer/config"
	"github.com/BaSui01/warmtransfer/internal/keylock"
	"github.com/BaSui01/warmtransfer/internal/telemetry"
	"github.com/BaSui01/warmtransfer/roomprovider"
	"github.com/BaSui01/warmtransfer/summary"
	"github.com/BaSui01/warmtransfer/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// =============================================================================
// 🔌 协作方接口
// =============================================================================

// Registry 是编排器对会话注册表的只读视图
type Registry interface {
	FindCaller(ctx context.Context, room string) (string, bool)
	IsCaller(ctx context.Context, room, identity string) bool
}

// Publisher 向房间发布事件，返回实时送达的订阅者数量。不得阻塞。
type Publisher interface {
	Publish(room string, ev types.Event) int
}

// Transcripts 提供房间对话记录
type Transcripts interface {
	List(ctx context.Context, room string) ([]types.Utterance, error)
	CopyTo(ctx context.Context, from, to string) error
}

// Metrics 编排器指标
type Metrics interface {
	RecordTransferTransition(from, to string)
	SetActiveTransfers(n int)
	RecordTransferStage(stage, result string, duration time.Duration)
	RecordSummary(source string, duration time.Duration)
	RecordCollaboratorCall(collaborator, operation string, err error)
}

type nopMetrics struct{}

func (nopMetrics) RecordTransferTransition(string, string)           {}
func (nopMetrics) SetActiveTransfers(int)                            {}
func (nopMetrics) RecordTransferStage(string, string, time.Duration) {}
func (nopMetrics) RecordSummary(string, time.Duration)               {}
func (nopMetrics) RecordCollaboratorCall(string, string, error)      {}

// Deps 编排器依赖。Registry、Summarizer、Provider、Relay、Transcripts 必填。
type Deps struct {
	Registry    Registry
	Summarizer  summary.Summarizer
	Provider    roomprovider.Provider
	Relay       Publisher
	Transcripts Transcripts
	Metrics     Metrics
}

// Option 配置选项
type Option func(*Orchestrator)

// WithRoomNamer 替换目标房间命名规则
func WithRoomNamer(namer types.RoomNamer) Option {
	return func(o *Orchestrator) {
		if namer != nil {
			o.namer = namer
		}
	}
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator 替换转接 ID 生成器
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// =============================================================================
// 🎯 Orchestrator
// =============================================================================

// InitiateRequest 发起转接请求
type InitiateRequest struct {
	SourceRoom       string `json:"sourceRoom"`
	SourceAgent      string `json:"sourceAgent"`
	DestinationAgent string `json:"destinationAgent"`
	// CallerIdentity 为空时从注册表解析房间内唯一的来电者
	CallerIdentity string `json:"callerIdentity,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// CompleteRequest 完成转接请求，非空字段必须与记录一致
type CompleteRequest struct {
	TransferID      string `json:"transferId"`
	SourceRoom      string `json:"sourceRoom,omitempty"`
	DestinationRoom string `json:"destinationRoom,omitempty"`
	CallerIdentity  string `json:"callerIdentity,omitempty"`
}

// Ack 完成确认，重复完成返回同一份确认
type Ack struct {
	TransferID      string               `json:"transferId"`
	Status          types.TransferStatus `json:"status"`
	DestinationRoom string               `json:"destinationRoom"`
	CompletedAt     time.Time            `json:"completedAt"`
}

// Stats 转接统计
type Stats struct {
	Total       int     `json:"totalTransfers"`
	Active      int     `json:"activeTransfers"`
	Completed   int     `json:"completedTransfers"`
	Failed      int     `json:"failedTransfers"`
	Cancelled   int     `json:"cancelledTransfers"`
	SuccessRate float64 `json:"successRate"`
}

// record 是单个转接的可变状态，由 mu 串行化
type record struct {
	mu     sync.Mutex
	t      *types.Transfer
	reason string
	ack    *Ack
	cancel context.CancelFunc
}

// Orchestrator 持有转接状态机：校验前置条件、生成摘要、签发目标房间凭证并推进状态。
// 每个源房间同一时刻至多一个未终结的转接。
type Orchestrator struct {
	cfg         config.TransferConfig
	registry    Registry
	summarizer  summary.Summarizer
	provider    roomprovider.Provider
	relay       Publisher
	transcripts Transcripts
	metrics     Metrics
	logger      *zap.Logger
	tracer      trace.Tracer
	instruments *telemetry.TransferInstruments

	namer types.RoomNamer
	now   func() time.Time
	newID func() string

	roomLocks keylock.Map
	mu        sync.RWMutex
	transfers map[string]*record
	// 源房间 -> 进行中的转接 ID
	active map[string]string
	// 源坐席 -> 进行中的转接数
	activeAgents map[string]int

	summaries *semaphore.Weighted
	wg        sync.WaitGroup
	baseCtx   context.Context
	stop      context.CancelFunc
	closed    atomic.Bool
}

// New 创建编排器
func New(cfg config.TransferConfig, deps Deps, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if deps.Registry == nil || deps.Summarizer == nil || deps.Provider == nil ||
		deps.Relay == nil || deps.Transcripts == nil {
		return nil, errors.New("transfer: registry, summarizer, provider, relay and transcripts are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = 10 * time.Second
	}
	if cfg.CredentialTimeout <= 0 {
		cfg.CredentialTimeout = 5 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.MaxConcurrentSummaries <= 0 {
		cfg.MaxConcurrentSummaries = 16
	}

	baseCtx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:          cfg,
		registry:     deps.Registry,
		summarizer:   deps.Summarizer,
		provider:     deps.Provider,
		relay:        deps.Relay,
		transcripts:  deps.Transcripts,
		metrics:      deps.Metrics,
		logger:       logger.With(zap.String("component", "transfer_orchestrator")),
		tracer:       telemetry.Tracer(),
		namer:        types.AgentRoomName,
		now:          time.Now,
		newID:        uuid.NewString,
		transfers:    make(map[string]*record),
		active:       make(map[string]string),
		activeAgents: make(map[string]int),
		summaries:    semaphore.NewWeighted(int64(cfg.MaxConcurrentSummaries)),
		baseCtx:      baseCtx,
		stop:         stop,
	}
	if inst, err := telemetry.NewTransferInstruments(); err != nil {
		o.logger.Warn("otel transfer instruments unavailable", zap.Error(err))
	} else {
		o.instruments = inst
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// DestinationRoom 返回坐席对应的目标房间名
func (o *Orchestrator) DestinationRoom(agent string) string {
	return o.namer(agent)
}

// Initiate 校验前置条件并创建 initiated 状态的转接，摘要与凭证在后台流水线中完成。
func (o *Orchestrator) Initiate(ctx context.Context, req InitiateRequest) (*types.Transfer, error) {
	if o.closed.Load() {
		return nil, types.NewError(types.ErrServiceUnavailable, "transfer orchestrator is shutting down")
	}
	if err := types.ValidateRoomName(req.SourceRoom); err != nil {
		return nil, err
	}
	if err := types.ValidateIdentity("sourceAgent", req.SourceAgent); err != nil {
		return nil, err
	}
	if err := types.ValidateIdentity("destinationAgent", req.DestinationAgent); err != nil {
		return nil, err
	}
	destRoom := o.namer(req.DestinationAgent)
	if err := types.ValidateRoomName(destRoom); err != nil {
		return nil, types.Errorf(types.ErrValidation, "destination agent %q does not map to a valid room", req.DestinationAgent)
	}
	if destRoom == req.SourceRoom {
		return nil, types.NewError(types.ErrValidation, "destination room must differ from source room")
	}

	unlock := o.roomLocks.Lock(req.SourceRoom)
	defer unlock()

	o.mu.RLock()
	existing, busy := o.active[req.SourceRoom]
	o.mu.RUnlock()
	if busy {
		return nil, types.Errorf(types.ErrConflict, "room %s already has active transfer %s", req.SourceRoom, existing)
	}

	caller := req.CallerIdentity
	if caller == "" {
		var ok bool
		if caller, ok = o.registry.FindCaller(ctx, req.SourceRoom); !ok {
			return nil, types.Errorf(types.ErrNoCallerFound, "no unambiguous caller in room %s", req.SourceRoom)
		}
	} else if !o.registry.IsCaller(ctx, req.SourceRoom, caller) {
		return nil, types.Errorf(types.ErrNoCallerFound, "caller %s is not in room %s", caller, req.SourceRoom)
	}

	now := o.now()
	t := &types.Transfer{
		ID:               o.newID(),
		SourceRoom:       req.SourceRoom,
		DestinationRoom:  destRoom,
		SourceAgent:      req.SourceAgent,
		DestinationAgent: req.DestinationAgent,
		CallerIdentity:   caller,
		Status:           types.TransferInitiated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	pipeCtx, cancel := context.WithCancel(o.baseCtx)
	rec := &record{t: t, reason: req.Reason, cancel: cancel}

	o.mu.Lock()
	if o.closed.Load() {
		o.mu.Unlock()
		cancel()
		return nil, types.NewError(types.ErrServiceUnavailable, "transfer orchestrator is shutting down")
	}
	o.transfers[t.ID] = rec
	o.active[t.SourceRoom] = t.ID
	o.activeAgents[t.SourceAgent]++
	activeCount := len(o.active)
	// 与 Shutdown 的 closed 标记在同一把锁下，Wait 开始后不会再有 Add
	o.wg.Add(1)
	o.mu.Unlock()

	o.metrics.RecordTransferTransition("", string(types.TransferInitiated))
	o.metrics.SetActiveTransfers(activeCount)
	o.logger.Info("transfer initiated",
		zap.String("transfer_id", t.ID),
		zap.String("source_room", t.SourceRoom),
		zap.String("destination_room", t.DestinationRoom),
		zap.String("caller", caller))

	snapshot := t.Clone()
	go o.runPipeline(pipeCtx, rec, snapshot)
	return snapshot, nil
}

// =============================================================================
// 🔍 查询
// =============================================================================

func (o *Orchestrator) lookup(id string) (*record, error) {
	o.mu.RLock()
	rec, ok := o.transfers[id]
	o.mu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "transfer %s not found", id)
	}
	return rec, nil
}

// GetStatus 返回转接快照
func (o *Orchestrator) GetStatus(_ context.Context, id string) (*types.Transfer, error) {
	rec, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.t.Clone(), nil
}

func (o *Orchestrator) records() []*record {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*record, 0, len(o.transfers))
	for _, rec := range o.transfers {
		out = append(out, rec)
	}
	return out
}

// ListActive 返回未终结的转接，按创建时间排序
func (o *Orchestrator) ListActive(_ context.Context) []*types.Transfer {
	var out []*types.Transfer
	for _, rec := range o.records() {
		rec.mu.Lock()
		if !rec.t.Status.IsTerminal() {
			out = append(out, rec.t.Clone())
		}
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats 返回保留期内的转接统计
func (o *Orchestrator) Stats(_ context.Context) Stats {
	var s Stats
	for _, rec := range o.records() {
		rec.mu.Lock()
		status := rec.t.Status
		rec.mu.Unlock()

		s.Total++
		switch status {
		case types.TransferCompleted:
			s.Completed++
		case types.TransferFailed:
			s.Failed++
		case types.TransferCancelled:
			s.Cancelled++
		default:
			s.Active++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Completed) / float64(s.Total) * 100
	}
	return s
}

// HasActiveTransfer 报告房间是否是进行中转接的源房间
func (o *Orchestrator) HasActiveTransfer(room string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.active[room]
	return ok
}

// HasActiveTransferFrom 报告坐席是否是进行中转接的发起方
func (o *Orchestrator) HasActiveTransferFrom(agent string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeAgents[agent] > 0
}

// =============================================================================
// 🔄 状态迁移
// =============================================================================

// transition 推进状态，调用方必须持有 rec.mu。进入终态时释放源房间占用。
func (o *Orchestrator) transition(rec *record, to types.TransferStatus, mutate func(t *types.Transfer)) error {
	from := rec.t.Status
	if !types.CanTransition(from, to) {
		return types.Errorf(types.ErrInvalidTransition, "transfer %s cannot move from %s to %s", rec.t.ID, from, to)
	}
	rec.t.Status = to
	rec.t.UpdatedAt = o.now()
	if mutate != nil {
		mutate(rec.t)
	}
	o.metrics.RecordTransferTransition(string(from), string(to))

	if to.IsTerminal() {
		o.instruments.RecordFinished(context.Background(), string(to), rec.t.UpdatedAt.Sub(rec.t.CreatedAt))
		o.release(rec.t)
		if rec.cancel != nil {
			rec.cancel()
		}
	}
	o.logger.Debug("transfer transition",
		zap.String("transfer_id", rec.t.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

func (o *Orchestrator) release(t *types.Transfer) {
	o.mu.Lock()
	if o.active[t.SourceRoom] == t.ID {
		delete(o.active, t.SourceRoom)
		if o.activeAgents[t.SourceAgent]--; o.activeAgents[t.SourceAgent] <= 0 {
			delete(o.activeAgents, t.SourceAgent)
		}
	}
	n := len(o.active)
	o.mu.Unlock()
	o.metrics.SetActiveTransfers(n)
}

package transfer

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/warmtransfer/internal/ctxkeys"
	"github.com/BaSui01/warmtransfer/summary"
	"github.com/BaSui01/warmtransfer/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// ⚙️ 后台流水线
// =============================================================================

// runPipeline 并行生成摘要与准备目标房间，随后签发来电者凭证并通知双方。
func (o *Orchestrator) runPipeline(ctx context.Context, rec *record, t *types.Transfer) {
	defer o.wg.Done()
	start := o.now()

	ctx = ctxkeys.WithTransferID(ctx, t.ID)
	ctx, span := o.tracer.Start(ctx, "transfer.pipeline")
	defer span.End()
	span.SetAttributes(
		attribute.String("transfer.id", t.ID),
		attribute.String("transfer.source_room", t.SourceRoom),
		attribute.String("transfer.destination_room", t.DestinationRoom),
	)
	logger := o.logger.With(ctxkeys.LogFields(ctx)...)

	var text string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		text = o.summarize(gctx, rec, t)
		return nil
	})
	g.Go(func() error {
		return o.prepareRoom(gctx, t.DestinationRoom)
	})
	roomErr := g.Wait()

	rec.mu.Lock()
	err := o.transition(rec, types.TransferSummaryReady, func(t *types.Transfer) { t.Summary = text })
	rec.mu.Unlock()
	if err != nil {
		// 流水线期间被取消或判定停滞
		logger.Info("pipeline stopped", zap.Error(err))
		o.metrics.RecordTransferStage("pipeline", "aborted", o.now().Sub(start))
		return
	}
	t.Summary = text

	if roomErr != nil {
		o.fail(rec, types.ErrExternalService, "destination room unavailable: "+roomErr.Error())
		span.RecordError(roomErr)
		span.SetStatus(codes.Error, "room setup failed")
		o.metrics.RecordTransferStage("pipeline", "failed", o.now().Sub(start))
		return
	}

	cred, err := o.issueCredential(ctx, t)
	if err != nil {
		o.fail(rec, types.ErrExternalService, "credential issuance failed: "+err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, "credential issuance failed")
		o.metrics.RecordTransferStage("pipeline", "failed", o.now().Sub(start))
		return
	}

	delivered := o.announce(rec, cred)
	span.SetAttributes(attribute.Int("transfer.delivered_to", delivered))
	o.metrics.RecordTransferStage("pipeline", "ok", o.now().Sub(start))
	logger.Info("transfer ready", zap.Int("delivered_to", delivered), zap.Duration("elapsed", o.now().Sub(start)))
}

// summarize 在超时内调用摘要服务，失败、超时或空文本时使用兜底摘要，返回值总是非空。
func (o *Orchestrator) summarize(ctx context.Context, rec *record, t *types.Transfer) string {
	start := o.now()
	ctx, span := o.tracer.Start(ctx, "transfer.summarize")
	defer span.End()

	transcript, err := o.transcripts.List(ctx, t.SourceRoom)
	if err != nil {
		o.logger.Warn("transcript unavailable", zap.String("transfer_id", t.ID), zap.Error(err))
		transcript = nil
	}
	tc := summary.Context{
		CallerIdentity:   t.CallerIdentity,
		SourceAgent:      t.SourceAgent,
		DestinationAgent: t.DestinationAgent,
		Reason:           rec.reason,
	}
	span.SetAttributes(attribute.Int("transcript.length", len(transcript)))

	fallback := func(cause error) string {
		o.logger.Warn("summary unavailable, using fallback",
			zap.String("transfer_id", t.ID), zap.Error(cause))
		span.SetAttributes(attribute.String("summary.source", "fallback"))
		o.metrics.RecordSummary("fallback", o.now().Sub(start))
		return summary.Fallback(transcript, tc)
	}

	sctx, cancel := context.WithTimeout(ctx, o.cfg.SummaryTimeout)
	defer cancel()

	if err := o.summaries.Acquire(sctx, 1); err != nil {
		return fallback(err)
	}
	defer o.summaries.Release(1)

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := o.summarizer.Summarize(sctx, transcript, tc)
		done <- result{text: text, err: err}
	}()

	// 摘要服务不理会 ctx 时也不能无限等待
	var res result
	select {
	case res = <-done:
	case <-sctx.Done():
		res = result{err: types.NewError(types.ErrTimeout, "summary timed out").WithCause(sctx.Err())}
	}
	o.metrics.RecordCollaboratorCall("summarizer", "summarize", res.err)
	if res.err != nil {
		return fallback(res.err)
	}
	text := strings.TrimSpace(res.text)
	if text == "" {
		return fallback(types.NewError(types.ErrExternalService, "summary is empty"))
	}
	span.SetAttributes(attribute.String("summary.source", "llm"))
	o.metrics.RecordSummary("llm", o.now().Sub(start))
	return text
}

func (o *Orchestrator) prepareRoom(ctx context.Context, room string) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CredentialTimeout)
	defer cancel()
	_, err := o.provider.CreateOrJoinRoom(ctx, room)
	o.metrics.RecordCollaboratorCall("room_provider", "create_room", err)
	return err
}

func (o *Orchestrator) issueCredential(ctx context.Context, t *types.Transfer) (*types.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CredentialTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "transfer.issue_credential")
	defer span.End()

	cred, err := o.provider.IssueAdmissionCredential(ctx, t.DestinationRoom, t.CallerIdentity, false)
	o.metrics.RecordCollaboratorCall("room_provider", "issue_credential", err)
	if err == nil && cred == nil {
		err = types.NewError(types.ErrExternalService, "room provider returned no credential")
	}
	return cred, err
}

// announce 发布 ready 与 incoming 事件；incoming 实时送达至少一个订阅者时进入 delivered。
// 持有 rec.mu 发布，保证完成操作不会插入到两次发布之间。
func (o *Orchestrator) announce(rec *record, cred *types.Credential) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	t := rec.t
	if t.Status != types.TransferSummaryReady {
		o.logger.Info("transfer changed before announcement",
			zap.String("transfer_id", t.ID), zap.String("status", string(t.Status)))
		return 0
	}
	t.DestinationCredential = cred

	o.relay.Publish(t.SourceRoom, types.ReadyEvent{
		ID:                    t.ID,
		DestinationRoom:       t.DestinationRoom,
		DestinationCredential: cred,
		Summary:               t.Summary,
	})
	delivered := o.relay.Publish(t.DestinationRoom, types.IncomingEvent{
		ID:              t.ID,
		DestinationRoom: t.DestinationRoom,
		Summary:         t.Summary,
		FromRoom:        t.SourceRoom,
	})
	if delivered > 0 {
		if err := o.transition(rec, types.TransferDelivered, nil); err != nil {
			o.logger.Warn("delivered transition rejected", zap.String("transfer_id", t.ID), zap.Error(err))
		}
	}
	return delivered
}

// fail 将转接置为失败并只通知源房间
func (o *Orchestrator) fail(rec *record, code types.ErrorCode, message string) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	o.failLocked(rec, code, message)
}

func (o *Orchestrator) failLocked(rec *record, code types.ErrorCode, message string) bool {
	reason := types.FailureReason{Code: code, Message: message}
	err := o.transition(rec, types.TransferFailed, func(t *types.Transfer) { t.Failure = &reason })
	if err != nil {
		o.logger.Debug("fail transition rejected", zap.String("transfer_id", rec.t.ID), zap.Error(err))
		return false
	}
	o.logger.Warn("transfer failed",
		zap.String("transfer_id", rec.t.ID),
		zap.String("code", string(code)),
		zap.String("reason", message))
	o.relay.Publish(rec.t.SourceRoom, types.FailedEvent{ID: rec.t.ID, Reason: reason})
	return true
}

// withTimeout 派生带超时的上下文，d <= 0 时不设超时
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

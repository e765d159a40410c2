package transfer

import (
	"context"
	"time"

	"github.com/BaSui01/warmtransfer/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// =============================================================================
// ✅ 完成与取消
// =============================================================================

// Complete 完成转接：移出源坐席并通知双方。只允许从 summary_ready 或 delivered 完成；
// 已完成的转接返回同一份确认，不重复执行拆除。
func (o *Orchestrator) Complete(ctx context.Context, req CompleteRequest) (*Ack, error) {
	rec, err := o.lookup(req.TransferID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	t := rec.t
	if err := matchRequest(t, req); err != nil {
		rec.mu.Unlock()
		return nil, err
	}
	if t.Status == types.TransferCompleted && rec.ack != nil {
		ack := *rec.ack
		rec.mu.Unlock()
		return &ack, nil
	}
	err = o.transition(rec, types.TransferCompleted, func(t *types.Transfer) {
		at := o.now()
		t.CompletedAt = &at
	})
	if err != nil {
		rec.mu.Unlock()
		return nil, err
	}
	rec.ack = &Ack{
		TransferID:      t.ID,
		Status:          types.TransferCompleted,
		DestinationRoom: t.DestinationRoom,
		CompletedAt:     *t.CompletedAt,
	}
	ack := *rec.ack
	snapshot := t.Clone()
	rec.mu.Unlock()

	o.teardown(ctx, snapshot)
	return &ack, nil
}

func matchRequest(t *types.Transfer, req CompleteRequest) error {
	switch {
	case req.SourceRoom != "" && req.SourceRoom != t.SourceRoom:
		return types.Errorf(types.ErrValidation, "source room %s does not match transfer %s", req.SourceRoom, t.ID)
	case req.DestinationRoom != "" && req.DestinationRoom != t.DestinationRoom:
		return types.Errorf(types.ErrValidation, "destination room %s does not match transfer %s", req.DestinationRoom, t.ID)
	case req.CallerIdentity != "" && req.CallerIdentity != t.CallerIdentity:
		return types.Errorf(types.ErrValidation, "caller %s does not match transfer %s", req.CallerIdentity, t.ID)
	}
	return nil
}

// teardown 在首次完成时执行一次：通知双方、移出源坐席、把对话记录带到目标房间
func (o *Orchestrator) teardown(ctx context.Context, t *types.Transfer) {
	ctx, span := o.tracer.Start(ctx, "transfer.teardown")
	defer span.End()
	span.SetAttributes(attribute.String("transfer.id", t.ID))

	o.relay.Publish(t.DestinationRoom, types.CompleteEvent{ID: t.ID})
	o.relay.Publish(t.SourceRoom, types.CompleteEvent{ID: t.ID})

	rctx, cancel := withTimeout(ctx, o.cfg.CredentialTimeout)
	err := o.provider.RemoveParticipant(rctx, t.SourceRoom, t.SourceAgent)
	cancel()
	o.metrics.RecordCollaboratorCall("room_provider", "remove_participant", err)
	if err != nil {
		span.RecordError(err)
		o.logger.Warn("source agent teardown failed",
			zap.String("transfer_id", t.ID),
			zap.String("room", t.SourceRoom),
			zap.String("agent", t.SourceAgent),
			zap.Error(err))
	}

	if err := o.transcripts.CopyTo(ctx, t.SourceRoom, t.DestinationRoom); err != nil {
		o.logger.Warn("transcript handoff failed", zap.String("transfer_id", t.ID), zap.Error(err))
	}

	o.logger.Info("transfer completed",
		zap.String("transfer_id", t.ID),
		zap.String("destination_room", t.DestinationRoom))
}

// Cancel 取消未终结的转接并释放源房间。重复取消返回当前记录。
func (o *Orchestrator) Cancel(_ context.Context, id, reason string) (*types.Transfer, error) {
	rec, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.t.Status == types.TransferCancelled {
		return rec.t.Clone(), nil
	}
	if reason == "" {
		reason = "cancelled by request"
	}
	failure := types.FailureReason{Code: types.ErrCancelled, Message: reason}
	if err := o.transition(rec, types.TransferCancelled, func(t *types.Transfer) { t.Failure = &failure }); err != nil {
		return nil, err
	}
	o.relay.Publish(rec.t.SourceRoom, types.FailedEvent{ID: rec.t.ID, Reason: failure})
	o.logger.Info("transfer cancelled", zap.String("transfer_id", id), zap.String("reason", reason))
	return rec.t.Clone(), nil
}

// =============================================================================
// 🧹 后台清理
// =============================================================================

// Run 周期性处理停滞转接并清理过期的终态记录，直到 ctx 取消
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.Sweep()
		}
	}
}

// Sweep 执行一轮清理，返回判定停滞与删除的数量
func (o *Orchestrator) Sweep() (stalled, purged int) {
	now := o.now()
	var expired []string

	for _, rec := range o.records() {
		rec.mu.Lock()
		status := rec.t.Status
		age := now.Sub(rec.t.UpdatedAt)

		if o.cfg.StallTimeout > 0 && age > o.cfg.StallTimeout &&
			(status == types.TransferSummaryReady || status == types.TransferDelivered) {
			if o.failLocked(rec, types.ErrTransferStalled, "transfer was not completed within "+o.cfg.StallTimeout.String()) {
				stalled++
			}
		} else if status.IsTerminal() && o.cfg.Retention > 0 && age > o.cfg.Retention {
			expired = append(expired, rec.t.ID)
		}
		rec.mu.Unlock()
	}

	if len(expired) > 0 {
		o.mu.Lock()
		for _, id := range expired {
			delete(o.transfers, id)
		}
		o.mu.Unlock()
		purged = len(expired)
	}
	if stalled > 0 || purged > 0 {
		o.logger.Info("transfer sweep", zap.Int("stalled", stalled), zap.Int("purged", purged))
	}
	return stalled, purged
}

// Shutdown 停止接受新转接并等待进行中的流水线；ctx 到期时中断剩余流水线
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed.Store(true)
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.stop()
		return nil
	case <-ctx.Done():
		o.stop()
		<-done
		return ctx.Err()
	}
}

package registry

import (
	"context"

	"github.com/BaSui01/warmtransfer/types"
)

// BusyChecker 判断房间或坐席是否有进行中的转接。
type BusyChecker interface {
	HasActiveTransfer(room string) bool
	HasActiveTransferFrom(agent string) bool
}

// Availability 组合注册表与转接状态，回答"哪些坐席空闲"。
type Availability struct {
	registry *Registry
	busy     BusyChecker
}

// NewAvailability 创建可用性查询
func NewAvailability(reg *Registry, busy BusyChecker) *Availability {
	return &Availability{registry: reg, busy: busy}
}

// isBusy 坐席是进行中转接的发起方，或会话房间正在转出来电
func (a *Availability) isBusy(s types.AgentSession) bool {
	if a.busy == nil {
		return false
	}
	return a.busy.HasActiveTransferFrom(s.Name) || a.busy.HasActiveTransfer(s.RoomName)
}

// AvailableAgents 返回空闲坐席名
func (a *Availability) AvailableAgents(ctx context.Context) ([]string, error) {
	return a.registry.AvailableAgents(ctx, a.isBusy)
}

// Snapshot 返回全部坐席会话及其可用状态
func (a *Availability) Snapshot(ctx context.Context) ([]types.AgentSession, error) {
	return a.registry.AgentSessions(ctx, a.isBusy)
}

package handlers

import (
	"context"
	"net/http"

	"github.com/BaSui01/warmtransfer/types"
	"go.uber.org/zap"
)

// AvailabilitySource 坐席可用性快照
type AvailabilitySource interface {
	AvailableAgents(ctx context.Context) ([]string, error)
	Snapshot(ctx context.Context) ([]types.AgentSession, error)
}

// AgentsHandler 坐席查询处理器
type AgentsHandler struct {
	availability AvailabilitySource
	logger       *zap.Logger
}

// AvailableAgentsResponse 空闲坐席列表
type AvailableAgentsResponse struct {
	Agents []string `json:"agents"`
}

// NewAgentsHandler 创建坐席处理器
func NewAgentsHandler(availability AvailabilitySource, logger *zap.Logger) *AgentsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentsHandler{
		availability: availability,
		logger:       logger.With(zap.String("handler", "agents")),
	}
}

// HandleAvailable 返回已连接且不是进行中转接发起方的坐席
// @Summary 空闲坐席
// @Tags agents
// @Produce json
// @Success 200 {object} Response{data=AvailableAgentsResponse}
// @Router /api/agents/available [get]
func (h *AgentsHandler) HandleAvailable(w http.ResponseWriter, r *http.Request) {
	agents, err := h.availability.AvailableAgents(r.Context())
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	if agents == nil {
		agents = []string{}
	}
	WriteSuccess(w, AvailableAgentsResponse{Agents: agents})
}

// HandleList 返回全部在线坐席会话
// @Summary 坐席会话
// @Tags agents
// @Produce json
// @Success 200 {object} Response{data=[]types.AgentSession}
// @Router /api/agents [get]
func (h *AgentsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.availability.Snapshot(r.Context())
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	if sessions == nil {
		sessions = []types.AgentSession{}
	}
	WriteSuccess(w, sessions)
}

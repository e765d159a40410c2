package types

import (
	"regexp"
	"strings"
	"time"
)

// TransferStatus 表示转接在生命周期中的阶段。
type TransferStatus string

const (
	TransferInitiated    TransferStatus = "initiated"
	TransferSummaryReady TransferStatus = "summary_ready"
	TransferDelivered    TransferStatus = "delivered"
	TransferCompleted    TransferStatus = "completed"
	TransferFailed       TransferStatus = "failed"
	TransferCancelled    TransferStatus = "cancelled"
)

// 正向推进顺序，终态不在其中。
var transferRank = map[TransferStatus]int{
	TransferInitiated:    0,
	TransferSummaryReady: 1,
	TransferDelivered:    2,
	TransferCompleted:    3,
}

// IsTerminal reports whether no further transition is possible.
func (s TransferStatus) IsTerminal() bool {
	return s == TransferCompleted || s == TransferFailed || s == TransferCancelled
}

// IsValid reports whether s is a known status.
func (s TransferStatus) IsValid() bool {
	switch s {
	case TransferInitiated, TransferSummaryReady, TransferDelivered,
		TransferCompleted, TransferFailed, TransferCancelled:
		return true
	}
	return false
}

// CanTransition 校验状态迁移：只允许向前推进，任意非终态可进入 failed/cancelled。
func CanTransition(from, to TransferStatus) bool {
	if from.IsTerminal() || !to.IsValid() {
		return false
	}
	if to == TransferFailed || to == TransferCancelled {
		return true
	}
	if to == TransferCompleted {
		// completed 需要目标坐席已拿到摘要
		return from == TransferSummaryReady || from == TransferDelivered
	}
	return transferRank[to] == transferRank[from]+1
}

// FailureReason 描述失败或取消的原因。
type FailureReason struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Credential 是房间提供方签发的准入凭证。
type Credential struct {
	Token     string    `json:"token"`
	URL       string    `json:"url,omitempty"`
	Room      string    `json:"room"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Transfer 是一次热转接的记录。
type Transfer struct {
	ID               string         `json:"id"`
	SourceRoom       string         `json:"sourceRoom"`
	DestinationRoom  string         `json:"destinationRoom"`
	SourceAgent      string         `json:"sourceAgent"`
	DestinationAgent string         `json:"destinationAgent"`
	CallerIdentity   string         `json:"callerIdentity"`
	Summary          string         `json:"summary,omitempty"`
	Status           TransferStatus `json:"status"`
	Failure          *FailureReason `json:"failure,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`

	// 仅推送给发起方房间，不出现在列表接口中
	DestinationCredential *Credential `json:"-"`
}

// Clone returns a copy safe to hand out of the owning component.
func (t *Transfer) Clone() *Transfer {
	if t == nil {
		return nil
	}
	c := *t
	if t.Failure != nil {
		f := *t.Failure
		c.Failure = &f
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	if t.DestinationCredential != nil {
		cred := *t.DestinationCredential
		c.DestinationCredential = &cred
	}
	return &c
}

// =============================================================================
// 房间命名
// =============================================================================

// RoomNamer 将坐席名映射为其房间名。
type RoomNamer func(agentName string) string

const agentRoomPrefix = "agent-room-"

var (
	roomNamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9_.:-]{0,126}[A-Za-z0-9])?$`)
	nonSlugChars    = regexp.MustCompile(`[^a-z0-9-]+`)
)

// AgentRoomName 默认命名规则：小写、按空白切分、去掉前导 "agent" 单词，
// 以 "-" 连接后加上 "agent-room-" 前缀。"Agent B" 和 "agent b" 都得到 "agent-room-b"。
func AgentRoomName(agentName string) string {
	fields := strings.Fields(strings.ToLower(agentName))
	if len(fields) > 1 && fields[0] == "agent" {
		fields = fields[1:]
	}
	slug := nonSlugChars.ReplaceAllString(strings.Join(fields, "-"), "")
	slug = strings.Trim(slug, "-")
	return agentRoomPrefix + slug
}

// IsAgentRoom reports whether room follows the agent room naming scheme.
func IsAgentRoom(room string) bool {
	return strings.HasPrefix(room, agentRoomPrefix) && len(room) > len(agentRoomPrefix)
}

// ValidateRoomName 检查房间名格式：字母数字开头和结尾，最长 128 字符。
func ValidateRoomName(room string) error {
	if !roomNamePattern.MatchString(room) {
		return Errorf(ErrValidation, "invalid room name %q", room)
	}
	return nil
}

// ValidateIdentity 检查参与者标识。
func ValidateIdentity(field, identity string) error {
	if strings.TrimSpace(identity) == "" {
		return Errorf(ErrValidation, "%s is required", field)
	}
	if len(identity) > 256 {
		return Errorf(ErrValidation, "%s is too long", field)
	}
	return nil
}

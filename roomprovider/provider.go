package roomprovider

import (
	"context"

	"github.com/BaSui01/warmtransfer/types"
)

// RoomHandle 描述一个已创建或已存在的房间
type RoomHandle struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	Created bool   `json:"created"`
}

// Provider 是实时媒体房间的外部提供方。
type Provider interface {
	// CreateOrJoinRoom 创建房间，已存在时视为成功
	CreateOrJoinRoom(ctx context.Context, name string) (*RoomHandle, error)
	// IssueAdmissionCredential 为 identity 签发房间准入凭证，坐席获得房间管理权限
	IssueAdmissionCredential(ctx context.Context, room, identity string, isAgent bool) (*types.Credential, error)
	// RemoveParticipant 将成员移出房间，成员不存在时视为成功
	RemoveParticipant(ctx context.Context, room, identity string) error
}

// EventSink 接收提供方上报的成员进出事件，由会话注册表实现。
type EventSink interface {
	OnParticipantJoined(ctx context.Context, room, identity string, isAgent bool) error
	OnParticipantLeft(ctx context.Context, room, identity string) error
}

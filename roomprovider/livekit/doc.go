// Package livekit 对接 LiveKit 服务端：经 server-sdk-go 的 RoomService 客户端创建房间与
// 移出成员，用 protocol/auth 签发访问令牌，webhook 经 protocol/webhook 校验后把成员进出
// 事件转交给注册表。
package livekit

/*
Package roomprovider 定义实时媒体房间提供方的抽象。

Provider 负责创建房间、签发准入凭证与移出成员；EventSink 接收提供方上报的
成员进出事件。TokenSigner 签发 LiveKit 兼容的 HS256 访问令牌，坐席令牌带
roomAdmin 权限，metadata 中的 is_agent 标记用于回调时识别坐席。

LocalProvider 在进程内模拟房间，签发凭证即视为加入；子包 livekit 对接真实的
LiveKit 服务端与 webhook。
*/
package roomprovider

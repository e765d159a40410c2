package types

import "time"

// Participant 是房间中的一个成员。
type Participant struct {
	Identity string    `json:"identity"`
	IsAgent  bool      `json:"isAgent"`
	JoinedAt time.Time `json:"joinedAt"`
}

// AgentSession 表示一个在线坐席。坐席加入房间时创建，离开时销毁。
type AgentSession struct {
	Name           string    `json:"name"`
	RoomName       string    `json:"roomName"`
	ConnectedSince time.Time `json:"connectedSince"`
	Available      bool      `json:"available"`
}

// Utterance 是对话记录中的一条发言。
type Utterance struct {
	Speaker   string    `json:"speaker"`
	Message   string    `json:"message"`
	IsAgent   bool      `json:"isAgent"`
	Timestamp time.Time `json:"timestamp"`
}

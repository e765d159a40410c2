// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供热转接服务的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 transfer、registry、relay、
api 等上层模块提供统一的类型契约。

# 核心类型

  - Transfer / TransferStatus: 转接记录与单调推进的状态机（CanTransition）
  - Event: 封闭的推送事件集合（Incoming / Ready / Complete / Failed）
  - Credential: 房间准入凭证
  - AgentSession / Participant / Utterance: 会话与对话记录
  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - RoomNamer / AgentRoomName: 坐席名到房间名的映射
*/
package types

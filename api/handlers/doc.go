// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供热转接服务 HTTP API 的请求处理器实现。

# 概述

handlers 包实现了所有 HTTP 端点的请求处理逻辑，包括转接编排、坐席可用性、
房间与凭证、事件推送与轮询、摘要、电话外呼以及健康检查。
所有 Handler 均遵循标准 net/http 接口，路由由 Set.Register 统一注册。

# 核心类型

  - TransferHandler: 发起、完成、取消、查询与调试转接
  - AgentsHandler: 空闲坐席与坐席会话快照
  - RoomsHandler: 房间创建、准入凭证、对话记录追加
  - EventsHandler: WebSocket 推送（/ws/{room}）与事件轮询
  - SummaryHandler: 按需摘要，失败时返回规则摘要
  - TelephonyHandler: Twilio 外呼与 TwiML 回调
  - HealthHandler: 服务健康检查（/health, /healthz, /ready）
  - Response: 统一 JSON 响应结构（success + data + error + timestamp）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteErr / WriteJSON
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码映射，上游状态码不外泄
  - 推送与轮询共用房间事件日志，since 游标补齐断线期间的事件
*/
package handlers

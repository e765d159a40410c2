// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 WarmTransfer 服务端程序入口。

# 概述

cmd/warmtransfer 装配转接编排器、会话注册表、通知中继与可用性查询，
对外提供 HTTP API 与 WebSocket 推送，并提供健康检查和版本查询子命令。
配置来自 YAML 文件与 WARMTRANSFER_ 前缀的环境变量。

# 核心类型

  - Server: 组件装配，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware: HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter: 捕获状态码，透传 Hijack 以支持 WebSocket 升级

# 主要能力

  - 子命令：serve、version、health
  - 协作方选择：LiveKit 未配置时使用本地房间提供方；Redis 未配置时对话记录存内存；
    Twilio 未配置时外呼接口返回 501
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、OTelTracing、
    CORS、RateLimiter（基于 IP）、APIKeyAuth、MetricsMiddleware
  - 优雅关闭：信号监听 → 关闭 HTTP → 排空转接 → 断开订阅者 → 关闭存储与遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main

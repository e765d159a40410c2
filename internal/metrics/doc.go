// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、转接编排、摘要生成、通知中继与外部协作方五个维度。

# 概述

Collector 统一注册和记录 Prometheus 指标，默认使用 promauto 注册到
全局 Registry，也可通过 NewCollectorWithRegisterer 注入独立 Registry。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 转接指标：状态迁移计数、进行中转接数 Gauge、流水线阶段耗时。
  - 摘要指标：按 llm/fallback 来源计数与耗时、对话记录截断次数。
  - 中继指标：发布、实时投递与丢弃计数，在线订阅者 Gauge。
  - 协作方指标：房间提供方、摘要服务、电话网关调用结果。
*/
package metrics

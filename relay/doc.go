// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 relay 提供按房间分发转接事件的通知中继。

# 概述

Hub 为每个房间维护一个有界事件日志（环形缓冲，Seq 单调递增）与订阅者集合。
Publish 永不阻塞：订阅者缓冲区满时丢弃该订阅者的这条事件并计数，
客户端凭 Seq 游标通过 Since 或 SubscribeSince 补齐。推送（WebSocket）
与轮询读取同一份日志，投递语义为至少一次，客户端需按 transferId 幂等处理。

# 核心类型

  - Hub：房间日志与订阅者管理。
  - Subscription：已连接的推送通道，Close 后断开。
  - Entry：日志记录，JSON 编码为事件线格式附加 seq 字段。
*/
package relay

// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 transfer 实现热转接编排器，持有转接状态机。

# 概述

Orchestrator 校验发起条件后立即返回 initiated 状态的转接，后台流水线
并行生成摘要与准备目标房间：摘要失败、超时或为空时使用确定性的兜底摘要，
随后进入 summary_ready 并为来电者签发目标房间凭证。凭证签发失败则转接
失败，仅通知源房间。ready 事件发往源房间，incoming 事件发往目标房间，
incoming 实时送达时转接进入 delivered。

# 并发模型

  - 每个源房间一把锁，串行化发起与"进行中"标记，同一房间至多一个未终结转接
  - 每个转接一把锁，串行化状态迁移，完成操作幂等且只拆除一次
  - 摘要并发数由信号量限制，外部调用都有超时

# 生命周期

Run 周期性清理：超过 StallTimeout 仍未完成的转接判定为停滞失败（0 表示关闭），
超过 Retention 的终态记录被删除。Shutdown 停止接受新转接并等待流水线结束。
*/
package transfer

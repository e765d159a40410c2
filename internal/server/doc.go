// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理服务的监听端口。

API 端口与 Prometheus 指标端口各持有一个 Manager：Start 绑定端口后在
后台服务，Shutdown 在超时内排空请求。WaitForSignal 等待 SIGINT/SIGTERM
或任一端口异常退出，之后由调用方按顺序关闭转接流水线与推送通道。
*/
package server

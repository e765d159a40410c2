// Package config 提供热转接服务的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（前缀 WARMTRANSFER_）的顺序加载，
// 覆盖 HTTP 服务、转接编排超时、通知中继、摘要生成、LiveKit、Twilio、
// Redis、日志与遥测。
package config

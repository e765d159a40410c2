// Package telephony 通过 Twilio 发起电话外呼，把被叫接入指定房间。
// 外呼独立于转接状态机，未配置 Twilio 时 HTTP 层返回 501。
package telephony

// Package transcript 保存每个房间的对话记录，供转接摘要与调试视图读取。
//
// MemoryStore 用于单实例部署与测试；RedisStore 以 list 保存发言，
// 每次写入裁剪到上限并刷新过期时间。
package transcript

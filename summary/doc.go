/*
Package summary 为热转接生成交接摘要。

Summarizer 是外部摘要服务的抽象；OpenAISummarizer 调用 OpenAI 兼容的
chat completions 接口，提示词中的对话记录按 TokenBudget 裁剪到模型预算内，
只保留最近的发言。Fallback 在摘要服务不可用、超时或返回空文本时生成确定性的
本地摘要，保证转接总能携带非空摘要。
*/
package summary

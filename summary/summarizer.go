package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/warmtransfer/types"
)

// Context 是生成摘要时附带的转接上下文。
type Context struct {
	CallerIdentity   string `json:"caller_identity,omitempty"`
	SourceAgent      string `json:"source_agent,omitempty"`
	DestinationAgent string `json:"destination_agent,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// Summarizer 根据对话记录生成交接摘要。
// 实现可能较慢或失败，调用方负责超时与降级。
type Summarizer interface {
	Summarize(ctx context.Context, transcript []types.Utterance, tc Context) (string, error)
}

// SummarizerFunc 将普通函数适配为 Summarizer
type SummarizerFunc func(ctx context.Context, transcript []types.Utterance, tc Context) (string, error)

// Summarize 实现 Summarizer
func (f SummarizerFunc) Summarize(ctx context.Context, transcript []types.Utterance, tc Context) (string, error) {
	return f(ctx, transcript, tc)
}

// FallbackSummarizer 始终返回确定性的本地摘要，用于未配置外部摘要服务时。
type FallbackSummarizer struct{}

// Summarize 实现 Summarizer
func (FallbackSummarizer) Summarize(_ context.Context, transcript []types.Utterance, tc Context) (string, error) {
	return Fallback(transcript, tc), nil
}

// =============================================================================
// 🧩 降级摘要
// =============================================================================

const fallbackSnippetLen = 100

// Fallback 生成确定性的非空摘要：参与方、来电者首句、坐席末句与消息总数。
func Fallback(transcript []types.Utterance, tc Context) string {
	parts := make([]string, 0, 4)
	if header := fallbackHeader(tc); header != "" {
		parts = append(parts, header)
	}

	if len(transcript) == 0 {
		parts = append(parts, "No conversation history available.")
		return strings.Join(parts, " | ")
	}

	var firstCaller, lastAgent string
	for _, u := range transcript {
		if u.IsAgent {
			lastAgent = u.Message
			continue
		}
		if firstCaller == "" {
			firstCaller = u.Message
		}
	}
	if firstCaller != "" {
		parts = append(parts, fmt.Sprintf("Caller's main concern: %s...", snippet(firstCaller)))
	}
	if lastAgent != "" {
		parts = append(parts, fmt.Sprintf("Agent's last response: %s...", snippet(lastAgent)))
	}
	parts = append(parts, fmt.Sprintf("Total messages exchanged: %d", len(transcript)))
	return strings.Join(parts, " | ")
}

func fallbackHeader(tc Context) string {
	var b strings.Builder
	if tc.SourceAgent != "" || tc.DestinationAgent != "" {
		b.WriteString("Transfer")
		if tc.SourceAgent != "" {
			b.WriteString(" from " + tc.SourceAgent)
		}
		if tc.DestinationAgent != "" {
			b.WriteString(" to " + tc.DestinationAgent)
		}
	}
	if tc.CallerIdentity != "" {
		if b.Len() == 0 {
			b.WriteString("Transfer")
		}
		b.WriteString(" for caller " + tc.CallerIdentity)
	}
	return b.String()
}

// snippet 按 rune 截断，避免切断多字节字符
func snippet(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > fallbackSnippetLen {
		return string(r[:fallbackSnippetLen])
	}
	return s
}

// TransferMessage 生成交给接收坐席的转接说明
func TransferMessage(toAgent, summary string) string {
	return fmt.Sprintf("Warm Transfer Summary for %s:\n\n%s\n\n"+
		"Please continue assisting the caller with this information. "+
		"The previous agent has provided this context to ensure a smooth handoff.", toAgent, summary)
}

package summary

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/BaSui01/warmtransfer/types"
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 计算文本的 token 数
type TokenCounter interface {
	CountTokens(text string) (int, error)
}

// =============================================================================
// 🔢 tiktoken 计数
// =============================================================================

// 模型名称到 tiktoken 编码的映射
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// TiktokenCounter 使用 tiktoken 精确计数，编码表在首次使用时加载。
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// NewTiktokenCounter 按模型选择编码，未知模型前缀匹配，仍未命中时使用 cl100k_base
func NewTiktokenCounter(model string) *TiktokenCounter {
	encoding, ok := modelEncodings[model]
	if !ok {
		encoding = "cl100k_base"
		best := 0
		for prefix, e := range modelEncodings {
			if strings.HasPrefix(model, prefix) && len(prefix) > best {
				encoding, best = e, len(prefix)
			}
		}
	}
	return &TiktokenCounter{encoding: encoding}
}

func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("failed to load tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Encoding 返回使用的编码名
func (t *TiktokenCounter) Encoding() string { return t.encoding }

// CountTokens 实现 TokenCounter
func (t *TiktokenCounter) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// =============================================================================
// 📏 估算计数
// =============================================================================

// EstimatorCounter 按字符估算 token：CJK 约 1.5 字符一个，其他约 4 字符一个。
type EstimatorCounter struct{}

// CountTokens 实现 TokenCounter
func (EstimatorCounter) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	var cjk, other int
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else {
			other++
		}
	}
	n := int(float64(cjk)/1.5 + float64(other)/4)
	if n < 1 {
		n = 1
	}
	return n, nil
}

// fallbackCounter 优先 tiktoken，加载失败后退回估算
type fallbackCounter struct {
	primary  TokenCounter
	fallback TokenCounter
}

func (c fallbackCounter) CountTokens(text string) (int, error) {
	if n, err := c.primary.CountTokens(text); err == nil {
		return n, nil
	}
	return c.fallback.CountTokens(text)
}

// NewModelCounter 返回模型对应的计数器，tiktoken 不可用时自动估算
func NewModelCounter(model string) TokenCounter {
	return fallbackCounter{primary: NewTiktokenCounter(model), fallback: EstimatorCounter{}}
}

// =============================================================================
// ✂️ 提示词预算
// =============================================================================

// perUtteranceOverhead 每条发言在提示词中的格式开销（说话人、时间戳、换行）
const perUtteranceOverhead = 8

// TokenBudget 将对话记录裁剪到提示词 token 预算内，保留最近的发言。
type TokenBudget struct {
	Counter   TokenCounter
	MaxTokens int
}

// Trim 返回预算内的最近发言以及是否发生了裁剪。MaxTokens <= 0 表示不限制。
func (b TokenBudget) Trim(transcript []types.Utterance) ([]types.Utterance, bool) {
	if b.MaxTokens <= 0 || len(transcript) == 0 {
		return transcript, false
	}
	counter := b.Counter
	if counter == nil {
		counter = EstimatorCounter{}
	}

	used := 0
	start := len(transcript)
	for i := len(transcript) - 1; i >= 0; i-- {
		n := countUtterance(counter, transcript[i])
		if used+n > b.MaxTokens {
			break
		}
		used += n
		start = i
	}
	if start == len(transcript) {
		// 最新一条发言单独超出预算时截断其内容，至少保留这一条
		last := transcript[len(transcript)-1]
		last.Message = b.truncateMessage(counter, last)
		return []types.Utterance{last}, true
	}
	return transcript[start:], start > 0
}

func countUtterance(counter TokenCounter, u types.Utterance) int {
	text := u.Speaker + ": " + u.Message
	n, err := counter.CountTokens(text)
	if err != nil {
		n, _ = EstimatorCounter{}.CountTokens(text)
	}
	return n + perUtteranceOverhead
}

// truncateMessage 二分查找预算内最长的消息前缀（按 rune），至少保留一个字符
func (b TokenBudget) truncateMessage(counter TokenCounter, u types.Utterance) string {
	runes := []rune(u.Message)
	lo, hi := 1, len(runes)
	best := 1
	for lo <= hi {
		mid := (lo + hi) / 2
		u.Message = string(runes[:mid])
		if countUtterance(counter, u) <= b.MaxTokens {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best > len(runes) {
		return u.Message
	}
	return string(runes[:best])
}

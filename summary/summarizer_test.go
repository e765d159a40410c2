package summary

import (
	"context"
	"strings"
	"testing"

	"github.com/BaSui01/warmtransfer/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func conversation() []types.Utterance {
	return []types.Utterance{
		{Speaker: "caller", Message: "My card was charged twice for the same order"},
		{Speaker: "Agent A", Message: "Let me check that for you", IsAgent: true},
		{Speaker: "caller", Message: "Thanks"},
		{Speaker: "Agent A", Message: "I see two charges, transferring you to billing", IsAgent: true},
	}
}

func TestFallback_Format(t *testing.T) {
	got := Fallback(conversation(), Context{CallerIdentity: "caller-1", SourceAgent: "Agent A", DestinationAgent: "Agent B"})

	assert.Equal(t,
		"Transfer from Agent A to Agent B for caller caller-1"+
			" | Caller's main concern: My card was charged twice for the same order..."+
			" | Agent's last response: I see two charges, transferring you to billing..."+
			" | Total messages exchanged: 4",
		got)
}

func TestFallback_EmptyTranscript(t *testing.T) {
	assert.Equal(t, "No conversation history available.", Fallback(nil, Context{}))
	assert.Equal(t, "Transfer for caller c | No conversation history available.",
		Fallback(nil, Context{CallerIdentity: "c"}))
}

func TestFallback_TruncatesByRune(t *testing.T) {
	long := strings.Repeat("账", 150)
	got := Fallback([]types.Utterance{{Speaker: "caller", Message: long}}, Context{})
	assert.Contains(t, got, "Caller's main concern: "+strings.Repeat("账", 100)+"...")
	assert.NotContains(t, got, strings.Repeat("账", 101))
}

func TestFallback_DeterministicAndNonEmpty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "n")
		transcript := make([]types.Utterance, n)
		for i := range transcript {
			transcript[i] = types.Utterance{
				Speaker: rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "speaker"),
				Message: rapid.String().Draw(t, "message"),
				IsAgent: rapid.Bool().Draw(t, "agent"),
			}
		}
		tc := Context{
			CallerIdentity:   rapid.StringMatching(`[a-z0-9]{0,6}`).Draw(t, "caller"),
			SourceAgent:      rapid.StringMatching(`[A-Za-z ]{0,8}`).Draw(t, "src"),
			DestinationAgent: rapid.StringMatching(`[A-Za-z ]{0,8}`).Draw(t, "dst"),
		}

		a := Fallback(transcript, tc)
		b := Fallback(transcript, tc)
		if a != b {
			t.Fatalf("fallback not deterministic: %q vs %q", a, b)
		}
		if strings.TrimSpace(a) == "" {
			t.Fatalf("fallback is empty")
		}
	})
}

func TestFallbackSummarizer(t *testing.T) {
	var s Summarizer = FallbackSummarizer{}
	got, err := s.Summarize(context.Background(), conversation(), Context{})
	require.NoError(t, err)
	assert.Equal(t, Fallback(conversation(), Context{}), got)
}

func TestSummarizerFunc(t *testing.T) {
	var s Summarizer = SummarizerFunc(func(_ context.Context, tr []types.Utterance, tc Context) (string, error) {
		return tc.DestinationAgent + ":" + tr[0].Speaker, nil
	})
	got, err := s.Summarize(context.Background(), conversation(), Context{DestinationAgent: "B"})
	require.NoError(t, err)
	assert.Equal(t, "B:caller", got)
}

func TestTransferMessage(t *testing.T) {
	msg := TransferMessage("Agent B", "Caller was double charged.")
	assert.True(t, strings.HasPrefix(msg, "Warm Transfer Summary for Agent B:\n\nCaller was double charged.\n\n"))
	assert.Contains(t, msg, "Please continue assisting the caller")
}

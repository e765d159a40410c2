package transfer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/warmtransfer/config"
	"github.com/BaSui01/warmtransfer/registry"
	"github.com/BaSui01/warmtransfer/relay"
	"github.com/BaSui01/warmtransfer/roomprovider"
	"github.com/BaSui01/warmtransfer/summary"
	"github.com/BaSui01/warmtransfer/transcript"
	"github.com/BaSui01/warmtransfer/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 测试替身
// =============================================================================

type fakeProvider struct {
	mu          sync.Mutex
	createErr   error
	issueErr    error
	removeErr   error
	issueDelay  time.Duration
	created     []string
	issued      []string
	removed     []string
	removeCalls atomic.Int32
}

func (p *fakeProvider) CreateOrJoinRoom(_ context.Context, name string) (*roomprovider.RoomHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.created = append(p.created, name)
	return &roomprovider.RoomHandle{Name: name, Created: true}, nil
}

func (p *fakeProvider) IssueAdmissionCredential(ctx context.Context, room, identity string, isAgent bool) (*types.Credential, error) {
	if p.issueDelay > 0 {
		select {
		case <-time.After(p.issueDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.issueErr != nil {
		return nil, p.issueErr
	}
	p.issued = append(p.issued, room+"/"+identity)
	return &types.Credential{Token: "tok-" + identity, Room: room, Identity: identity, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (p *fakeProvider) RemoveParticipant(_ context.Context, room, identity string) error {
	p.removeCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, room+"/"+identity)
	return p.removeErr
}

func (p *fakeProvider) issuedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.issued)
}

// gate 阻塞摘要直到 release，用于让转接停留在 initiated
type gate struct {
	ch   chan struct{}
	once sync.Once
}

func newGate() *gate { return &gate{ch: make(chan struct{})} }

func (g *gate) release() { g.once.Do(func() { close(g.ch) }) }

func (g *gate) summarizer(text string) summary.Summarizer {
	return summary.SummarizerFunc(func(ctx context.Context, _ []types.Utterance, _ summary.Context) (string, error) {
		select {
		case <-g.ch:
			return text, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
}

func staticSummarizer(text string, err error) summary.Summarizer {
	return summary.SummarizerFunc(func(context.Context, []types.Utterance, summary.Context) (string, error) {
		return text, err
	})
}

var errSummary = errors.New("summarizer down")

// =============================================================================
// 🧰 测试装置
// =============================================================================

type harness struct {
	orch        *Orchestrator
	registry    *registry.Registry
	hub         *relay.Hub
	provider    *fakeProvider
	transcripts *transcript.MemoryStore
}

type harnessOption func(*config.TransferConfig, *Deps, *[]Option)

func withSummarizer(s summary.Summarizer) harnessOption {
	return func(_ *config.TransferConfig, d *Deps, _ *[]Option) { d.Summarizer = s }
}

func withConfig(fn func(*config.TransferConfig)) harnessOption {
	return func(c *config.TransferConfig, _ *Deps, _ *[]Option) { fn(c) }
}

func withOptions(opts ...Option) harnessOption {
	return func(_ *config.TransferConfig, _ *Deps, o *[]Option) { *o = append(*o, opts...) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		registry:    registry.New(zap.NewNop()),
		hub:         relay.NewHub(relay.Options{}),
		provider:    &fakeProvider{},
		transcripts: transcript.NewMemoryStore(0),
	}
	cfg := config.TransferConfig{
		SummaryTimeout:    time.Second,
		CredentialTimeout: time.Second,
		Retention:         time.Hour,
		SweepInterval:     time.Minute,
	}
	deps := Deps{
		Registry:    h.registry,
		Summarizer:  staticSummarizer("Caller john needs help with a double charge.", nil),
		Provider:    h.provider,
		Relay:       h.hub,
		Transcripts: h.transcripts,
	}
	var orchOpts []Option
	for _, opt := range opts {
		opt(&cfg, &deps, &orchOpts)
	}

	orch, err := New(cfg, deps, zap.NewNop(), orchOpts...)
	require.NoError(t, err)
	h.orch = orch
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
		h.hub.Close()
	})
	return h
}

// seedRoom 让坐席与来电者加入房间，并写入一段对话
func (h *harness) seedRoom(t *testing.T, room, agent, caller string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.registry.OnParticipantJoined(ctx, room, agent, true))
	if caller != "" {
		require.NoError(t, h.registry.OnParticipantJoined(ctx, room, caller, false))
		require.NoError(t, h.transcripts.Append(ctx, room, types.Utterance{Speaker: caller, Message: "I was charged twice"}))
	}
	require.NoError(t, h.transcripts.Append(ctx, room, types.Utterance{Speaker: agent, Message: "Let me transfer you to billing", IsAgent: true}))
}

func (h *harness) waitStatus(t *testing.T, id string, want types.TransferStatus) *types.Transfer {
	t.Helper()
	var got *types.Transfer
	require.Eventually(t, func() bool {
		tr, err := h.orch.GetStatus(context.Background(), id)
		if err != nil {
			return false
		}
		got = tr
		return tr.Status == want
	}, 2*time.Second, 5*time.Millisecond, "transfer %s never reached %s", id, want)
	return got
}

func eventsOf(h *harness, room string) []types.Event {
	entries, _ := h.hub.Since(room, 0)
	out := make([]types.Event, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Event)
	}
	return out
}

func initiateReq() InitiateRequest {
	return InitiateRequest{
		SourceRoom:       "agent-room-a",
		SourceAgent:      "Agent A",
		DestinationAgent: "Agent B",
		CallerIdentity:   "john",
	}
}

// waitAnnounced 等待凭证签发并完成事件发布
func (h *harness) waitAnnounced(t *testing.T, id string) *types.Transfer {
	t.Helper()
	var got *types.Transfer
	require.Eventually(t, func() bool {
		tr, err := h.orch.GetStatus(context.Background(), id)
		if err != nil {
			return false
		}
		got = tr
		return tr.DestinationCredential != nil
	}, 2*time.Second, 5*time.Millisecond, "transfer %s was never announced", id)
	return got
}

package transfer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/warmtransfer/config"
	"github.com/BaSui01/warmtransfer/summary"
	"github.com/BaSui01/warmtransfer/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(config.TransferConfig{}, Deps{}, zap.NewNop())
	assert.Error(t, err)
}

// =============================================================================
// 🧪 发起
// =============================================================================

func TestInitiate_ReachesSummaryReady(t *testing.T) {
	h := newHarness(t)
	h.seedRoom(t, "agent-room-a", "Agent A", "john")

	tr, err := h.orch.Initiate(context.Background(), initiateReq())
	require.NoError(t, err)
	assert.Equal(t, types.TransferInitiated, tr.Status)
	assert.Equal(t, "agent-room-b", tr.DestinationRoom)
	assert.Equal(t, "john", tr.CallerIdentity)
	assert.NotEmpty(t, tr.ID)
	assert.Empty(t, tr.Summary)

	got := h.waitAnnounced(t, tr.ID)
	assert.Equal(t, types.TransferSummaryReady, got.Status)
	assert.Equal(t, "Caller john needs help with a double charge.", got.Summary)
	require.NotNil(t, got.DestinationCredential)
	assert.Equal(t, "john", got.DestinationCredential.Identity)
	assert.Equal(t, []string{"agent-room-b/john"}, h.provider.issued)
	assert.True(t, h.orch.HasActiveTransfer("agent-room-a"))
	assert.True(t, h.orch.HasActiveTransferFrom("Agent A"))
	assert.False(t, h.orch.HasActiveTransferFrom("Agent B"))

	src := eventsOf(h, "agent-room-a")
	require.Len(t, src, 1)
	ready, ok := src[0].(types.ReadyEvent)
	require.True(t, ok)
	assert.Equal(t, "agent-room-b", ready.DestinationRoom)
	assert.Equal(t, "tok-john", ready.DestinationCredential.Token)

	dst := eventsOf(h, "agent-room-b")
	require.Len(t, dst, 1)
	incoming, ok := dst[0].(types.IncomingEvent)
	require.True(t, ok)
	assert.Equal(t, got.Summary, incoming.Summary)
	assert.Equal(t, "agent-room-a", incoming.FromRoom)
	assert.Equal(t, "agent-room-b", incoming.DestinationRoom)
}

func TestInitiate_DeliveredWithLiveSubscriber(t *testing.T) {
	h := newHarness(t)
	h.seedRoom(t, "agent-room-a", "Agent A", "john")
	sub := h.hub.Subscribe("agent-room-b")
	defer sub.Close()

	tr, err := h.orch.Initiate(context.Background(), initiateReq())
	require.NoError(t, err)
	h.waitStatus(t, tr.ID, types.TransferDelivered)

	select {
	case entry := <-sub.C():
		ev, ok := entry.Event.(types.IncomingEvent)
		require.True(t, ok)
		assert.Equal(t, tr.ID, ev.ID)
		assert.NotEmpty(t, ev.Summary)
	case <-time.After(time.Second):
		t.Fatal("incoming event not pushed")
	}
}

func TestInitiate_ResolvesCaller(t *testing.T) {
	h := newHarness(t)
	h.seedRoom(t, "agent-room-a", "Agent A", "john")

	req := initiateReq()
	req.CallerIdentity = ""
	tr, err := h.orch.Initiate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "john", tr.CallerIdentity)
}

func TestInitiate_NoCaller(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		setup  func(h *harness)
		caller string
	}{
		{name: "empty room", setup: func(h *harness) {}},
		{name: "only agent", setup: func(h *harness) {
			_ = h.registry.OnParticipantJoined(ctx, "agent-room-a", "Agent A", true)
		}},
		{name: "ambiguous", setup: func(h *harness) {
			_ = h.registry.OnParticipantJoined(ctx, "agent-room-a", "john", false)
			_ = h.registry.OnParticipantJoined(ctx, "agent-room-a", "mary", false)
		}},
		{name: "explicit caller absent", caller: "ghost", setup: func(h *harness) {
			_ = h.registry.OnParticipantJoined(ctx, "agent-room-a", "john", false)
		}},
		{name: "explicit caller is agent", caller: "Agent A", setup: func(h *harness) {
			_ = h.registry.OnParticipantJoined(ctx, "agent-room-a", "Agent A", true)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			req := initiateReq()
			req.CallerIdentity = tt.caller
			_, err := h.orch.Initiate(ctx, req)
			assert.True(t, types.IsCode(err, types.ErrNoCallerFound), "got %v", err)
			assert.False(t, h.orch.HasActiveTransfer("agent-room-a"))
		})
	}
}

func TestInitiate_Validation(t *testing.T) {
	h := newHarness(t)
	h.seedRoom(t, "agent-room-a", "Agent A", "john")

	tests := []struct {
		name   string
		mutate func(r *InitiateRequest)
	}{
		{name: "missing source room", mutate: func(r *InitiateRequest) { r.SourceRoom = "" }},
		{name: "malformed source room", mutate: func(r *InitiateRequest) { r.SourceRoom = "room with spaces" }},
		{name: "missing source agent", mutate: func(r *InitiateRequest) { r.SourceAgent = " " }},
		{name: "missing destination agent", mutate: func(r *InitiateRequest) { r.DestinationAgent = "" }},
		{name: "destination is source", mutate: func(r *InitiateRequest) { r.DestinationAgent = "agent a" }},
		{name: "destination has no room", mutate: func(r *InitiateRequest) { r.DestinationAgent = "!!!" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := initiateReq()
			tt.mutate(&req)
			_, err := h.orch.Initiate(context.Background(), req)
			assert.True(t, types.IsCode(err, types.ErrValidation), "got %v", err)
		})
	}
}

func TestInitiate_ConflictOnSameRoom(t *testing.T) {
	g := newGate()
	h := newHarness(t, withSummarizer(g.summarizer("ok")))
	defer g.release()
	h.seedRoom(t, "agent-room-a", "Agent A", "john")

	first, err := h.orch.Initiate(context.Background(), initiateReq())
	require.NoError(t, err)

	req := initiateReq()
	req.DestinationAgent = "Agent C"
	_, err = h.orch.Initiate(context.Background(), req)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConflict))
	assert.Contains(t, err.Error(), first.ID)

	g.release()
	h.waitStatus(t, first.ID, types.TransferSummaryReady)
}

func TestInitiate_ConcurrentExactlyOneWins(t *testing.T) {
	g := newGate()
	h := newHarness(t, withSummarizer(g.summarizer("ok")))
	defer g.release()
	h.seedRoom(t, "agent-room-a", "Agent A", "john")

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.orch.Initiate(context.Background(), initiateReq())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if types.IsCode(err, types.ErrConflict) {
				conflicts++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
	assert.Len(t, h.orch.ListActive(context.Background()), 1)
}

func TestInitiate_IndependentRooms(t *testing.T) {
	h := newHarness(t)
	h.seedRoom(t, "agent-room-a", "Agent A", "john")
	h.seedRoom(t, "agent-room-c", "Agent C", "mary")

	_, err := h.orch.Initiate(context.Background(), initiateReq())
	require.NoError(t, err)
	_, err = h.orch.Initiate(context.Background(), InitiateRequest{
		SourceRoom: "agent-room-c", SourceAgent: "Agent C", DestinationAgent: "Agent B", CallerIdentity: "mary",
	})
	require.NoError(t, err)
}

func TestInitiate_CustomRoomNamer(t *testing.T) {
	h := newHarness(t, withOptions(WithRoomNamer(func(agent string) string {
		return "desk-" + strings.ToLower(strings.ReplaceAll(agent, " ", ""))
	})))
	h.seedRoom(t, "agent-room-a", "Agent A", "john")

	tr, err := h.orch.Initiate(context.Background(), initiateReq())
	require.NoError(t, err)
	assert.Equal(t, "desk-agentb", tr.DestinationRoom)
	assert.Equal(t, "desk-agentb", h.orch.DestinationRoom("Agent B"))
}

// =============================================================================
// 🧪 摘要降级
// =============================================================================

func TestInitiate_SummaryFailureUsesFallback(t *testing.T) {
	h := newHarness(t, withSummarizer(staticSummarizer("", errSummary)))
	h.seedRoom(t, "agent-room-a", "Agent A", "john")

	tr, err := h.orch.Initiate(context.Background(), initiateReq())
	require.NoError(t, err)
	got := h.waitStatus(t, tr.ID, types.TransferSummaryReady)

	assert.NotEmpty(t, got.Summary)
	assert.Contains(t, got.Summary, "john")
	assert.Contains(t, got.Summary, "Agent A")
	assert.Contains(t, got.Summary, "Agent B")
	assert.Contains(t, got.Summary, "Total messages exchanged: 2")
}

func TestInitiate_EmptySummaryUsesFallback(t *testing.T) {
	h := newHarness(t, withSummarizer(staticSummarizer("   ", nil)))
	h.seedRoom(t, "agent-room-a", "Agent A", "john")

	tr, err := h.orch.Initiate(context.Background(), initiateReq())
	require.NoError(t, err)
	got := h.waitStatus(t, tr.ID, types.TransferSummaryReady)
	assert.Contains(t, got.Summary, "Caller's main concern: I was charged twice")
}

func TestInitiate_SummaryTimeoutUsesFallback(t *testing.T) {
	stuck := summary.SummarizerFunc(func(context.Context, []types.Utterance, summary.Context) (string, error) {
		time.Sleep(5 * time.Second)
		return "too late", nil
	})
	h := newHarness(t,
		withSummarizer(stuck),
		withConfig(func(c *config.TransferConfig) { c.SummaryTimeout = 50 * time.Millisecond }))
	h.seedRoom(t, "agent-room-a", "Agent A", "john")

	begin := time.Now()
	tr, err := h.orch.Initiate(context.Background(), initiateReq())
	require.NoError(t, err)
	got := h.waitStatus(t, tr.ID, types.TransferSummaryReady)
	assert.Less(t, time.Since(begin), 2*time.Second)
	assert.Contains(t, got.Summary, "Total messages exchanged")
}

// =============================================================================
// 🧪 房间提供方失败
// =============================================================================

func TestInitiate_CredentialFailureFailsTransfer(t *testing.T) {
	h := newHarness(t)
	h.provider.issueErr = types.NewError(types.ErrExternalService, "livekit down")
	h.seedRoom(t, "agent-room-a", "Agent A", "john")

	tr, err := h.orch.Initiate(context.Background(), initiateReq())
	require.NoError(t, err)
	got := h.waitStatus(t, tr.ID, types.TransferFailed)

	require.NotNil(t, got.Failure)
	assert.Equal(t, types.ErrExternalService, got.Failure.Code)
	assert.NotEmpty(t, got.Summary)
	assert.False(t, h.orch.HasActiveTransfer("agent-room-a"))

	src := eventsOf(h, "agent-room-a")
	require.Len(t, src, 1)
	failed, ok := src[0].(types.FailedEvent)
	require.True(t, ok)
	assert.Equal(t, types.ErrExternalService, failed.Reason.Code)
	assert.Empty(t, eventsOf(h, "agent-room-b"), "destination must not hear about a failed transfer")

	// 槽位已释放，可以重新发起
	h.provider.mu.Lock()
	h.provider.issueErr = nil
	h.provider.mu.Unlock()
	_, err = h.orch.Initiate(context.Background(), initiateReq())
	assert.NoError(t, err)
}

func TestInitiate_CredentialTimeoutFailsTransfer(t *testing.T) {
	h := newHarness(t, withConfig(func(c *config.TransferConfig) { c.CredentialTimeout = 30 * time.Millisecond }))
	h.provider.issueDelay = time.Second
	h.seedRoom(t, "agent-room-a", "Agent A", "john")

	tr, err := h.orch.Initiate(context.Background(), initiateReq())
	require.NoError(t, err)
	got := h.waitStatus(t, tr.ID, types.TransferFailed)
	assert.Equal(t, types.ErrExternalService, got.Failure.Code)
}

func TestInitiate_RoomCreationFailureFailsTransfer(t *testing.T) {
	h := newHarness(t)
	h.provider.createErr = errors.New("cannot create room")
	h.seedRoom(t, "agent-room-a", "Agent A", "john")

	tr, err := h.orch.Initiate(context.Background(), initiateReq())
	require.NoError(t, err)
	got := h.waitStatus(t, tr.ID, types.TransferFailed)
	assert.Contains(t, got.Failure.Message, "cannot create room")
	assert.Zero(t, h.provider.issuedCount(), "credential must not be issued for a missing room")
}

// =============================================================================
// 🧪 查询
// =============================================================================

func TestGetStatus_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.GetStatus(context.Background(), "nope")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestListActive_SortedAndFiltered(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	h := newHarness(t, withOptions(WithClock(clock)))
	h.seedRoom(t, "agent-room-a", "Agent A", "john")
	h.seedRoom(t, "agent-room-c", "Agent C", "mary")
	h.seedRoom(t, "agent-room-d", "Agent D", "sam")

	first, err := h.orch.Initiate(context.Background(), initiateReq())
	require.NoError(t, err)
	second, err := h.orch.Initiate(context.Background(), InitiateRequest{
		SourceRoom: "agent-room-c", SourceAgent: "Agent C", DestinationAgent: "Agent B", CallerIdentity: "mary",
	})
	require.NoError(t, err)
	third, err := h.orch.Initiate(context.Background(), InitiateRequest{
		SourceRoom: "agent-room-d", SourceAgent: "Agent D", DestinationAgent: "Agent B", CallerIdentity: "sam",
	})
	require.NoError(t, err)

	_, err = h.orch.Cancel(context.Background(), second.ID, "")
	require.NoError(t, err)

	active := h.orch.ListActive(context.Background())
	require.Len(t, active, 2)
	assert.Equal(t, first.ID, active[0].ID)
	assert.Equal(t, third.ID, active[1].ID)
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.seedRoom(t, "agent-room-a", "Agent A", "john")
	h.seedRoom(t, "agent-room-c", "Agent C", "mary")

	a, err := h.orch.Initiate(context.Background(), initiateReq())
	require.NoError(t, err)
	h.waitStatus(t, a.ID, types.TransferSummaryReady)
	_, err = h.orch.Complete(context.Background(), CompleteRequest{TransferID: a.ID})
	require.NoError(t, err)

	c, err := h.orch.Initiate(context.Background(), InitiateRequest{
		SourceRoom: "agent-room-c", SourceAgent: "Agent C", DestinationAgent: "Agent B", CallerIdentity: "mary",
	})
	require.NoError(t, err)
	_, err = h.orch.Cancel(context.Background(), c.ID, "caller hung up")
	require.NoError(t, err)

	s := h.orch.Stats(context.Background())
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.Cancelled)
	assert.Equal(t, 0, s.Active)
	assert.InDelta(t, 50.0, s.SuccessRate, 0.001)
}

// =============================================================================
// 🧪 Scenario E：断线重连后通过列表与日志补齐
// =============================================================================

func TestReconnectingSubscriberCatchesUp(t *testing.T) {
	h := newHarness(t)
	h.seedRoom(t, "agent-room-a", "Agent A", "john")

	sub := h.hub.Subscribe("agent-room-b")
	sub.Close()

	tr, err := h.orch.Initiate(context.Background(), initiateReq())
	require.NoError(t, err)
	h.waitAnnounced(t, tr.ID)

	active := h.orch.ListActive(context.Background())
	require.Len(t, active, 1)
	assert.Equal(t, tr.ID, active[0].ID)
	assert.Equal(t, types.TransferSummaryReady, active[0].Status)

	resub, backlog := h.hub.SubscribeSince("agent-room-b", 0, true)
	defer resub.Close()
	require.Len(t, backlog, 1)
	assert.Equal(t, tr.ID, backlog[0].Event.TransferID())
}

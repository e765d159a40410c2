package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/warmtransfer/config"
	"github.com/BaSui01/warmtransfer/registry"
	"github.com/BaSui01/warmtransfer/relay"
	"github.com/BaSui01/warmtransfer/roomprovider"
	"github.com/BaSui01/warmtransfer/summary"
	"github.com/BaSui01/warmtransfer/telephony"
	"github.com/BaSui01/warmtransfer/transcript"
	"github.com/BaSui01/warmtransfer/transfer"
	"github.com/BaSui01/warmtransfer/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧰 测试装置：真实组件 + 本地房间提供方
// =============================================================================

type testAPI struct {
	server      *httptest.Server
	registry    *registry.Registry
	hub         *relay.Hub
	transcripts *transcript.MemoryStore
	provider    *roomprovider.LocalProvider
	orch        *transfer.Orchestrator
}

type apiOption func(*Set)

func withGateway(g telephony.Gateway) apiOption {
	return func(s *Set) { s.Telephony = NewTelephonyHandler(g, nil) }
}

func withSpeaker(sp summary.Speaker) apiOption {
	return func(s *Set) { s.Speech = NewSpeechHandler(sp, time.Second, nil) }
}

func newTestAPI(t *testing.T, opts ...apiOption) *testAPI {
	t.Helper()
	logger := zap.NewNop()

	a := &testAPI{
		registry:    registry.New(logger),
		hub:         relay.NewHub(relay.Options{}),
		transcripts: transcript.NewMemoryStore(0),
	}
	a.provider = roomprovider.NewLocalProvider(roomprovider.TokenSigner{}, logger,
		roomprovider.WithSink(a.registry), roomprovider.WithURL("ws://localhost:7880"))

	orch, err := transfer.New(config.TransferConfig{
		SummaryTimeout:    time.Second,
		CredentialTimeout: time.Second,
		Retention:         time.Hour,
	}, transfer.Deps{
		Registry:    a.registry,
		Summarizer:  summary.FallbackSummarizer{},
		Provider:    a.provider,
		Relay:       a.hub,
		Transcripts: a.transcripts,
	}, logger)
	require.NoError(t, err)
	a.orch = orch

	set := Set{
		Health:    NewHealthHandler(logger),
		Transfer:  NewTransferHandler(orch, a.registry, a.transcripts, logger),
		Agents:    NewAgentsHandler(registry.NewAvailability(a.registry, orch), logger),
		Rooms:     NewRoomsHandler(a.provider, a.transcripts, logger),
		Events:    NewEventsHandler(a.hub, logger, WithPingInterval(50*time.Millisecond)),
		Summary:   NewSummaryHandler(summary.FallbackSummarizer{}, time.Second, logger),
		Speech:    NewSpeechHandler(nil, time.Second, logger),
		Telephony: NewTelephonyHandler(nil, logger),
		Version:   "test",
	}
	for _, opt := range opts {
		opt(&set)
	}
	mux := http.NewServeMux()
	set.Register(mux)
	a.server = httptest.NewServer(mux)

	t.Cleanup(func() {
		a.server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
		a.hub.Close()
	})
	return a
}

type envelope[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data"`
	Error   *ErrorInfo `json:"error"`
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

// join 通过房间接口加入成员，本地提供方签发凭证即视为加入
func (a *testAPI) join(t *testing.T, room, name string, isAgent bool) {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/api/rooms/create", RoomRequest{RoomName: room, ParticipantName: name, IsAgent: isAgent})
	require.Equal(t, http.StatusOK, status, string(body))
}

// seed 准备两个坐席房间，来电者在 A 房间
func (a *testAPI) seed(t *testing.T) {
	t.Helper()
	a.join(t, "agent-room-a", "Agent A", true)
	a.join(t, "agent-room-b", "Agent B", true)
	a.join(t, "agent-room-a", "john", false)
	status, _ := a.do(t, http.MethodPost, "/api/rooms/agent-room-a/transcript", UtteranceRequest{Speaker: "john", Message: "I was charged twice"})
	require.Equal(t, http.StatusOK, status)
	status, _ = a.do(t, http.MethodPost, "/api/rooms/agent-room-a/transcript", UtteranceRequest{Speaker: "Agent A", Message: "Let me get billing", IsAgent: true})
	require.Equal(t, http.StatusOK, status)
}

func (a *testAPI) initiate(t *testing.T) *types.Transfer {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/api/transfer/initiate", transfer.InitiateRequest{
		SourceRoom:       "agent-room-a",
		SourceAgent:      "Agent A",
		DestinationAgent: "Agent B",
		CallerIdentity:   "john",
	})
	require.Equal(t, http.StatusOK, status, string(body))
	env := decode[types.Transfer](t, body)
	require.True(t, env.Success)
	return &env.Data
}

func (a *testAPI) waitStatus(t *testing.T, id string, want ...types.TransferStatus) types.Transfer {
	t.Helper()
	var got types.Transfer
	require.Eventually(t, func() bool {
		status, body := a.do(t, http.MethodGet, "/api/transfer/"+id, nil)
		if status != http.StatusOK {
			return false
		}
		got = decode[types.Transfer](t, body).Data
		for _, w := range want {
			if got.Status == w {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	return got
}

// waitEvent 轮询房间日志直到出现指定类型的事件
func (a *testAPI) waitEvent(t *testing.T, room string, typ types.EventType) {
	t.Helper()
	require.Eventually(t, func() bool {
		entries, _ := a.hub.Since(room, 0)
		for _, e := range entries {
			if e.Event.Type() == typ {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

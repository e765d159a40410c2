package livekit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/warmtransfer/roomprovider"
	"github.com/BaSui01/warmtransfer/types"
	lkproto "github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

var verifier = roomprovider.TokenSigner{APIKey: "key", APISecret: "secret"}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	url := "ws://" + strings.TrimPrefix(srv.URL, "http://")
	return New(Config{URL: url, APIKey: "key", APISecret: "secret", TokenTTL: time.Hour}, nil)
}

// readProto 解析 Twirp protobuf 请求体
func readProto(t *testing.T, r *http.Request, msg proto.Message) {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	require.NoError(t, proto.Unmarshal(data, msg))
}

func writeProto(t *testing.T, w http.ResponseWriter, msg proto.Message) {
	t.Helper()
	data, err := proto.Marshal(msg)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/protobuf")
	_, _ = w.Write(data)
}

func writeTwirpError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"code":"` + code + `","msg":"` + msg + `"}`))
}

func TestAPIBase(t *testing.T) {
	assert.Equal(t, "https://lk.example.com", APIBase("wss://lk.example.com/"))
	assert.Equal(t, "http://localhost:7880", APIBase("ws://localhost:7880"))
	assert.Equal(t, "https://lk.example.com", APIBase("https://lk.example.com"))
}

func TestClient_CreateOrJoinRoom(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/twirp/livekit.RoomService/CreateRoom", r.URL.Path)

		claims, err := verifier.Verify(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		require.NoError(t, err)
		require.NotNil(t, claims.Video)
		assert.True(t, claims.Video.RoomCreate)

		var req lkproto.CreateRoomRequest
		readProto(t, r, &req)
		assert.Equal(t, "agent-room-b", req.GetName())
		writeProto(t, w, &lkproto.Room{Sid: "RM_123", Name: req.GetName()})
	})

	h, err := c.CreateOrJoinRoom(context.Background(), "agent-room-b")
	require.NoError(t, err)
	assert.Equal(t, "agent-room-b", h.Name)
	assert.True(t, strings.HasPrefix(h.URL, "ws://"))
}

func TestClient_CreateOrJoinRoom_Failure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeTwirpError(w, http.StatusInternalServerError, "internal", "boom")
	})

	_, err := c.CreateOrJoinRoom(context.Background(), "agent-room-b")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrExternalService))
	assert.Contains(t, err.Error(), "boom")
	assert.True(t, types.IsRetryable(err))
}

func TestClient_RemoveParticipant(t *testing.T) {
	var got lkproto.RoomParticipantIdentity
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/twirp/livekit.RoomService/RemoveParticipant", r.URL.Path)

		claims, err := verifier.Verify(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		require.NoError(t, err)
		require.NotNil(t, claims.Video)
		assert.True(t, claims.Video.RoomAdmin)
		assert.Equal(t, "room-a", claims.Video.Room)

		readProto(t, r, &got)
		writeProto(t, w, &lkproto.RemoveParticipantResponse{})
	})

	require.NoError(t, c.RemoveParticipant(context.Background(), "room-a", "Agent A"))
	assert.Equal(t, "room-a", got.GetRoom())
	assert.Equal(t, "Agent A", got.GetIdentity())
}

func TestClient_RemoveParticipant_NotFoundIsSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeTwirpError(w, http.StatusNotFound, "not_found", "participant not found")
	})
	assert.NoError(t, c.RemoveParticipant(context.Background(), "room-a", "ghost"))
}

func TestClient_RemoveParticipant_PermissionDenied(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeTwirpError(w, http.StatusForbidden, "permission_denied", "no admin grant")
	})
	err := c.RemoveParticipant(context.Background(), "room-a", "Agent A")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrExternalService))
	assert.False(t, types.IsRetryable(err))
}

func TestClient_IssueAdmissionCredential(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("credential issuance must not call the server")
	})

	t.Run("caller", func(t *testing.T) {
		cred, err := c.IssueAdmissionCredential(context.Background(), "agent-room-b", "caller-1", false)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(cred.URL, "ws://"))
		assert.WithinDuration(t, time.Now().Add(time.Hour), cred.ExpiresAt, 5*time.Second)

		claims, err := verifier.Verify(cred.Token)
		require.NoError(t, err)
		assert.Equal(t, "caller-1", claims.Subject)
		assert.Equal(t, "agent-room-b", claims.Video.Room)
		assert.True(t, claims.Video.RoomJoin)
		assert.False(t, claims.Video.RoomAdmin)
		assert.False(t, claims.IsAgent())
	})

	t.Run("agent", func(t *testing.T) {
		cred, err := c.IssueAdmissionCredential(context.Background(), "agent-room-b", "Agent B", true)
		require.NoError(t, err)

		claims, err := verifier.Verify(cred.Token)
		require.NoError(t, err)
		assert.True(t, claims.Video.RoomAdmin)
		require.NotNil(t, claims.Video.CanUpdateOwnMetadata)
		assert.True(t, *claims.Video.CanUpdateOwnMetadata)
		assert.True(t, claims.IsAgent())
	})

	t.Run("invalid identity", func(t *testing.T) {
		_, err := c.IssueAdmissionCredential(context.Background(), "agent-room-b", "", false)
		assert.True(t, types.IsCode(err, types.ErrValidation))
	})
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{URL: url, APIKey: "key", APISecret: "secret"}, nil)
	_, err := c.CreateOrJoinRoom(context.Background(), "room-a")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrExternalService))
	assert.True(t, types.IsRetryable(err))
}

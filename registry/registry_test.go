package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type busyRooms map[string]bool

func (b busyRooms) HasActiveTransfer(room string) bool       { return b[room] }
func (b busyRooms) HasActiveTransferFrom(agent string) bool { return b["from:"+agent] }

func TestRegistry_AgentSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := New(nil)

	require.NoError(t, reg.OnParticipantJoined(ctx, "agent-room-a", "Agent A", true))
	s, ok := reg.Agent(ctx, "Agent A")
	require.True(t, ok)
	assert.Equal(t, "agent-room-a", s.RoomName)

	// 重复加入不改变会话
	require.NoError(t, reg.OnParticipantJoined(ctx, "agent-room-a", "Agent A", true))
	s2, _ := reg.Agent(ctx, "Agent A")
	assert.Equal(t, s.ConnectedSince, s2.ConnectedSince)

	require.NoError(t, reg.OnParticipantLeft(ctx, "agent-room-a", "Agent A"))
	_, ok = reg.Agent(ctx, "Agent A")
	assert.False(t, ok)

	// 重复离开无副作用
	require.NoError(t, reg.OnParticipantLeft(ctx, "agent-room-a", "Agent A"))
}

func TestRegistry_AgentLeavingOtherRoomKeepsSession(t *testing.T) {
	ctx := context.Background()
	reg := New(nil)

	require.NoError(t, reg.OnParticipantJoined(ctx, "agent-room-a", "Agent A", true))
	require.NoError(t, reg.OnParticipantJoined(ctx, "agent-room-b", "Agent A", true))
	require.NoError(t, reg.OnParticipantLeft(ctx, "agent-room-b", "Agent A"))

	s, ok := reg.Agent(ctx, "Agent A")
	require.True(t, ok)
	assert.Equal(t, "agent-room-a", s.RoomName)
}

func TestRegistry_FindCaller(t *testing.T) {
	ctx := context.Background()
	reg := New(nil)

	_, ok := reg.FindCaller(ctx, "agent-room-a")
	assert.False(t, ok, "empty room")

	require.NoError(t, reg.OnParticipantJoined(ctx, "agent-room-a", "Agent A", true))
	_, ok = reg.FindCaller(ctx, "agent-room-a")
	assert.False(t, ok, "agent only")

	require.NoError(t, reg.OnParticipantJoined(ctx, "agent-room-a", "caller-1", false))
	caller, ok := reg.FindCaller(ctx, "agent-room-a")
	assert.True(t, ok)
	assert.Equal(t, "caller-1", caller)
	assert.True(t, reg.IsCaller(ctx, "agent-room-a", "caller-1"))
	assert.False(t, reg.IsCaller(ctx, "agent-room-a", "Agent A"))
	assert.True(t, reg.IsMember(ctx, "agent-room-a", "Agent A"))
	assert.False(t, reg.IsMember(ctx, "agent-room-b", "Agent A"))

	require.NoError(t, reg.OnParticipantJoined(ctx, "agent-room-a", "caller-2", false))
	_, ok = reg.FindCaller(ctx, "agent-room-a")
	assert.False(t, ok, "ambiguous callers")
}

func TestRegistry_Validation(t *testing.T) {
	reg := New(nil)
	assert.Error(t, reg.OnParticipantJoined(context.Background(), "", "x", false))
	assert.Error(t, reg.OnParticipantLeft(context.Background(), "room", ""))
}

func TestAvailability(t *testing.T) {
	ctx := context.Background()
	reg := New(nil)
	require.NoError(t, reg.OnParticipantJoined(ctx, "agent-room-a", "Agent A", true))
	require.NoError(t, reg.OnParticipantJoined(ctx, "agent-room-b", "Agent B", true))
	require.NoError(t, reg.OnParticipantJoined(ctx, "agent-room-c", "Agent C", true))

	avail := NewAvailability(reg, busyRooms{"agent-room-b": true})
	names, err := avail.AvailableAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Agent A", "Agent C"}, names)

	snap, err := avail.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 3)
	assert.False(t, snap[1].Available)

	all, err := NewAvailability(reg, nil).AvailableAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAvailability_SourceAgentOutsideSessionRoom(t *testing.T) {
	ctx := context.Background()
	reg := New(nil)
	// 会话绑定在首次加入的 lobby，转接从 agent-room-a 发起
	require.NoError(t, reg.OnParticipantJoined(ctx, "lobby", "Agent A", true))
	require.NoError(t, reg.OnParticipantJoined(ctx, "agent-room-a", "Agent A", true))
	require.NoError(t, reg.OnParticipantJoined(ctx, "agent-room-b", "Agent B", true))

	s, ok := reg.Agent(ctx, "Agent A")
	require.True(t, ok)
	require.Equal(t, "lobby", s.RoomName)

	avail := NewAvailability(reg, busyRooms{"agent-room-a": true, "from:Agent A": true})
	names, err := avail.AvailableAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Agent B"}, names)
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	ctx := context.Background()
	reg := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room := fmt.Sprintf("room-%d", i%4)
			id := fmt.Sprintf("caller-%d", i)
			_ = reg.OnParticipantJoined(ctx, room, id, false)
			_ = reg.OnParticipantJoined(ctx, room, id, false)
			_ = reg.OnParticipantLeft(ctx, room, id)
		}(i)
	}
	wg.Wait()

	rooms, err := reg.Rooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

// 任意加入/离开序列之后：每个坐席会话对应其房间中的坐席成员；
// FindCaller 成功当且仅当房间恰有一个非坐席成员。
func TestRegistry_EventSequenceProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		reg := New(nil)
		rooms := []string{"agent-room-a", "agent-room-b"}
		agents := []string{"Agent A", "Agent B"}
		callers := []string{"c1", "c2"}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			room := rapid.SampledFrom(rooms).Draw(t, "room")
			isAgent := rapid.Bool().Draw(t, "isAgent")
			id := rapid.SampledFrom(callers).Draw(t, "caller")
			if isAgent {
				id = rapid.SampledFrom(agents).Draw(t, "agent")
			}
			if rapid.Bool().Draw(t, "join") {
				_ = reg.OnParticipantJoined(ctx, room, id, isAgent)
			} else {
				_ = reg.OnParticipantLeft(ctx, room, id)
			}
		}

		sessions, err := reg.AgentSessions(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		for _, s := range sessions {
			members, _ := reg.Members(ctx, s.RoomName)
			found := false
			for _, m := range members {
				if m.Identity == s.Name && m.IsAgent {
					found = true
				}
			}
			if !found {
				t.Fatalf("session %s without membership in %s", s.Name, s.RoomName)
			}
		}

		for _, room := range rooms {
			members, _ := reg.Members(ctx, room)
			nonAgents := 0
			for _, m := range members {
				if !m.IsAgent {
					nonAgents++
				}
			}
			_, ok := reg.FindCaller(ctx, room)
			if ok != (nonAgents == 1) {
				t.Fatalf("FindCaller=%v with %d non-agent members", ok, nonAgents)
			}
		}
	})
}

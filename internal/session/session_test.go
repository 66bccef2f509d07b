package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshchat/meshchat/internal/core"
	"github.com/meshchat/meshchat/internal/domain"
	"github.com/meshchat/meshchat/internal/protocol"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func startHost(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport("R1")
	host, err := New(testConfig(), tr, nil, nil, testProfile("h1", "Host"))
	require.NoError(t, err)
	room, err := host.CreateRoom(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.RoomID("R1"), room)
	require.Equal(t, domain.StatusConnected, host.Status())
	t.Cleanup(host.Close)
	return host, tr
}

func joinGuest(t *testing.T, hostTr *fakeTransport, id, name string) (*Session, *fakeTransport) {
	t.Helper()
	hostSide, guestSide := newConnPair()
	tr := newFakeTransport("")
	tr.script = []dialStep{{conn: guestSide}}
	guest, err := New(testConfig(), tr, nil, nil, testProfile(id, name))
	require.NoError(t, err)
	hostTr.accept <- hostSide
	guest.JoinRoom(context.Background(), "R1")
	require.Eventually(t, func() bool {
		return guest.Status() == domain.StatusConnected
	}, waitFor, tick, "guest never reached Connected")
	t.Cleanup(guest.Close)
	return guest, tr
}

func logBodies(s *Session) []string {
	snap := s.Snapshot()
	out := make([]string, 0, len(snap.Log))
	for _, m := range snap.Log {
		out = append(out, m.Body)
	}
	return out
}

func TestCreateRoomRegistrationFailureIsFatal(t *testing.T) {
	tr := newFakeTransport("R1")
	tr.listenErr = errors.New("signaling unavailable")
	host, err := New(testConfig(), tr, nil, nil, testProfile("h1", "Host"))
	require.NoError(t, err)

	_, err = host.CreateRoom(context.Background())
	assert.Error(t, err)
	snap := host.Snapshot()
	assert.Equal(t, domain.StatusError, snap.Status)
	assert.Contains(t, snap.LastError, "registration failed")
}

func TestGuestAdmission(t *testing.T) {
	host, hostTr := startHost(t)
	guest, _ := joinGuest(t, hostTr, "g1", "Ann")

	// Host roster: [Host, Ann].
	snap := host.Snapshot()
	require.Len(t, snap.Roster, 2)
	assert.NotNil(t, snap.FindParticipant("g1"))

	// Exactly one join notice, replayed to the guest as history.
	require.Eventually(t, func() bool {
		return len(guest.Snapshot().Log) == 1
	}, waitFor, tick, "guest never received history")
	gsnap := guest.Snapshot()
	assert.Equal(t, domain.KindSystem, gsnap.Log[0].Kind)
	assert.Equal(t, "Ann joined the room.", gsnap.Log[0].Body)
	require.Len(t, gsnap.Roster, 2)
}

func TestRelayEchoIsDiscarded(t *testing.T) {
	host, hostTr := startHost(t)
	guest, _ := joinGuest(t, hostTr, "g1", "Ann")
	require.Eventually(t, func() bool { return len(guest.Snapshot().Log) == 1 }, waitFor, tick)

	msg := guest.SendText("hello")

	// The host relays back to the originator; the guest's own dedup
	// cache discards the echo, so the log grows by exactly one.
	require.Eventually(t, func() bool {
		return len(host.Snapshot().Log) == 2
	}, waitFor, tick, "host never relayed the message")
	assert.Contains(t, logBodies(host), "hello")

	// Give the echo time to arrive and be discarded.
	time.Sleep(50 * time.Millisecond)
	gsnap := guest.Snapshot()
	require.Len(t, gsnap.Log, 2)
	assert.Equal(t, msg.ID, gsnap.Log[1].ID)
}

func TestRelayBetweenGuests(t *testing.T) {
	host, hostTr := startHost(t)
	ann, _ := joinGuest(t, hostTr, "g1", "Ann")
	bob, _ := joinGuest(t, hostTr, "g2", "Bob")
	require.Eventually(t, func() bool { return len(bob.Snapshot().Log) == 2 }, waitFor, tick)

	ann.SendText("hi from ann")
	require.Eventually(t, func() bool {
		for _, b := range logBodies(bob) {
			if b == "hi from ann" {
				return true
			}
		}
		return false
	}, waitFor, tick, "message never crossed the star")
	assert.Contains(t, logBodies(host), "hi from ann")
}

func TestHistoryReplayToLateJoiner(t *testing.T) {
	host, hostTr := startHost(t)
	ann, _ := joinGuest(t, hostTr, "g1", "Ann")
	require.Eventually(t, func() bool { return len(ann.Snapshot().Log) == 1 }, waitFor, tick)

	// Build up a log larger than one chunk (chunk size 2 in testConfig).
	for _, body := range []string{"one", "two", "three", "four", "five"} {
		ann.SendText(body)
	}
	require.Eventually(t, func() bool { return len(host.Snapshot().Log) == 6 }, waitFor, tick)

	late, _ := joinGuest(t, hostTr, "g2", "Bob")
	require.Eventually(t, func() bool {
		return len(late.Snapshot().Log) == 7 // 5 chats + 2 join notices
	}, waitFor, tick, "late joiner never got the full history")

	// Replayed log is ordered by creation time.
	snap := late.Snapshot()
	for i := 1; i < len(snap.Log); i++ {
		assert.False(t, snap.Log[i].CreatedAt.Before(snap.Log[i-1].CreatedAt))
	}
}

func TestDisconnectProducesExactlyOneRosterDelta(t *testing.T) {
	host, hostTr := startHost(t)
	guest, _ := joinGuest(t, hostTr, "g1", "Ann")
	require.Eventually(t, func() bool { return len(guest.Snapshot().Log) == 1 }, waitFor, tick)

	before := host.Snapshot()
	require.Len(t, before.Roster, 2)

	guest.Close()
	// fakeTransport.Close does not close conns; close the guest side
	// explicitly the way a dropped peer link would.
	guest.hostConn.Close()

	require.Eventually(t, func() bool {
		return len(host.Snapshot().Roster) == 1
	}, waitFor, tick, "roster never shrank")

	time.Sleep(50 * time.Millisecond)
	snap := host.Snapshot()
	require.Len(t, snap.Roster, 1)
	assert.Equal(t, domain.ParticipantID("h1"), snap.Roster[0].ID)

	departures := 0
	for _, m := range snap.Log {
		if m.Kind == domain.KindSystem && m.Body == "Ann left the room." {
			departures++
		}
	}
	assert.Equal(t, 1, departures, "expected exactly one departure notice")
}

func TestRedialSupersedesStaleConnection(t *testing.T) {
	host, hostTr := startHost(t)

	p, err := domain.NewParticipant("g1", "Ann", "#abc", domain.RoleGuest)
	require.NoError(t, err)

	hostSideA, guestSideA := newConnPair()
	hostTr.accept <- hostSideA
	require.NoError(t, guestSideA.Send(protocol.MustNew(protocol.Handshake{Participant: *p})))
	require.Eventually(t, func() bool {
		return len(host.Snapshot().Roster) == 2
	}, waitFor, tick, "first handshake never admitted")

	// Redial within the session: same participant id, new connection.
	hostSideB, guestSideB := newConnPair()
	hostTr.accept <- hostSideB
	require.NoError(t, guestSideB.Send(protocol.MustNew(protocol.Handshake{Participant: *p})))
	require.Eventually(t, func() bool {
		return host.reg.Count() == 1
	}, waitFor, tick, "stale connection never superseded")

	// The stale connection's close must not touch the live participant.
	guestSideA.Close()
	time.Sleep(50 * time.Millisecond)
	snap := host.Snapshot()
	require.Len(t, snap.Roster, 2)
	assert.NotNil(t, snap.FindParticipant("g1"))
	for _, m := range snap.Log {
		assert.NotEqual(t, "Ann left the room.", m.Body)
	}

	// Closing the live connection produces exactly one departure.
	guestSideB.Close()
	require.Eventually(t, func() bool {
		return len(host.Snapshot().Roster) == 1
	}, waitFor, tick)
	departures := 0
	final := host.Snapshot()
	for _, m := range final.Log {
		if m.Body == "Ann left the room." {
			departures++
		}
	}
	assert.Equal(t, 1, departures)
}

func TestGuestLosingHostIsTerminal(t *testing.T) {
	_, hostTr := startHost(t)
	guest, _ := joinGuest(t, hostTr, "g1", "Ann")

	guest.hostConn.Close()
	require.Eventually(t, func() bool {
		return guest.Status() == domain.StatusError
	}, waitFor, tick)
	assert.Contains(t, guest.Snapshot().LastError, "host left")
}

func TestEvictionTerminality(t *testing.T) {
	host, hostTr := startHost(t)
	guest, guestTr := joinGuest(t, hostTr, "g1", "Ann")
	require.Eventually(t, func() bool { return len(guest.Snapshot().Log) == 1 }, waitFor, tick)

	host.Evict("g1", "spamming")

	require.Eventually(t, func() bool {
		return guest.Status() == domain.StatusKicked
	}, waitFor, tick, "guest never saw the eviction")
	assert.Contains(t, guest.Snapshot().LastError, "spamming")

	// Host applied the removal without waiting on the round trip.
	require.Eventually(t, func() bool {
		return len(host.Snapshot().Roster) == 1
	}, waitFor, tick)
	assert.Contains(t, logBodies(host), "Ann was removed from the room.")

	// Kicked is terminal: no automatic rejoin is ever attempted.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, guestTr.dialCount())
	assert.Equal(t, domain.StatusKicked, guest.Status())
}

func TestJoinRetryBound(t *testing.T) {
	tr := newFakeTransport("")
	// Empty script: every dial reports room-not-found.
	guest, err := New(testConfig(), tr, nil, nil, testProfile("g1", "Ann"))
	require.NoError(t, err)

	guest.JoinRoom(context.Background(), "R-missing")
	require.Eventually(t, func() bool {
		return guest.Status() == domain.StatusError
	}, waitFor, tick)

	// Initial attempt plus three bounded retries, then fatal.
	assert.Equal(t, 4, tr.dialCount())
	assert.Contains(t, guest.Snapshot().LastError, "room not found")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, tr.dialCount(), "no automatic retry after the bound")
}

func TestDialCollisionIsFatalWithoutRetry(t *testing.T) {
	tr := newFakeTransport("")
	tr.script = []dialStep{{err: core.ErrIDCollision}}
	guest, err := New(testConfig(), tr, nil, nil, testProfile("g1", "Ann"))
	require.NoError(t, err)

	guest.JoinRoom(context.Background(), "R1")
	require.Eventually(t, func() bool {
		return guest.Status() == domain.StatusError
	}, waitFor, tick)
	assert.Equal(t, 1, tr.dialCount())
	assert.Contains(t, guest.Snapshot().LastError, "collision")
}

func TestSupervisorReconnectsSignaling(t *testing.T) {
	tr := newFakeTransport("R1")
	sig := &fakeSignaler{up: true}
	host, err := New(testConfig(), tr, sig, nil, testProfile("h1", "Host"))
	require.NoError(t, err)
	_, err = host.CreateRoom(context.Background())
	require.NoError(t, err)
	t.Cleanup(host.Close)

	sig.mu.Lock()
	sig.up = false
	sig.mu.Unlock()

	require.Eventually(t, func() bool {
		sig.mu.Lock()
		defer sig.mu.Unlock()
		return sig.reconnects >= 1 && sig.up
	}, waitFor, tick, "supervisor never reconnected the signaling link")
}

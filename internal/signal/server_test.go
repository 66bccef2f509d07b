package signal_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshchat/meshchat/internal/config"
	"github.com/meshchat/meshchat/internal/core"
	"github.com/meshchat/meshchat/internal/signal"
	"github.com/meshchat/meshchat/internal/transport/signalclient"
)

func startSignald(t *testing.T) (*signal.Server, string) {
	t.Helper()
	srv := signal.NewServer()
	cfg := &config.Config{Mode: "release", Secret: "test-secret"}
	router := signal.SetupRouter(context.Background(), cfg, srv)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/signal"
	return srv, wsURL
}

func connect(t *testing.T, url string) *signalclient.Client {
	t.Helper()
	c := signalclient.New(url)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func TestRegisterAssignsRoom(t *testing.T) {
	srv, url := startSignald(t)
	host := connect(t, url)

	room, err := host.Register(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, room)
	assert.True(t, srv.RoomExists(room))
	assert.True(t, host.Connected())
}

func TestOfferAnswerRoundTrip(t *testing.T) {
	_, url := startSignald(t)
	host := connect(t, url)
	host.SetOfferHandler(func(offerSDP string) (string, error) {
		assert.Equal(t, "offer-sdp", offerSDP)
		return "answer-sdp", nil
	})
	room, err := host.Register(context.Background(), "")
	require.NoError(t, err)

	guest := connect(t, url)
	answer, err := guest.Offer(context.Background(), room, "offer-sdp")
	require.NoError(t, err)
	assert.Equal(t, "answer-sdp", answer)
}

func TestOfferUnknownRoom(t *testing.T) {
	_, url := startSignald(t)
	guest := connect(t, url)

	_, err := guest.Offer(context.Background(), "no-such-room", "offer-sdp")
	assert.ErrorIs(t, err, core.ErrRoomNotFound)
}

func TestRegisterCollision(t *testing.T) {
	_, url := startSignald(t)
	a := connect(t, url)
	room, err := a.Register(context.Background(), "")
	require.NoError(t, err)

	b := connect(t, url)
	_, err = b.Register(context.Background(), room)
	assert.ErrorIs(t, err, core.ErrIDCollision)
}

func TestRoomDroppedWithHostSocket(t *testing.T) {
	srv, url := startSignald(t)
	host := connect(t, url)
	room, err := host.Register(context.Background(), "")
	require.NoError(t, err)

	host.Close()
	require.Eventually(t, func() bool {
		return !srv.RoomExists(room)
	}, 2*time.Second, 10*time.Millisecond, "room outlived its host socket")

	guest := connect(t, url)
	_, err = guest.Offer(context.Background(), room, "offer-sdp")
	assert.ErrorIs(t, err, core.ErrRoomNotFound)
}

func TestReconnectReclaimsRoom(t *testing.T) {
	srv, url := startSignald(t)
	host := connect(t, url)
	room, err := host.Register(context.Background(), "")
	require.NoError(t, err)

	// Simulate a signaling drop, then the supervisor's reconnect.
	host.Close()
	require.Eventually(t, func() bool { return !srv.RoomExists(room) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, host.Reconnect(context.Background()))
	assert.True(t, host.Connected())
	assert.True(t, srv.RoomExists(room), "reconnect should reclaim the published room")
}

package rtc

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/meshchat/meshchat/internal/core"
	"github.com/meshchat/meshchat/internal/domain"
	"github.com/meshchat/meshchat/internal/transport/signalclient"
)

const channelLabel = "chat"

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Transport implements core.Transport over WebRTC data channels with
// the rendezvous service for offer/answer exchange. Both sides gather
// ICE before sending their description, so no candidate trickling
// crosses the signaling link.
type Transport struct {
	sig    *signalclient.Client
	cfg    webrtc.Configuration
	accept chan core.Connection
}

func NewTransport(sig *signalclient.Client) *Transport {
	return &Transport{
		sig:    sig,
		cfg:    DefaultWebRTCConfig(),
		accept: make(chan core.Connection, 8),
	}
}

// Signaler exposes the rendezvous link for the reconnection
// supervisor.
func (t *Transport) Signaler() core.Signaler { return t.sig }

func (t *Transport) Listen(ctx context.Context) (domain.RoomID, <-chan core.Connection, error) {
	if err := t.sig.Connect(ctx); err != nil {
		return "", nil, err
	}
	t.sig.SetOfferHandler(t.answerOffer)
	room, err := t.sig.Register(ctx, "")
	if err != nil {
		return "", nil, err
	}
	return room, t.accept, nil
}

// answerOffer handles one inbound dial: build the peer connection,
// apply the guest's offer and return a fully gathered answer. The
// connection surfaces on the accept channel once the guest's data
// channel opens.
func (t *Transport) answerOffer(offerSDP string) (string, error) {
	pc, err := webrtc.NewPeerConnection(t.cfg)
	if err != nil {
		return "", fmt.Errorf("new peer connection: %w", err)
	}
	conn := newConn(pc, "guest")

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		conn.bind(dc)
		select {
		case t.accept <- conn:
		default:
			log.Warn().Str("module", "rtc").Msg("accept queue full, connection dropped")
			conn.Close()
		}
	})

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		conn.Close()
		return "", fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		conn.Close()
		return "", fmt.Errorf("set local answer: %w", err)
	}
	<-gatherComplete

	return pc.LocalDescription().SDP, nil
}

func (t *Transport) Dial(ctx context.Context, room domain.RoomID) (core.Connection, error) {
	if !t.sig.Connected() {
		if err := t.sig.Connect(ctx); err != nil {
			return nil, err
		}
	}

	pc, err := webrtc.NewPeerConnection(t.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	conn := newConn(pc, string(room))

	dc, err := pc.CreateDataChannel(channelLabel, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	conn.bind(dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	<-gatherComplete

	answerSDP, err := t.sig.Offer(ctx, room, pc.LocalDescription().SDP)
	if err != nil {
		conn.Close()
		return nil, err
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set remote answer: %w", err)
	}

	select {
	case <-conn.opened:
		return conn, nil
	case <-conn.closed:
		return nil, fmt.Errorf("peer connection failed during dial")
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	}
}

func (t *Transport) Close() {
	t.sig.Close()
}

package p2p

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"
)

// Peer wraps a single pion PeerConnection between the two session
// participants. Unlike the teacher's PeerManager (one browser-facing
// relay fanning out to many senders), a sync session is exactly two
// symmetric peers, so Peer owns a single PeerConnection and a single
// "sync" data channel — generalized from PeerManager.HandleOffer's
// offer/answer/ICE-gather shape.
type Peer struct {
	pc        *webrtc.PeerConnection
	dc        *webrtc.DataChannel
	log       *slog.Logger
	transport *Transport
}

// Config carries the ICE servers and the local role (initiator creates the
// data channel; the initiator is the participant with the lexicographically
// smaller session-assigned id, per spec.md §4.7).
type Config struct {
	ICEServers []webrtc.ICEServer
	Initiator  bool
}

// NewPeer creates the underlying PeerConnection and, if Initiator, the
// "sync" data channel. Non-initiators register an OnDataChannel callback
// and wait for the remote-created channel instead.
func NewPeer(cfg Config, transport *Transport, log *slog.Logger) (*Peer, error) {
	if log == nil {
		log = slog.Default()
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("p2p: new peer connection: %w", err)
	}

	p := &Peer{pc: pc, log: log, transport: transport}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info("p2p: connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateDisconnected:
			transport.Pause(time.Now())
		case webrtc.PeerConnectionStateFailed:
			transport.Detach()
			transport.Pause(time.Now())
		case webrtc.PeerConnectionStateConnected:
			transport.Resume()
		}
	})

	if cfg.Initiator {
		dc, err := pc.CreateDataChannel("sync", nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("p2p: create data channel: %w", err)
		}
		p.wireDataChannel(dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			p.wireDataChannel(dc)
		})
	}

	return p, nil
}

func (p *Peer) wireDataChannel(dc *webrtc.DataChannel) {
	p.dc = dc
	dc.OnOpen(func() {
		p.transport.Attach(pionChannel{dc})
		p.transport.Resume()
	})
	dc.OnClose(func() {
		p.transport.Detach()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if err := p.transport.HandleMessage(msg.Data, time.Now(), nil); err != nil {
			p.log.Warn("p2p: dropping malformed message", "err", err)
		}
	})
}

// pionChannel adapts *webrtc.DataChannel to the DataChannel interface.
type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c pionChannel) Send(data []byte) error {
	return c.dc.Send(data)
}

// CreateOffer generates a local offer SDP and blocks until ICE gathering
// completes, returning the complete SDP (candidates embedded), matching
// the teacher's HandleOffer gather-then-return pattern.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("p2p: create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("p2p: set local description: %w", err)
	}
	<-gatherComplete
	local := p.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("p2p: no local description after ICE gathering")
	}
	return local.SDP, nil
}

// CreateAnswer accepts a remote offer and returns the local answer SDP,
// again blocking until ICE gathering completes.
func (p *Peer) CreateAnswer(remoteSDP string) (string, error) {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: remoteSDP}); err != nil {
		return "", fmt.Errorf("p2p: set remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("p2p: create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("p2p: set local description: %w", err)
	}
	<-gatherComplete
	local := p.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("p2p: no local description after ICE gathering")
	}
	return local.SDP, nil
}

// AcceptAnswer completes the initiator side of the handshake once the
// remote answer SDP arrives via signaling.
func (p *Peer) AcceptAnswer(remoteSDP string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: remoteSDP})
}

// AddICECandidate relays one trickled ICE candidate from signaling.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// Restart triggers ICE-restart-class renegotiation: the deterministic
// initiator creates a fresh offer with an ICE restart flag set.
func (p *Peer) Restart() (string, error) {
	offer, err := p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return "", fmt.Errorf("p2p: create restart offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("p2p: set local description for restart: %w", err)
	}
	<-gatherComplete
	local := p.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("p2p: no local description after restart gathering")
	}
	return local.SDP, nil
}

// Close tears down the peer connection.
func (p *Peer) Close() error {
	return p.pc.Close()
}
